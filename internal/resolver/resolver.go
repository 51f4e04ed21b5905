// 包 resolver：单地址归属地解析的编排层
// 背景：缓存 → 主提供商 → 有序降级链 → 回写缓存；注册表与可变配置由编排器独占持有
// 约束：降级严格串行，保证单次 resolve 的出站调用量有上界且遵守配置优先级；
// 对调用方唯一会抛出的失败是配额信号，其余内部失败一律降级为“未知”
package resolver

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"dmarc-geo/internal/cache"
	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/logger"
	"dmarc-geo/internal/metrics"
	"dmarc-geo/internal/provider"
	"dmarc-geo/internal/quota"
)

// Config：编排层可变配置
type Config struct {
	Primary             string
	Fallbacks           []string
	Credentials         map[string]string
	CacheEnabled        bool
	CacheExpirationDays int
}

// ConfigUpdate：部分更新；nil 字段表示保持现值
type ConfigUpdate struct {
	Primary             *string
	Fallbacks           []string
	Credentials         map[string]string
	CacheEnabled        *bool
	CacheExpirationDays *int
}

// Orchestrator：持有提供商注册表、配置与缓存句柄
// 约束：单进程内一个长生命周期实例；不做跨进程配额协调
type Orchestrator struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
	cfg       Config
	cache     cache.Cache
	client    *http.Client
	group     singleflight.Group
	now       func() time.Time
}

// New：注册四个远程提供商（免密钥者直接可用，其余以免费档注册）并装载默认配置
// 本地库提供商依赖数据文件，由入口在 Register 中按需挂载
func New(c cache.Cache, client *http.Client) *Orchestrator {
	o := &Orchestrator{
		providers: make(map[string]provider.Provider),
		cache:     c,
		client:    client,
		now:       time.Now,
		cfg: Config{
			Primary:             provider.IPAPIName,
			Fallbacks:           []string{provider.IPAPICoName, provider.IPWhoisName, provider.MaxMindName},
			Credentials:         make(map[string]string),
			CacheEnabled:        true,
			CacheExpirationDays: 30,
		},
	}
	o.Register(provider.NewIPAPI(client))
	o.Register(provider.NewIPAPICo("", client))
	o.Register(provider.NewIPGeolocation("", false, client))
	o.Register(provider.NewIPWhois("", client))
	return o
}

// Register：登记或替换一个提供商实例
func (o *Orchestrator) Register(p provider.Provider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.providers[p.Name()] = p
	logger.L().Info("provider_registered", "name", p.Name(), "limits", p.QuotaInfo())
}

// Configure：合并部分配置
// 背景：密钥可能在运行期才补齐；新密钥到位时按不限额重建该提供商实例（延迟绑定），
// 未配置密钥的提供商保持免费档注册状态
func (o *Orchestrator) Configure(u ConfigUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if u.Primary != nil {
		o.cfg.Primary = *u.Primary
	}
	if u.Fallbacks != nil {
		o.cfg.Fallbacks = append([]string(nil), u.Fallbacks...)
	}
	if u.CacheEnabled != nil {
		o.cfg.CacheEnabled = *u.CacheEnabled
	}
	if u.CacheExpirationDays != nil && *u.CacheExpirationDays > 0 {
		o.cfg.CacheExpirationDays = *u.CacheExpirationDays
	}
	for name, key := range u.Credentials {
		if key == "" || key == o.cfg.Credentials[name] {
			continue
		}
		o.cfg.Credentials[name] = key
		switch name {
		case provider.IPAPICoName:
			o.providers[name] = provider.NewIPAPICo(key, o.client)
		case provider.IPGeolocationName:
			o.providers[name] = provider.NewIPGeolocation(key, true, o.client)
		case provider.IPWhoisName:
			o.providers[name] = provider.NewIPWhois(key, o.client)
		default:
			// ip-api 免费档与本地库不认密钥
			logger.L().Warn("credential_ignored", "name", name)
			continue
		}
		logger.L().Info("provider_rebound", "name", name)
	}
	logger.L().Debug("config_merged",
		"primary", o.cfg.Primary,
		"fallbacks", o.cfg.Fallbacks,
		"cache_enabled", o.cfg.CacheEnabled,
		"cache_expiration_days", o.cfg.CacheExpirationDays,
	)
}

// snapshot：读取配置副本，避免解析全程持锁
func (o *Orchestrator) snapshot() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cfg := o.cfg
	cfg.Fallbacks = append([]string(nil), o.cfg.Fallbacks...)
	return cfg
}

func (o *Orchestrator) provider(name string) provider.Provider {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.providers[name]
}

// Resolve：解析单个地址
// 返回 (nil, nil) 表示未知；唯一可能的非 nil 错误是 *geodata.QuotaExceededError
// 同地址并发请求经 singleflight 合并为一次解析（见 DESIGN.md 的公开决策）
func (o *Orchestrator) Resolve(ctx context.Context, addr string) (*geodata.LocationData, error) {
	if addr == "" {
		return nil, nil
	}
	metrics.ResolveTotal.Inc()
	t0 := time.Now()
	defer func() {
		metrics.ResolveDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	}()
	v, err, _ := o.group.Do(addr, func() (any, error) {
		return o.resolve(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	loc, _ := v.(*geodata.LocationData)
	if loc == nil {
		metrics.EmptyResultsTotal.Inc()
	}
	return loc, nil
}

func (o *Orchestrator) resolve(ctx context.Context, addr string) (*geodata.LocationData, error) {
	cfg := o.snapshot()

	// 缓存读：失败仅降级为未命中，绝不影响整体解析
	if cfg.CacheEnabled && o.cache != nil {
		e, err := o.cache.Find(ctx, addr)
		switch {
		case err != nil:
			metrics.CacheErrorsTotal.Inc()
			logger.L().Warn("cache_read_error", "address", addr, "err", err)
		case e != nil:
			maxAge := time.Duration(cfg.CacheExpirationDays) * 24 * time.Hour
			if e.Age(o.now()) < maxAge {
				metrics.CacheHitsTotal.Inc()
				logger.L().Debug("cache_hit", "address", addr)
				if e.Location.IsEmpty() {
					return nil, nil
				}
				loc := e.Location
				return &loc, nil
			}
			// 过期条目视为未命中，不删除，等待覆盖写
			metrics.CacheStaleTotal.Inc()
			logger.L().Debug("cache_stale", "address", addr, "created_at", e.CreatedAt)
		default:
			metrics.CacheMissesTotal.Inc()
		}
	}

	var result *geodata.LocationData
	var quotaErr *geodata.QuotaExceededError

	if p := o.provider(cfg.Primary); p != nil {
		loc, err := p.Lookup(ctx, addr)
		switch {
		case err == nil && loc != nil:
			result = loc
		case err == nil:
			logger.L().Debug("primary_no_data", "provider", cfg.Primary, "address", addr)
		case errors.As(err, &quotaErr):
			logger.L().Warn("primary_quota_exceeded", "provider", cfg.Primary, "retry_after", quotaErr.RetryAfter.String())
		default:
			logger.L().Warn("primary_error", "provider", cfg.Primary, "address", addr, "err", err)
		}
	} else {
		logger.L().Warn("primary_unknown", "provider", cfg.Primary)
	}

	if result == nil {
		result = o.walkFallbacks(ctx, cfg, addr, &quotaErr)
	}

	// 各处均无数据且出现过配额信号：升级给调用方“稍后重试”，绝不伪装成“未知”
	if result == nil && quotaErr != nil {
		metrics.QuotaEscalatedTotal.Inc()
		logger.L().Warn("resolve_quota_escalated", "address", addr, "provider", quotaErr.Provider)
		return nil, quotaErr
	}

	if cfg.CacheEnabled && o.cache != nil {
		e := &cache.Entry{Address: addr, CreatedAt: o.now()}
		if result != nil {
			e.Location = *result
		}
		// 全空记录同样落缓存，抑制对死地址的重复外查
		if err := o.cache.Upsert(ctx, e); err != nil {
			metrics.CacheErrorsTotal.Inc()
			logger.L().Warn("cache_write_error", "address", addr, "err", err)
		}
	}
	return result, nil
}

// walkFallbacks：按配置顺序串行走降级链
// 约束：主提供商配额触顶时跳过本地库（配额失败应升级给调用方，而非被更弱的离线源掩盖）；
// 链中任一提供商给出配额信号即终止整个遍历
func (o *Orchestrator) walkFallbacks(ctx context.Context, cfg Config, addr string, quotaErr **geodata.QuotaExceededError) *geodata.LocationData {
	quotaHit := *quotaErr != nil
	for _, name := range cfg.Fallbacks {
		if quotaHit && name == provider.MaxMindName {
			logger.L().Debug("fallback_local_skipped", "address", addr)
			continue
		}
		p := o.provider(name)
		if p == nil {
			logger.L().Warn("fallback_unknown", "provider", name)
			continue
		}
		loc, err := p.Lookup(ctx, addr)
		if err == nil && loc != nil {
			logger.L().Debug("fallback_hit", "provider", name, "address", addr)
			return loc
		}
		if err == nil {
			logger.L().Debug("fallback_no_data", "provider", name, "address", addr)
			continue
		}
		var qe *geodata.QuotaExceededError
		if errors.As(err, &qe) {
			*quotaErr = qe
			logger.L().Warn("fallback_quota_exceeded", "provider", name, "retry_after", qe.RetryAfter.String())
			return nil
		}
		logger.L().Warn("fallback_error", "provider", name, "address", addr, "err", err)
	}
	return nil
}

// ProviderStat：单提供商的观测快照
type ProviderStat struct {
	Name   string       `json:"name"`
	Limits quota.Limits `json:"limits"`
	Usage  quota.Usage  `json:"usage"`
}

// ProviderStats：全部已注册提供商的名称、声明上限与实时占用，按名称排序
func (o *Orchestrator) ProviderStats() []ProviderStat {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ProviderStat, 0, len(o.providers))
	for _, p := range o.providers {
		out = append(out, ProviderStat{Name: p.Name(), Limits: p.QuotaInfo(), Usage: p.Usage()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
