// 包 provider：地址→归属地数据源的统一能力契约与五个实现（一个本地库、四个远程服务）
// 背景：各数据源额度与字段差异大，抽象为同构提供商后由编排层按序降级；提供商自持配额追踪器
// 约束：Lookup 返回 (nil, nil) 表示“确定查无此址”，是合法终态而非错误
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/ipcheck"
	"dmarc-geo/internal/metrics"
	"dmarc-geo/internal/quota"
)

// Provider：提供商统一契约
// Name 作为注册表键与诊断标识；Supports 委托共享的地址分类器；
// QuotaInfo 返回声明上限（全零表示不限）；Usage 返回配额占用快照供观测输出
type Provider interface {
	Name() string
	Supports(addr string) bool
	QuotaInfo() quota.Limits
	Usage() quota.Usage
	Lookup(ctx context.Context, addr string) (*geodata.LocationData, error)
}

// defaultHTTPClient：远程提供商缺省客户端；超时沿用出站调用的通用上限
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

// checkQuota：出站前的本地准入判定
// 背景：触顶时直接以配额信号返回，连网络尝试都不发起，RetryAfter 取最近名额的等待时长
func checkQuota(name string, t *quota.Tracker) error {
	if t.CanProceed() {
		return nil
	}
	metrics.ProviderQuotaDeniedTotal.WithLabelValues(name).Inc()
	return &geodata.QuotaExceededError{Provider: name, RetryAfter: t.TimeUntilNextSlot()}
}

// doJSON：供应商 HTTP GET 与 JSON 解码的公共路径
// 约束：任何供应商的 429 一律转换为配额信号（尊重 Retry-After 头）；其余非 200 为普通失败
func doJSON(ctx context.Context, client *http.Client, name, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	t0 := time.Now()
	metrics.ProviderRequestsTotal.WithLabelValues(name).Inc()
	resp, err := client.Do(req)
	if err != nil {
		metrics.ProviderFailTotal.WithLabelValues(name).Inc()
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	metrics.ProviderDurationMs.WithLabelValues(name).Observe(float64(time.Since(t0).Milliseconds()))
	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.ProviderQuotaDeniedTotal.WithLabelValues(name).Inc()
		return &geodata.QuotaExceededError{Provider: name, RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ProviderFailTotal.WithLabelValues(name).Inc()
		return fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ProviderFailTotal.WithLabelValues(name).Inc()
		return fmt.Errorf("%s: decode: %w", name, err)
	}
	return nil
}

// retryAfter：解析 Retry-After 秒数头；缺失或非数值返回 0
func retryAfter(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// firstNonEmpty：字段歧义时的优先级选择
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseASNTag：解析 "AS15169 Google LLC" 形式的标签，返回编号与持有者名
func parseASNTag(tag string) (int, string) {
	tag = strings.TrimSpace(tag)
	if !strings.HasPrefix(tag, "AS") {
		return 0, ""
	}
	rest := strings.TrimPrefix(tag, "AS")
	numPart := rest
	holder := ""
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		numPart = rest[:i]
		holder = strings.TrimSpace(rest[i+1:])
	}
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, holder
	}
	return n, holder
}

// fillCountryName：供应商未回传国家名时由国家码推导
func fillCountryName(l *geodata.LocationData) {
	if l.CountryName == "" && l.CountryCode != "" {
		l.CountryName = geodata.CountryNameFor(l.CountryCode)
	}
}

// supports：所有提供商共享的查询资格判定
func supports(addr string) bool { return ipcheck.IsPubliclyLookupable(addr) }
