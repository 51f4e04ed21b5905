// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"dmarc-geo/internal/api"
	"dmarc-geo/internal/cache"
	"dmarc-geo/internal/logger"
	"dmarc-geo/internal/metrics"
	"dmarc-geo/internal/middleware"
	"dmarc-geo/internal/migrate"
	"dmarc-geo/internal/provider"
	"dmarc-geo/internal/resolver"
	"dmarc-geo/internal/store"
	"dmarc-geo/internal/utils"
	"dmarc-geo/internal/version"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.Commit)
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	// 背景：数据库仅承担统计与可选缓存后端；不可用时解析路径照常工作
	var st *store.Store
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
	} else if err := db.Ping(); err != nil {
		l.Warn("db_ping_error", "err", err)
		_ = db.Close()
	} else {
		l.Info("db_ping_ok")
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		st = store.AttachDB(db)
		defer db.Close()
	}

	// 缓存后端选择：Redis → Postgres → 进程内存
	var c cache.Cache
	if rc := utils.OpenRedisFromEnv(); rc != nil {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Warn("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
			c = cache.NewRedis(rc)
		}
	}
	if c == nil && st != nil {
		l.Info("cache_backend", "kind", "postgres")
		c = st
	}
	if c == nil {
		l.Info("cache_backend", "kind", "memory")
		c = cache.NewMemory()
	}

	o := resolver.New(c, nil)

	// 本地库依赖数据文件，缺失时仅告警，不参与降级链以外的任何路径
	cityPath := os.Getenv("MAXMIND_CITY_PATH")
	if cityPath == "" {
		cityPath = filepath.Join("data", "maxmind", "GeoLite2-City.mmdb")
	}
	if mm, err := provider.NewMaxMind(cityPath, os.Getenv("MAXMIND_ASN_PATH")); err != nil {
		l.Warn("maxmind_open_error", "path", cityPath, "err", err)
	} else {
		o.Register(mm)
		defer mm.Close()
	}

	o.Configure(configFromEnv())

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(o, st)
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}

// configFromEnv：把环境变量折算成一次配置合并
func configFromEnv() resolver.ConfigUpdate {
	var u resolver.ConfigUpdate
	if v := os.Getenv("GEO_PRIMARY"); v != "" {
		u.Primary = &v
	}
	if v := os.Getenv("GEO_FALLBACKS"); v != "" {
		var names []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				names = append(names, s)
			}
		}
		u.Fallbacks = names
	}
	u.Credentials = map[string]string{
		provider.IPAPICoName:       os.Getenv("IPAPI_CO_KEY"),
		provider.IPGeolocationName: os.Getenv("IPGEOLOCATION_KEY"),
		provider.IPWhoisName:       os.Getenv("IPWHOIS_KEY"),
	}
	if v := os.Getenv("GEO_CACHE_ENABLED"); v != "" {
		enabled := v == "true"
		u.CacheEnabled = &enabled
	}
	if v := os.Getenv("GEO_CACHE_EXPIRATION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			u.CacheExpirationDays = &n
		}
	}
	return u
}
