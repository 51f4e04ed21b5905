package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResolveTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoapi_resolve_total",
		Help: "Total number of resolve calls",
	})
	ResolveDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoapi_resolve_duration_ms",
		Help:    "Resolve duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	EmptyResultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoapi_empty_results_total",
		Help: "Total number of resolves ending with an empty location",
	})
	QuotaEscalatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoapi_quota_escalated_total",
		Help: "Total resolves that surfaced a quota-exceeded signal to the caller",
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoapi_cache_hits_total",
		Help: "Total location cache hits (fresh entries only)",
	})
	CacheStaleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoapi_cache_stale_total",
		Help: "Total cache entries skipped because they were past expiration",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoapi_cache_misses_total",
		Help: "Total location cache misses",
	})
	CacheErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoapi_cache_errors_total",
		Help: "Total cache read/write failures (degraded, never fatal)",
	})
	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoapi_provider_requests_total",
		Help: "Total provider Lookup attempts",
	}, []string{"provider"})
	ProviderSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoapi_provider_success_total",
		Help: "Total provider Lookup successes (non-empty result)",
	}, []string{"provider"})
	ProviderNotFoundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoapi_provider_notfound_total",
		Help: "Total provider Lookup definitive not-found outcomes",
	}, []string{"provider"})
	ProviderFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoapi_provider_fail_total",
		Help: "Total provider Lookup transport/parse failures",
	}, []string{"provider"})
	ProviderQuotaDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoapi_provider_quota_denied_total",
		Help: "Total provider Lookup denials by quota (local or HTTP 429)",
	}, []string{"provider"})
	ProviderDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geoapi_provider_duration_ms",
		Help:    "Provider Lookup duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(ResolveTotal)
	prometheus.MustRegister(ResolveDurationMs)
	prometheus.MustRegister(EmptyResultsTotal)
	prometheus.MustRegister(QuotaEscalatedTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheStaleTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheErrorsTotal)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProviderSuccessTotal)
	prometheus.MustRegister(ProviderNotFoundTotal)
	prometheus.MustRegister(ProviderFailTotal)
	prometheus.MustRegister(ProviderQuotaDeniedTotal)
	prometheus.MustRegister(ProviderDurationMs)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
