// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/logger"
	"dmarc-geo/internal/resolver"
	"dmarc-geo/internal/store"
)

// 查询结果结构：仅包含对外返回必要字段
type lookupResult struct {
	IP       string                `json:"ip"`
	Found    bool                  `json:"found"`
	Location *geodata.LocationData `json:"location,omitempty"`
}

// 解析访问者 IP：优先参数，其次常见反向代理头；保证在多层代理场景下稳定获取源 IP
func getClientIP(r *http.Request) string {
	q := r.URL.Query().Get("ip")
	if q != "" {
		return q
	}
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	if x := h.Get("x-real-ip"); x != "" {
		return x
	}
	if x := h.Get("x-client-ip"); x != "" {
		return x
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// BuildRoutes：构建并返回 API 路由，独立 ServeMux 便于在主入口挂载到前缀
// st 为 nil 时统计相关路径降级（解析路径不依赖数据库）
func BuildRoutes(o *resolver.Orchestrator, st *store.Store) *http.ServeMux {
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("/lookup", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := getClientIP(r)
		loc, err := o.Resolve(ctx, ip)
		if err != nil {
			var qe *geodata.QuotaExceededError
			if errors.As(err, &qe) {
				// 把配额信号透传给调用方：稍后重试，而非谎报“查无此址”
				secs := int(qe.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":       "quota exceeded",
					"provider":    qe.Provider,
					"retry_after": secs,
				})
				return
			}
			logger.L().Error("lookup_error", "ip", ip, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
			return
		}
		if st != nil {
			_ = st.IncrStats(ctx)
		}
		writeJSON(w, http.StatusOK, lookupResult{IP: ip, Found: loc != nil, Location: loc})
	})

	apiMux.HandleFunc("/providers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, o.ProviderStats())
	})

	apiMux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			writeJSON(w, http.StatusOK, map[string]any{"total": 0, "today": 0})
			return
		}
		t, err := st.GetTotals(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": t.Total, "today": t.Today})
	})

	return apiMux
}
