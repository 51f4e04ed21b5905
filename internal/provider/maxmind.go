package provider

import (
	"context"
	"net"

	"github.com/oschwald/geoip2-golang"

	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/logger"
	"dmarc-geo/internal/metrics"
	"dmarc-geo/internal/quota"
)

// MaxMindName：本地数据库提供商的注册表键
const MaxMindName = "maxmind"

// MaxMind：本地 GeoLite2/GeoIP2 数据库提供商
// 背景：离线查询不消耗任何远端额度，作为降级链的兜底数据源；城市库必备，ASN 库可选
// 约束：无配额追踪器，永远放行；内部任何失败都折算为“未命中”，不向上传播错误
type MaxMind struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// NewMaxMind：打开本地数据库
// 参数：cityPath 为 City 库路径（必填）；asnPath 为 ASN 库路径，空串表示不启用
func NewMaxMind(cityPath, asnPath string) (*MaxMind, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, err
	}
	m := &MaxMind{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			logger.L().Warn("maxmind_asn_open_error", "path", asnPath, "err", err)
		} else {
			m.asn = asn
		}
	}
	return m, nil
}

func (m *MaxMind) Name() string              { return MaxMindName }
func (m *MaxMind) Supports(addr string) bool { return supports(addr) }
func (m *MaxMind) QuotaInfo() quota.Limits   { return quota.Limits{} }
func (m *MaxMind) Usage() quota.Usage        { return quota.Usage{} }

func (m *MaxMind) Lookup(ctx context.Context, addr string) (*geodata.LocationData, error) {
	if !m.Supports(addr) {
		return nil, nil
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, nil
	}
	metrics.ProviderRequestsTotal.WithLabelValues(MaxMindName).Inc()
	rec, err := m.city.City(ip)
	if err != nil {
		// 本地库没有瞬时/永久之分，任何读取失败等同未命中
		logger.L().Debug("maxmind_lookup_error", "ip", addr, "err", err)
		metrics.ProviderNotFoundTotal.WithLabelValues(MaxMindName).Inc()
		return nil, nil
	}
	var out geodata.LocationData
	out.CountryCode = rec.Country.IsoCode
	out.CountryName = rec.Country.Names["en"]
	if len(rec.Subdivisions) > 0 {
		out.RegionCode = rec.Subdivisions[0].IsoCode
		out.RegionName = rec.Subdivisions[0].Names["en"]
	}
	out.City = rec.City.Names["en"]
	out.Latitude = rec.Location.Latitude
	out.Longitude = rec.Location.Longitude
	out.Timezone = rec.Location.TimeZone
	if m.asn != nil {
		if a, err := m.asn.ASN(ip); err == nil {
			out.ASN = int(a.AutonomousSystemNumber)
			out.ISP = a.AutonomousSystemOrganization
			out.Org = a.AutonomousSystemOrganization
		}
	}
	fillCountryName(&out)
	if out.IsEmpty() {
		metrics.ProviderNotFoundTotal.WithLabelValues(MaxMindName).Inc()
		return nil, nil
	}
	metrics.ProviderSuccessTotal.WithLabelValues(MaxMindName).Inc()
	logger.L().Debug("maxmind_hit", "ip", addr, "country", out.CountryCode, "city", out.City)
	return &out, nil
}

// Close：释放底层 mmdb 句柄
func (m *MaxMind) Close() error {
	if m.asn != nil {
		_ = m.asn.Close()
	}
	return m.city.Close()
}
