package provider

import (
	"context"
	"net/http"

	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/logger"
	"dmarc-geo/internal/metrics"
	"dmarc-geo/internal/quota"
)

// IPAPIName：ip-api.com 提供商的注册表键
const IPAPIName = "ip-api"

// ipAPIFields：免费端点的字段白名单，减小响应体并固定解析面
const ipAPIFields = "status,message,country,countryCode,region,regionName,city,lat,lon,timezone,isp,org,as"

// IPAPI：ip-api.com 免费档提供商
// 背景：无密钥即可用，滚动 45 次/分钟；超限由远端以 429 兜底，本地追踪器先行拦截
type IPAPI struct {
	client  *http.Client
	tracker *quota.Tracker
	baseURL string
}

func NewIPAPI(client *http.Client) *IPAPI {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &IPAPI{
		client:  client,
		tracker: quota.NewTracker(quota.Limits{PerMinute: 45}),
		baseURL: "http://ip-api.com",
	}
}

func (p *IPAPI) Name() string              { return IPAPIName }
func (p *IPAPI) Supports(addr string) bool { return supports(addr) }
func (p *IPAPI) QuotaInfo() quota.Limits   { return p.tracker.Limits() }
func (p *IPAPI) Usage() quota.Usage        { return p.tracker.Stats() }

// ip-api.com 响应结构：status!="success" 时 message 说明原因（private range 等）
type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
}

func (p *IPAPI) Lookup(ctx context.Context, addr string) (*geodata.LocationData, error) {
	if !p.Supports(addr) {
		return nil, nil
	}
	if err := checkQuota(IPAPIName, p.tracker); err != nil {
		return nil, err
	}
	p.tracker.RecordAttempt()
	var r ipAPIResponse
	u := p.baseURL + "/json/" + addr + "?fields=" + ipAPIFields
	if err := doJSON(ctx, p.client, IPAPIName, u, nil, &r); err != nil {
		return nil, err
	}
	if r.Status != "success" {
		// fail 状态表示该地址无数据（保留地址、无记录），是终态而非错误
		logger.L().Debug("ipapi_no_data", "ip", addr, "message", r.Message)
		metrics.ProviderNotFoundTotal.WithLabelValues(IPAPIName).Inc()
		return nil, nil
	}
	asn, asHolder := parseASNTag(r.AS)
	out := geodata.LocationData{
		CountryCode: r.CountryCode,
		CountryName: r.Country,
		RegionCode:  r.Region,
		RegionName:  r.RegionName,
		City:        r.City,
		Latitude:    r.Lat,
		Longitude:   r.Lon,
		Timezone:    r.Timezone,
		ISP:         firstNonEmpty(r.ISP, asHolder),
		Org:         firstNonEmpty(r.Org, asHolder),
		ASN:         asn,
	}
	fillCountryName(&out)
	metrics.ProviderSuccessTotal.WithLabelValues(IPAPIName).Inc()
	return &out, nil
}
