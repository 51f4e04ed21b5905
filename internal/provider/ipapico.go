package provider

import (
	"context"
	"net/http"
	"net/url"

	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/logger"
	"dmarc-geo/internal/metrics"
	"dmarc-geo/internal/quota"
)

// IPAPICoName：ipapi.co 提供商的注册表键
const IPAPICoName = "ipapi-co"

// IPAPICo：ipapi.co 提供商
// 背景：免费档 1000 次/天；配置密钥后视为不限额（付费档的真实上限由远端 429 兜底）
type IPAPICo struct {
	key     string
	client  *http.Client
	tracker *quota.Tracker
	baseURL string
}

func NewIPAPICo(key string, client *http.Client) *IPAPICo {
	if client == nil {
		client = defaultHTTPClient()
	}
	limits := quota.Limits{PerDay: 1000}
	if key != "" {
		limits = quota.Limits{}
	}
	return &IPAPICo{
		key:     key,
		client:  client,
		tracker: quota.NewTracker(limits),
		baseURL: "https://ipapi.co",
	}
}

func (p *IPAPICo) Name() string              { return IPAPICoName }
func (p *IPAPICo) Supports(addr string) bool { return supports(addr) }
func (p *IPAPICo) QuotaInfo() quota.Limits   { return p.tracker.Limits() }
func (p *IPAPICo) Usage() quota.Usage        { return p.tracker.Stats() }

// ipapi.co 响应结构：error=true 时 reason 给出原因；该供应商无独立 ISP 字段
type ipAPICoResponse struct {
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	RegionCode  string  `json:"region_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	Org         string  `json:"org"`
	ASN         string  `json:"asn"`
}

func (p *IPAPICo) Lookup(ctx context.Context, addr string) (*geodata.LocationData, error) {
	if !p.Supports(addr) {
		return nil, nil
	}
	if err := checkQuota(IPAPICoName, p.tracker); err != nil {
		return nil, err
	}
	p.tracker.RecordAttempt()
	u := p.baseURL + "/" + addr + "/json/"
	if p.key != "" {
		u += "?key=" + url.QueryEscape(p.key)
	}
	var r ipAPICoResponse
	if err := doJSON(ctx, p.client, IPAPICoName, u, nil, &r); err != nil {
		return nil, err
	}
	if r.Error {
		logger.L().Debug("ipapico_no_data", "ip", addr, "reason", r.Reason)
		metrics.ProviderNotFoundTotal.WithLabelValues(IPAPICoName).Inc()
		return nil, nil
	}
	asn, asHolder := parseASNTag(r.ASN)
	out := geodata.LocationData{
		CountryCode: r.CountryCode,
		CountryName: r.CountryName,
		RegionCode:  r.RegionCode,
		RegionName:  r.Region,
		City:        r.City,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Timezone:    r.Timezone,
		ISP:         firstNonEmpty(r.Org, asHolder),
		Org:         firstNonEmpty(r.Org, asHolder),
		ASN:         asn,
	}
	fillCountryName(&out)
	metrics.ProviderSuccessTotal.WithLabelValues(IPAPICoName).Inc()
	return &out, nil
}
