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

// IPWhoisName：ipwhois.app 提供商的注册表键
const IPWhoisName = "ipwhois"

// IPWhois：ipwhois.app 提供商
// 背景：免费档 10000 次/月（无密钥）；配置密钥后视为不限额
// 约束：connection 段同时给出托管商与 AS 持有者名，ISP 优先取托管商、组织优先取公司名
type IPWhois struct {
	key     string
	client  *http.Client
	tracker *quota.Tracker
	baseURL string
}

func NewIPWhois(key string, client *http.Client) *IPWhois {
	if client == nil {
		client = defaultHTTPClient()
	}
	limits := quota.Limits{PerMonth: 10000}
	if key != "" {
		limits = quota.Limits{}
	}
	return &IPWhois{
		key:     key,
		client:  client,
		tracker: quota.NewTracker(limits),
		baseURL: "https://ipwhois.app",
	}
}

func (p *IPWhois) Name() string              { return IPWhoisName }
func (p *IPWhois) Supports(addr string) bool { return supports(addr) }
func (p *IPWhois) QuotaInfo() quota.Limits   { return p.tracker.Limits() }
func (p *IPWhois) Usage() quota.Usage        { return p.tracker.Stats() }

type ipWhoisResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	ASN         string  `json:"asn"`
	Connection  struct {
		ISP   string `json:"isp"`
		Org   string `json:"org"`
		ASN   int    `json:"asn"`
		ASOrg string `json:"as_org"`
	} `json:"connection"`
}

func (p *IPWhois) Lookup(ctx context.Context, addr string) (*geodata.LocationData, error) {
	if !p.Supports(addr) {
		return nil, nil
	}
	if err := checkQuota(IPWhoisName, p.tracker); err != nil {
		return nil, err
	}
	p.tracker.RecordAttempt()
	u := p.baseURL + "/json/" + addr
	if p.key != "" {
		u += "?key=" + url.QueryEscape(p.key)
	}
	var r ipWhoisResponse
	if err := doJSON(ctx, p.client, IPWhoisName, u, nil, &r); err != nil {
		return nil, err
	}
	if !r.Success {
		logger.L().Debug("ipwhois_no_data", "ip", addr, "message", r.Message)
		metrics.ProviderNotFoundTotal.WithLabelValues(IPWhoisName).Inc()
		return nil, nil
	}
	asn, asHolder := parseASNTag(r.ASN)
	if asn == 0 {
		asn = r.Connection.ASN
	}
	out := geodata.LocationData{
		CountryCode: r.CountryCode,
		CountryName: r.Country,
		RegionName:  r.Region,
		City:        r.City,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Timezone:    r.Timezone,
		ISP:         firstNonEmpty(r.ISP, r.Connection.ISP, asHolder, r.Connection.ASOrg),
		Org:         firstNonEmpty(r.Org, r.Connection.Org, r.Connection.ISP),
		ASN:         asn,
	}
	fillCountryName(&out)
	metrics.ProviderSuccessTotal.WithLabelValues(IPWhoisName).Inc()
	return &out, nil
}
