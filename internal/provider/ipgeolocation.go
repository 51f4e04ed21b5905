package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/metrics"
	"dmarc-geo/internal/quota"
)

// IPGeolocationName：ipgeolocation.io 提供商的注册表键
const IPGeolocationName = "ipgeolocation"

// errMissingKey：该供应商任何档位都要求 apiKey；缺失属于前置条件失败，按普通失败降级
var errMissingKey = errors.New("ipgeolocation: missing api key")

// IPGeolocation：ipgeolocation.io 提供商
// 背景：免费密钥 1000 次/天；付费密钥视为不限额。经纬度以字符串回传，解析时做数值容错
type IPGeolocation struct {
	key       string
	unlimited bool
	client    *http.Client
	tracker   *quota.Tracker
	baseURL   string
}

// NewIPGeolocation：unlimited 标记密钥为付费档（解除本地追踪上限）
func NewIPGeolocation(key string, unlimited bool, client *http.Client) *IPGeolocation {
	if client == nil {
		client = defaultHTTPClient()
	}
	limits := quota.Limits{PerDay: 1000}
	if unlimited {
		limits = quota.Limits{}
	}
	return &IPGeolocation{
		key:       key,
		unlimited: unlimited,
		client:    client,
		tracker:   quota.NewTracker(limits),
		baseURL:   "https://api.ipgeolocation.io",
	}
}

func (p *IPGeolocation) Name() string              { return IPGeolocationName }
func (p *IPGeolocation) Supports(addr string) bool { return supports(addr) }
func (p *IPGeolocation) QuotaInfo() quota.Limits   { return p.tracker.Limits() }
func (p *IPGeolocation) Usage() quota.Usage        { return p.tracker.Stats() }

type ipGeolocationResponse struct {
	CountryCode  string `json:"country_code2"`
	CountryName  string `json:"country_name"`
	StateProv    string `json:"state_prov"`
	StateCode    string `json:"state_code"`
	City         string `json:"city"`
	Latitude     string `json:"latitude"`
	Longitude    string `json:"longitude"`
	ISP          string `json:"isp"`
	Organization string `json:"organization"`
	ASN          string `json:"asn"`
	TimeZone     struct {
		Name string `json:"name"`
	} `json:"time_zone"`
}

func (p *IPGeolocation) Lookup(ctx context.Context, addr string) (*geodata.LocationData, error) {
	if !p.Supports(addr) {
		return nil, nil
	}
	if p.key == "" {
		return nil, errMissingKey
	}
	if err := checkQuota(IPGeolocationName, p.tracker); err != nil {
		return nil, err
	}
	p.tracker.RecordAttempt()
	q := url.Values{}
	q.Set("apiKey", p.key)
	q.Set("ip", addr)
	var r ipGeolocationResponse
	if err := doJSON(ctx, p.client, IPGeolocationName, p.baseURL+"/ipgeo?"+q.Encode(), nil, &r); err != nil {
		return nil, err
	}
	asn, asHolder := parseASNTag(r.ASN)
	out := geodata.LocationData{
		CountryCode: r.CountryCode,
		CountryName: r.CountryName,
		RegionCode:  r.StateCode,
		RegionName:  r.StateProv,
		City:        r.City,
		Latitude:    parseCoord(r.Latitude),
		Longitude:   parseCoord(r.Longitude),
		Timezone:    r.TimeZone.Name,
		ISP:         firstNonEmpty(r.ISP, asHolder),
		Org:         firstNonEmpty(r.Organization, r.ISP),
		ASN:         asn,
	}
	fillCountryName(&out)
	if out.IsEmpty() {
		metrics.ProviderNotFoundTotal.WithLabelValues(IPGeolocationName).Inc()
		return nil, nil
	}
	metrics.ProviderSuccessTotal.WithLabelValues(IPGeolocationName).Inc()
	return &out, nil
}

// parseCoord：字符串经纬度转数值；非法值归零（未知）
func parseCoord(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
