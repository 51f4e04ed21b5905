package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/quota"
)

func TestParseASNTag(t *testing.T) {
	n, holder := parseASNTag("AS15169 Google LLC")
	assert.Equal(t, 15169, n)
	assert.Equal(t, "Google LLC", holder)

	n, holder = parseASNTag("AS13335")
	assert.Equal(t, 13335, n)
	assert.Equal(t, "", holder)

	n, holder = parseASNTag("garbage")
	assert.Equal(t, 0, n)
	assert.Equal(t, "", holder)
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, time.Duration(0), retryAfter(resp))
	resp.Header.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, retryAfter(resp))
	resp.Header.Set("Retry-After", "soon")
	assert.Equal(t, time.Duration(0), retryAfter(resp))
}

func TestIPAPILookupSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/8.8.8.8", r.URL.Path)
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{
			"status":"success","country":"United States","countryCode":"US",
			"region":"CA","regionName":"California","city":"Mountain View",
			"lat":37.4056,"lon":-122.0775,"timezone":"America/Los_Angeles",
			"isp":"Google LLC","org":"Google Public DNS","as":"AS15169 Google LLC"}`))
	}))
	defer srv.Close()

	p := NewIPAPI(srv.Client())
	p.baseURL = srv.URL
	loc, err := p.Lookup(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "US", loc.CountryCode)
	assert.Equal(t, "United States", loc.CountryName)
	assert.Equal(t, "CA", loc.RegionCode)
	assert.Equal(t, "Mountain View", loc.City)
	assert.Equal(t, "Google LLC", loc.ISP)
	assert.Equal(t, "Google Public DNS", loc.Org)
	assert.Equal(t, 15169, loc.ASN)
	assert.Equal(t, 1, p.Usage().MinuteUsed)
}

func TestIPAPILookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer srv.Close()

	p := NewIPAPI(srv.Client())
	p.baseURL = srv.URL
	loc, err := p.Lookup(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestIPAPILookupRemote429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewIPAPI(srv.Client())
	p.baseURL = srv.URL
	_, err := p.Lookup(context.Background(), "8.8.8.8")
	var qe *geodata.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, IPAPIName, qe.Provider)
	assert.Equal(t, 12*time.Second, qe.RetryAfter)
}

func TestIPAPILookupLocalQuotaDenied(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write([]byte(`{"status":"fail"}`))
	}))
	defer srv.Close()

	p := NewIPAPI(srv.Client())
	p.baseURL = srv.URL
	p.tracker = quota.NewTracker(quota.Limits{PerMinute: 1})
	p.tracker.RecordAttempt()

	_, err := p.Lookup(context.Background(), "8.8.8.8")
	var qe *geodata.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Greater(t, qe.RetryAfter, time.Duration(0))
	// 本地拦截在任何网络尝试之前
	assert.Equal(t, 0, requests)
}

func TestIPAPISkipsNonPublicAddresses(t *testing.T) {
	p := NewIPAPI(nil)
	p.baseURL = "http://127.0.0.1:0" // 任何请求都会失败，证明未发起
	loc, err := p.Lookup(context.Background(), "192.168.1.1")
	require.NoError(t, err)
	assert.Nil(t, loc)
	assert.Equal(t, 0, p.Usage().MinuteUsed)
}

func TestIPAPICoLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1.1.1.1/json/", r.URL.Path)
		assert.Equal(t, "sk-test", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{
			"country_code":"AU","country_name":"Australia","region":"Queensland",
			"region_code":"QLD","city":"South Brisbane","latitude":-27.4766,
			"longitude":153.0166,"timezone":"Australia/Brisbane",
			"org":"Cloudflare, Inc.","asn":"AS13335"}`))
	}))
	defer srv.Close()

	p := NewIPAPICo("sk-test", srv.Client())
	p.baseURL = srv.URL
	// 密钥在手即视为不限额
	assert.True(t, p.QuotaInfo().Unlimited())

	loc, err := p.Lookup(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "AU", loc.CountryCode)
	assert.Equal(t, "QLD", loc.RegionCode)
	assert.Equal(t, "Cloudflare, Inc.", loc.ISP)
	assert.Equal(t, 13335, loc.ASN)
}

func TestIPAPICoFreeTierLimits(t *testing.T) {
	p := NewIPAPICo("", nil)
	assert.Equal(t, quota.Limits{PerDay: 1000}, p.QuotaInfo())
}

func TestIPAPICoReservedAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":true,"reason":"Reserved IP Address"}`))
	}))
	defer srv.Close()

	p := NewIPAPICo("", srv.Client())
	p.baseURL = srv.URL
	loc, err := p.Lookup(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestIPGeolocationMissingKey(t *testing.T) {
	p := NewIPGeolocation("", false, nil)
	_, err := p.Lookup(context.Background(), "8.8.8.8")
	require.Error(t, err)
	// 缺密钥是普通前置失败，不是配额信号
	var qe *geodata.QuotaExceededError
	assert.False(t, errors.As(err, &qe))
	assert.Equal(t, errMissingKey, err)
}

func TestIPGeolocationLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ipgeo", r.URL.Path)
		assert.Equal(t, "free-key", r.URL.Query().Get("apiKey"))
		assert.Equal(t, "9.9.9.9", r.URL.Query().Get("ip"))
		_, _ = w.Write([]byte(`{
			"country_code2":"CH","country_name":"Switzerland","state_prov":"Zurich",
			"state_code":"ZH","city":"Zurich","latitude":"47.3667","longitude":"8.5500",
			"isp":"Quad9","organization":"Quad9 Foundation","asn":"AS19281",
			"time_zone":{"name":"Europe/Zurich"}}`))
	}))
	defer srv.Close()

	p := NewIPGeolocation("free-key", false, srv.Client())
	p.baseURL = srv.URL
	loc, err := p.Lookup(context.Background(), "9.9.9.9")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "CH", loc.CountryCode)
	assert.InDelta(t, 47.3667, loc.Latitude, 0.0001)
	assert.Equal(t, "Quad9", loc.ISP)
	assert.Equal(t, "Quad9 Foundation", loc.Org)
	assert.Equal(t, "Europe/Zurich", loc.Timezone)
	assert.Equal(t, quota.Limits{PerDay: 1000}, p.QuotaInfo())
}

func TestIPWhoisLookupPrecedence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/8.8.4.4", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"success":true,"country":"United States","country_code":"US",
			"region":"California","city":"Mountain View","latitude":37.42,
			"longitude":-122.08,"timezone":"America/Los_Angeles",
			"asn":"AS15169 Google LLC",
			"connection":{"isp":"Google Hosting","org":"Google LLC","asn":15169,"as_org":"Google LLC"}}`))
	}))
	defer srv.Close()

	p := NewIPWhois("", srv.Client())
	p.baseURL = srv.URL
	loc, err := p.Lookup(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	require.NotNil(t, loc)
	// 托管商名优先于 AS 持有者名
	assert.Equal(t, "Google Hosting", loc.ISP)
	assert.Equal(t, "Google LLC", loc.Org)
	assert.Equal(t, 15169, loc.ASN)
	assert.Equal(t, quota.Limits{PerMonth: 10000}, p.QuotaInfo())
}

func TestCountryNameDerivedFromCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 供应商未回传国家名
		_, _ = w.Write([]byte(`{"status":"success","countryCode":"US","city":"Ashburn"}`))
	}))
	defer srv.Close()

	p := NewIPAPI(srv.Client())
	p.baseURL = srv.URL
	loc, err := p.Lookup(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "United States", loc.CountryName)
}
