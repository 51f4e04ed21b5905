package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmarc-geo/internal/cache"
	"dmarc-geo/internal/geodata"
	"dmarc-geo/internal/quota"
	"dmarc-geo/internal/resolver"
)

type fixedProvider struct {
	name string
	loc  *geodata.LocationData
	err  error
}

func (f *fixedProvider) Name() string              { return f.name }
func (f *fixedProvider) Supports(addr string) bool { return true }
func (f *fixedProvider) QuotaInfo() quota.Limits   { return quota.Limits{} }
func (f *fixedProvider) Usage() quota.Usage        { return quota.Usage{} }
func (f *fixedProvider) Lookup(ctx context.Context, addr string) (*geodata.LocationData, error) {
	return f.loc, f.err
}

func newServer(t *testing.T, p *fixedProvider) *httptest.Server {
	t.Helper()
	o := resolver.New(cache.NewMemory(), nil)
	o.Register(p)
	primary := p.name
	o.Configure(resolver.ConfigUpdate{Primary: &primary, Fallbacks: []string{}})
	srv := httptest.NewServer(BuildRoutes(o, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupFound(t *testing.T) {
	srv := newServer(t, &fixedProvider{
		name: "stub",
		loc:  &geodata.LocationData{CountryCode: "US", City: "Mountain View"},
	})
	resp, err := http.Get(srv.URL + "/lookup?ip=8.8.8.8")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out lookupResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "8.8.8.8", out.IP)
	assert.True(t, out.Found)
	require.NotNil(t, out.Location)
	assert.Equal(t, "Mountain View", out.Location.City)
}

func TestLookupNotFound(t *testing.T) {
	srv := newServer(t, &fixedProvider{name: "stub"})
	resp, err := http.Get(srv.URL + "/lookup?ip=203.0.113.9")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out lookupResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Found)
	assert.Nil(t, out.Location)
}

func TestLookupQuotaExceeded(t *testing.T) {
	srv := newServer(t, &fixedProvider{
		name: "stub",
		err:  &geodata.QuotaExceededError{Provider: "stub", RetryAfter: 30 * time.Second},
	})
	resp, err := http.Get(srv.URL + "/lookup?ip=8.8.8.8")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
}

func TestLookupFallsBackToForwardedHeader(t *testing.T) {
	srv := newServer(t, &fixedProvider{
		name: "stub",
		loc:  &geodata.LocationData{CountryCode: "DE"},
	})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/lookup", nil)
	req.Header.Set("x-forwarded-for", "81.2.69.142, 10.0.0.1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out lookupResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "81.2.69.142", out.IP)
}

func TestProvidersEndpoint(t *testing.T) {
	srv := newServer(t, &fixedProvider{name: "stub"})
	resp, err := http.Get(srv.URL + "/providers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats []resolver.ProviderStat
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.GreaterOrEqual(t, len(stats), 5)
}

func TestStatsWithoutStore(t *testing.T) {
	srv := newServer(t, &fixedProvider{name: "stub"})
	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var m map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, int64(0), m["total"])
}
