package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/aureon/internal/net/client"
)

// find returns the metric in family name whose labels include all of want.
func find(t *testing.T, r *Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s %v not found", name, want)
	return nil
}

func TestObserveScan(t *testing.T) {
	r := New()
	r.ObserveScan("fast", 200*time.Millisecond, nil)
	r.ObserveScan("fast", time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, find(t, r, "aureon_scans_total", map[string]string{"profile": "fast", "result": "ok"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, find(t, r, "aureon_scans_total", map[string]string{"profile": "fast", "result": "error"}).GetCounter().GetValue())
	h := find(t, r, "aureon_scan_duration_seconds", map[string]string{"profile": "fast"}).GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 1.2, h.GetSampleSum(), 1e-9)
}

func TestObserveVenueRequest(t *testing.T) {
	r := New()
	r.ObserveVenueRequest("kraken", 200, 10*time.Millisecond, nil)
	r.ObserveVenueRequest("kraken", 429, 10*time.Millisecond, nil)
	r.ObserveVenueRequest("kraken", 503, 10*time.Millisecond, nil)
	r.ObserveVenueRequest("kraken", 0, 0, &client.Error{Venue: "kraken", Type: client.TypeCircuit, Err: errors.New("open")})
	r.ObserveVenueRequest("kraken", 0, 0, errors.New("dial tcp: refused"))

	assert.Equal(t, uint64(1), find(t, r, "aureon_venue_request_duration_seconds", map[string]string{"venue": "kraken", "code": "200"}).GetHistogram().GetSampleCount())
	assert.Equal(t, uint64(2), find(t, r, "aureon_venue_request_duration_seconds", map[string]string{"code": "error"}).GetHistogram().GetSampleCount())
	assert.Equal(t, 1.0, find(t, r, "aureon_venue_errors_total", map[string]string{"type": "rate_limit"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, find(t, r, "aureon_venue_errors_total", map[string]string{"type": "server"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, find(t, r, "aureon_venue_errors_total", map[string]string{"type": "circuit"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, find(t, r, "aureon_venue_errors_total", map[string]string{"type": "transport"}).GetCounter().GetValue())
}

func TestSetBreakerState(t *testing.T) {
	r := New()
	r.SetBreakerState("binance", "closed", "open")
	assert.Equal(t, 2.0, find(t, r, "aureon_breaker_state", map[string]string{"venue": "binance"}).GetGauge().GetValue())
	r.SetBreakerState("binance", "open", "half-open")
	assert.Equal(t, 1.0, find(t, r, "aureon_breaker_state", map[string]string{"venue": "binance"}).GetGauge().GetValue())
	r.SetBreakerState("binance", "half-open", "closed")
	assert.Equal(t, 0.0, find(t, r, "aureon_breaker_state", map[string]string{"venue": "binance"}).GetGauge().GetValue())
}

func TestHandler(t *testing.T) {
	r := New()
	r.Orders.WithLabelValues("kraken", "filled").Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `aureon_orders_total{status="filled",venue="kraken"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestObserveHTTP(t *testing.T) {
	r := New()
	r.ObserveHTTP("/opportunities", "GET", 200, 3*time.Millisecond)
	r.ObserveHTTP("/opportunities", "GET", 200, 5*time.Millisecond)
	r.SetWSClients(2)

	assert.Equal(t, 2.0, find(t, r, "aureon_http_requests_total", map[string]string{"route": "/opportunities", "code": "200"}).GetCounter().GetValue())
	assert.Equal(t, uint64(2), find(t, r, "aureon_http_request_duration_seconds", map[string]string{"route": "/opportunities"}).GetHistogram().GetSampleCount())
	assert.Equal(t, 2.0, find(t, r, "aureon_ws_clients", nil).GetGauge().GetValue())
}
