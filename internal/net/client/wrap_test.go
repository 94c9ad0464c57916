package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/aureon/internal/net/budget"
	"github.com/sawpanic/aureon/internal/net/circuit"
	"github.com/sawpanic/aureon/internal/net/ratelimit"
)

func newTestTransport(cfg Config) (*Transport, *[]time.Duration) {
	tr := NewTransport(cfg, nil)
	var slept []time.Duration
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return tr, &slept
}

func TestTransport_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr, slept := newTestTransport(Config{Venue: "kraken", Retry: RetryPolicy{MaxAttempts: 3, Base: 10 * time.Millisecond, Max: time.Second}})
	resp, err := (&http.Client{Transport: tr}).Get(srv.URL + "/0/public/Ticker")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestTransport_ReturnsLastServerErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr, _ := newTestTransport(Config{Venue: "alpaca", Retry: RetryPolicy{MaxAttempts: 2, Base: time.Millisecond}})
	resp, err := (&http.Client{Transport: tr}).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestTransport_DoesNotRetryOrders(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, slept := newTestTransport(Config{Venue: "alpaca", Retry: DefaultRetryPolicy()})
	resp, err := (&http.Client{Transport: tr}).Post(srv.URL+"/v2/orders", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Empty(t, *slept)
}

func TestTransport_HonoursRetryAfter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, slept := newTestTransport(Config{Venue: "binance", Retry: RetryPolicy{MaxAttempts: 2, Base: time.Millisecond}})
	resp, err := (&http.Client{Transport: tr}).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, *slept, 1)
	assert.Equal(t, 2*time.Second, (*slept)[0])
}

func TestTransport_OpenCircuitShortCircuits(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := circuit.DefaultConfig()
	cfg.ConsecutiveFailures = 2
	cfg.OpenTimeout = time.Hour
	breaker := circuit.NewBreaker("capital", cfg, nil)

	tr, _ := newTestTransport(Config{Venue: "capital", Breaker: breaker, Retry: RetryPolicy{MaxAttempts: 5, Base: time.Millisecond}})
	_, err := (&http.Client{Transport: tr}).Get(srv.URL)
	require.Error(t, err)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, TypeCircuit, ce.Type)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, "open", breaker.State())
}

func TestTransport_BudgetAndObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var observed int32
	tr, _ := newTestTransport(Config{
		Venue:   "kraken",
		Limiter: ratelimit.NewLimiter(0, 1),
		Budget:  budget.NewTracker("kraken", 1, 0, 0.8),
		Retry:   DefaultRetryPolicy(),
		Observer: func(venue string, status int, elapsed time.Duration, err error) {
			atomic.AddInt32(&observed, 1)
			assert.Equal(t, "kraken", venue)
		},
	})
	c := &http.Client{Transport: tr}

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = c.Get(srv.URL)
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, TypeBudget, ce.Type)
	assert.True(t, errors.Is(err, budget.ErrExhausted))
	assert.Equal(t, int32(1), atomic.LoadInt32(&observed))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{Base: 100 * time.Millisecond, Max: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(10))

	p.Jitter = true
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	for i := 0; i < 50; i++ {
		d := p.Backoff(3)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
		assert.LessOrEqual(t, p.Backoff(10), time.Second, "jitter never exceeds Max")
	}
}

func TestTransport_CancelledRequestsKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := circuit.DefaultConfig()
	cfg.ConsecutiveFailures = 2
	cfg.OpenTimeout = time.Hour
	breaker := circuit.NewBreaker("kraken", cfg, nil)
	tr, _ := newTestTransport(Config{Venue: "kraken", Breaker: breaker, Retry: RetryPolicy{MaxAttempts: 3, Base: time.Millisecond}})

	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		_, err = tr.RoundTrip(req)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", breaker.State())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}
