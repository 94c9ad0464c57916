package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/aureon/internal/net/budget"
	"github.com/sawpanic/aureon/internal/net/circuit"
	"github.com/sawpanic/aureon/internal/net/ratelimit"
)

const userAgent = "aureon/1.0"

// RetryPolicy is exponential backoff between Base and Max. With Jitter set,
// each delay is drawn uniformly from [Base, delay].
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	Jitter      bool          `yaml:"jitter"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: true}
}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := &backoff.Backoff{Min: p.Base, Max: p.Max, Factor: 2, Jitter: p.Jitter}
	return b.ForAttempt(float64(attempt - 1))
}

// Observer receives one call per attempt. status is 0 on transport errors.
type Observer func(venue string, status int, elapsed time.Duration, err error)

// Config wires the guards for one venue.
type Config struct {
	Venue    string
	Limiter  *ratelimit.Limiter
	Breaker  *circuit.Breaker
	Budget   *budget.Tracker
	Retry    RetryPolicy
	Observer Observer
}

// Transport is an http.RoundTripper that applies rate limiting, the daily
// budget and the circuit breaker to every attempt, and retries idempotent
// requests on transport errors, 429 and 5xx.
type Transport struct {
	cfg   Config
	next  http.RoundTripper
	sleep func(ctx context.Context, d time.Duration) error
}

func NewTransport(cfg Config, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	return &Transport{
		cfg:   cfg,
		next:  next,
		sleep: sleepCtx,
	}
}

// NewHTTPClient returns a client whose transport is a guarded Transport.
func NewHTTPClient(cfg Config, timeout time.Duration) *http.Client {
	return &http.Client{Transport: NewTransport(cfg, nil), Timeout: timeout}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errServerStatus = errors.New("server error status")

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}

	ctx := req.Context()
	attempts := 1
	if idempotent(req) {
		attempts = t.cfg.Retry.MaxAttempts
	}

	for attempt := 1; ; attempt++ {
		resp, err := t.attempt(req)
		last := attempt >= attempts

		var retryAfter time.Duration
		switch {
		case err != nil:
			var ce *Error
			if errors.As(err, &ce) && ce.Type != TypeTransport {
				return nil, err
			}
			if last || ctx.Err() != nil {
				return nil, err
			}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if last {
				return resp, nil
			}
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			drain(resp)
		default:
			return resp, nil
		}

		delay := t.cfg.Retry.Backoff(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		log.Debug().
			Str("component", "http").
			Str("venue", t.cfg.Venue).
			Str("url", req.URL.Path).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying request")
		if err := t.sleep(ctx, delay); err != nil {
			return nil, &Error{Venue: t.cfg.Venue, Type: TypeTransport, Err: err}
		}
	}
}

func (t *Transport) attempt(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.cfg.Limiter != nil {
		if err := t.cfg.Limiter.Wait(ctx, req.URL.Host); err != nil {
			return nil, &Error{Venue: t.cfg.Venue, Type: TypeRateLimit, Err: err}
		}
	}
	if t.cfg.Budget != nil {
		if err := t.cfg.Budget.Consume(); err != nil {
			return nil, &Error{Venue: t.cfg.Venue, Type: TypeBudget, Err: err}
		}
	}

	var resp *http.Response
	call := func() error {
		start := time.Now()
		r, err := t.next.RoundTrip(req)
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		if t.cfg.Observer != nil {
			t.cfg.Observer(t.cfg.Venue, status, time.Since(start), err)
		}
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= 500 {
			return errServerStatus
		}
		return nil
	}

	var err error
	if t.cfg.Breaker != nil {
		err = t.cfg.Breaker.Execute(call)
	} else {
		err = call()
	}

	switch {
	case err == nil, errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, circuit.ErrOpen):
		return nil, &Error{Venue: t.cfg.Venue, Type: TypeCircuit, Err: err}
	default:
		return nil, &Error{Venue: t.cfg.Venue, Type: TypeTransport, Err: err}
	}
}

func idempotent(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// Error types.
const (
	TypeRateLimit = "rate_limit"
	TypeBudget    = "budget"
	TypeCircuit   = "circuit"
	TypeTransport = "transport"
)

// Error is returned by Transport when a guard rejects a request or the
// underlying transport fails.
type Error struct {
	Venue string `json:"venue"`
	Type  string `json:"type"`
	Err   error  `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("venue %s %s error: %v", e.Venue, e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
