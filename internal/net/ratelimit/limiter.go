package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per host so that a venue with separate
// market-data and trading hosts does not share a single budget.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
	rps     float64
	burst   int
}

// NewLimiter creates a limiter; rps <= 0 disables throttling.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rps,
		burst:   burst,
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[host]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}

	limit := rate.Limit(l.rps)
	if l.rps <= 0 {
		limit = rate.Inf
	}
	b = rate.NewLimiter(limit, l.burst)
	l.buckets[host] = b
	return b
}

// Allow reports whether a request to host may go out right now.
func (l *Limiter) Allow(host string) bool {
	return l.bucket(host).Allow()
}

// Wait blocks until a token for host is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.bucket(host).Wait(ctx)
}

// SetRPS retunes every existing bucket and the default for new ones.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rps = rps
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	for _, b := range l.buckets {
		b.SetLimit(limit)
	}
}

// Stats returns a snapshot per host, sorted by host name.
func (l *Limiter) Stats() []HostStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := time.Now()
	out := make([]HostStats, 0, len(l.buckets))
	for host, b := range l.buckets {
		tokens := b.TokensAt(now)
		var delay time.Duration
		if tokens < 1 && l.rps > 0 {
			delay = time.Duration((1 - tokens) / l.rps * float64(time.Second))
		}

		out = append(out, HostStats{
			Host:   host,
			RPS:    l.rps,
			Burst:  b.Burst(),
			Tokens: tokens,
			Delay:  delay,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// HostStats describes one host bucket.
type HostStats struct {
	Host   string        `json:"host"`
	RPS    float64       `json:"rps"`
	Burst  int           `json:"burst"`
	Tokens float64       `json:"tokens"`
	Delay  time.Duration `json:"delay"`
}

// Throttled is true when the next request would have to wait.
func (s HostStats) Throttled() bool {
	return s.Tokens < 1
}

// Manager keeps one Limiter per venue.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// Add registers (or replaces) the limiter for a venue.
func (m *Manager) Add(venue string, rps float64, burst int) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := NewLimiter(rps, burst)
	m.limiters[venue] = l
	return l
}

func (m *Manager) Get(venue string) (*Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.limiters[venue]
	return l, ok
}

// Wait is a no-op for venues without a configured limiter.
func (m *Manager) Wait(ctx context.Context, venue, host string) error {
	l, ok := m.Get(venue)
	if !ok {
		return nil
	}
	return l.Wait(ctx, host)
}

func (m *Manager) Stats() map[string][]HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]HostStats, len(m.limiters))
	for venue, l := range m.limiters {
		out[venue] = l.Stats()
	}
	return out
}
