package venue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Health is the result of pinging one venue.
type Health struct {
	Healthy   bool      `json:"healthy"`
	Breaker   string    `json:"breaker"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Registry holds the configured venues by name.
type Registry struct {
	mu      sync.RWMutex
	venues  map[string]Venue
	breaker func(name string) string
}

// NewRegistry creates an empty registry. breakerState may be nil.
func NewRegistry(breakerState func(name string) string) *Registry {
	return &Registry{venues: make(map[string]Venue), breaker: breakerState}
}

func (r *Registry) Register(v Venue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := v.Name()
	if name == "" {
		return fmt.Errorf("venue must have a non-empty name")
	}
	if _, exists := r.venues[name]; exists {
		return fmt.Errorf("venue %s already registered", name)
	}
	r.venues[name] = v
	return nil
}

func (r *Registry) Get(name string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.venues[name]
	if !ok {
		return nil, fmt.Errorf("no venue registered with name %s", name)
	}
	return v, nil
}

// All returns the venues sorted by name.
func (r *Registry) All() []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Venue, 0, len(r.venues))
	for _, v := range r.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, v := range all {
		names[i] = v.Name()
	}
	return names
}

// Ping checks every venue concurrently, each bounded by timeout.
func (r *Registry) Ping(ctx context.Context, timeout time.Duration) map[string]Health {
	all := r.All()
	out := make(map[string]Health, len(all))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, v := range all {
		wg.Add(1)
		go func(v Venue) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := v.Ping(pctx)
			h := Health{
				Healthy:   err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
				CheckedAt: time.Now().UTC(),
				Breaker:   "unknown",
			}
			if err != nil {
				h.Error = err.Error()
			}
			if r.breaker != nil {
				h.Breaker = r.breaker(v.Name())
			}

			mu.Lock()
			out[v.Name()] = h
			mu.Unlock()
		}(v)
	}
	wg.Wait()
	return out
}
