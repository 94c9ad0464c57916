// Package memory keeps opportunities and executions in process. It backs
// the service when Postgres is disabled and is bounded to the newest records.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/persistence"
)

const defaultCapacity = 10000

type Store struct {
	mu            sync.RWMutex
	capacity      int
	opportunities []persistence.Opportunity
	executions    []persistence.Execution
}

// New returns a store holding at most capacity records of each kind.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{capacity: capacity}
}

// Repository exposes the store through the persistence interfaces.
func (s *Store) Repository() *persistence.Repository {
	return &persistence.Repository{
		Opportunities: opportunities{s},
		Executions:    executions{s},
		Ping:          func(context.Context) error { return nil },
	}
}

type opportunities struct{ s *Store }

func (r opportunities) Insert(_ context.Context, o persistence.Opportunity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.opportunities = append(r.s.opportunities, o)
	if over := len(r.s.opportunities) - r.s.capacity; over > 0 {
		r.s.opportunities = append([]persistence.Opportunity(nil), r.s.opportunities[over:]...)
	}
	return nil
}

func (r opportunities) Latest(_ context.Context, limit int) ([]persistence.Opportunity, error) {
	r.s.mu.RLock()
	out := append([]persistence.Opportunity(nil), r.s.opportunities...)
	r.s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r opportunities) CountSince(_ context.Context, since time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, o := range r.s.opportunities {
		if !o.DetectedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type executions struct{ s *Store }

func (r executions) Insert(_ context.Context, e persistence.Execution) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.executions = append(r.s.executions, e)
	if over := len(r.s.executions) - r.s.capacity; over > 0 {
		r.s.executions = append([]persistence.Execution(nil), r.s.executions[over:]...)
	}
	return nil
}

func (r executions) Latest(_ context.Context, limit int) ([]persistence.Execution, error) {
	r.s.mu.RLock()
	out := append([]persistence.Execution(nil), r.s.executions...)
	r.s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r executions) CountTradedSince(_ context.Context, since time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, e := range r.s.executions {
		if e.Traded() && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r executions) LastTradeAt(_ context.Context, venue, symbol string) (time.Time, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var last time.Time
	for _, e := range r.s.executions {
		if e.Traded() && e.Venue == venue && e.Symbol == symbol && e.CreatedAt.After(last) {
			last = e.CreatedAt
		}
	}
	if last.IsZero() {
		return time.Time{}, persistence.ErrNotFound
	}
	return last, nil
}

func (r executions) OpenPositions(context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	net := make(map[[2]string]decimal.Decimal)
	for _, e := range r.s.executions {
		if !e.Traded() {
			continue
		}
		key := [2]string{e.Venue, e.Symbol}
		if e.Side == "buy" {
			net[key] = net[key].Add(e.Quantity)
		} else {
			net[key] = net[key].Sub(e.Quantity)
		}
	}
	var n int64
	for _, q := range net {
		if !q.IsZero() {
			n++
		}
	}
	return n, nil
}
