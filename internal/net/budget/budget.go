package budget

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrExhausted is matched by errors.Is for any *ExhaustedError.
var ErrExhausted = errors.New("daily budget exhausted")

// ExhaustedError is returned once a venue has used its daily allowance.
type ExhaustedError struct {
	Venue   string
	Used    int64
	Limit   int64
	ResetAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted for %s: %d/%d used, resets at %s",
		e.Venue, e.Used, e.Limit, e.ResetAt.Format("15:04 UTC"))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Tracker counts calls against a daily limit that resets at a fixed UTC hour.
// A limit <= 0 means unlimited.
type Tracker struct {
	venue         string
	limit         int64
	resetHour     int
	warnThreshold float64

	mu        sync.Mutex
	used      int64
	lastReset time.Time
	now       func() time.Time
}

func NewTracker(venue string, limit int64, resetHour int, warnThreshold float64) *Tracker {
	return newTracker(venue, limit, resetHour, warnThreshold, time.Now)
}

func newTracker(venue string, limit int64, resetHour int, warnThreshold float64, now func() time.Time) *Tracker {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	if warnThreshold <= 0 || warnThreshold > 1 {
		warnThreshold = 0.8
	}
	return &Tracker{
		venue:         venue,
		limit:         limit,
		resetHour:     resetHour,
		warnThreshold: warnThreshold,
		lastReset:     lastResetBefore(now().UTC(), resetHour),
		now:           now,
	}
}

func lastResetBefore(now time.Time, resetHour int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Hour() >= resetHour {
		return today
	}
	return today.AddDate(0, 0, -1)
}

// rollover must be called with mu held.
func (t *Tracker) rollover() {
	now := t.now().UTC()
	if !now.Before(t.lastReset.Add(24 * time.Hour)) {
		t.used = 0
		t.lastReset = lastResetBefore(now, t.resetHour)
	}
}

// Consume records one call. It fails without counting when the limit is reached.
func (t *Tracker) Consume() error {
	if t.limit <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()
	if t.used >= t.limit {
		return &ExhaustedError{Venue: t.venue, Used: t.used, Limit: t.limit, ResetAt: t.lastReset.Add(24 * time.Hour)}
	}
	t.used++
	return nil
}

// Stats returns the current usage.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()
	s := Stats{
		Venue:     t.venue,
		Limit:     t.limit,
		Used:      t.used,
		ResetHour: t.resetHour,
		NextReset: t.lastReset.Add(24 * time.Hour),
	}
	if t.limit > 0 {
		s.Remaining = t.limit - t.used
		s.Utilization = float64(t.used) / float64(t.limit)
		s.Warning = s.Utilization >= t.warnThreshold
		s.Exhausted = t.used >= t.limit
	}
	return s
}

// Stats is a snapshot of a tracker.
type Stats struct {
	Venue       string    `json:"venue"`
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"`
	Utilization float64   `json:"utilization"`
	ResetHour   int       `json:"reset_hour"`
	NextReset   time.Time `json:"next_reset"`
	Warning     bool      `json:"warning"`
	Exhausted   bool      `json:"exhausted"`
}

// Manager keeps one Tracker per venue.
type Manager struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

func NewManager() *Manager {
	return &Manager{trackers: make(map[string]*Tracker)}
}

func (m *Manager) Add(venue string, limit int64, resetHour int, warnThreshold float64) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := NewTracker(venue, limit, resetHour, warnThreshold)
	m.trackers[venue] = t
	return t
}

func (m *Manager) Get(venue string) (*Tracker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.trackers[venue]
	return t, ok
}

// Consume is a no-op for venues without a budget.
func (m *Manager) Consume(venue string) error {
	t, ok := m.Get(venue)
	if !ok {
		return nil
	}
	return t.Consume()
}

// Stats returns all tracker snapshots sorted by venue.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.mu.RUnlock()

	out := make([]Stats, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}
