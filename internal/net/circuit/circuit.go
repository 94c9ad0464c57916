package circuit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned while a breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls when a venue breaker trips and how long it stays open.
type Config struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	FailureRatio        float64       `yaml:"failure_ratio"`
	MinRequests         uint32        `yaml:"min_requests"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	Interval            time.Duration `yaml:"interval"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests"`
}

// DefaultConfig trips on three straight failures or more than half of
// twenty requests failing inside a minute.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 3,
		FailureRatio:        0.5,
		MinRequests:         20,
		OpenTimeout:         30 * time.Second,
		Interval:            60 * time.Second,
		HalfOpenRequests:    1,
	}
}

// StateListener is notified on every transition.
type StateListener func(name string, from, to string)

// Breaker wraps a gobreaker.CircuitBreaker for one venue.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(name string, cfg Config, listener StateListener) *Breaker {
	def := DefaultConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio <= 0 || c.Requests < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) > cfg.FailureRatio
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("component", "circuit").
				Str("venue", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit state changed")
			if listener != nil {
				listener(name, from.String(), to.String())
			}
		},
	}
	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(st)}
}

// countsAsSuccess keeps caller cancellation and expired deadlines out of the
// venue's failure counts.
func countsAsSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Execute runs fn unless the breaker is open. A non-nil error from fn counts
// as a failure unless it is a context cancellation or deadline.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

func (b *Breaker) Name() string { return b.name }

// State is one of "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Stats() Stats {
	c := b.cb.Counts()
	return Stats{
		Name:                b.name,
		State:               b.State(),
		Requests:            c.Requests,
		TotalFailures:       c.TotalFailures,
		ConsecutiveFailures: c.ConsecutiveFailures,
	}
}

type Stats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

func (s Stats) Healthy() bool { return s.State != gobreaker.StateOpen.String() }

// Manager keeps one Breaker per venue.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	listener StateListener
}

func NewManager(listener StateListener) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), listener: listener}
}

func (m *Manager) Add(venue string, cfg Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := NewBreaker(venue, cfg, m.listener)
	m.breakers[venue] = b
	return b
}

func (m *Manager) Get(venue string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.breakers[venue]
	return b, ok
}

// State returns "unknown" for venues without a breaker.
func (m *Manager) State(venue string) string {
	b, ok := m.Get(venue)
	if !ok {
		return "unknown"
	}
	return b.State()
}

func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Stats, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
