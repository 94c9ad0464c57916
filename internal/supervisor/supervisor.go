// Package supervisor runs the long-lived services of the process and
// restarts the ones that fail.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
)

// Service is one supervised loop. Run should block until ctx is cancelled.
// Returning nil ends the service; returning an error before shutdown
// schedules a restart.
type Service struct {
	Name     string
	Priority int
	Run      func(ctx context.Context) error
}

type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Status is the runtime view of one service.
type Status struct {
	Name      string    `json:"name"`
	Priority  int       `json:"priority"`
	State     State     `json:"state"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// StableAfter resets the backoff once a run has lasted this long.
	StableAfter time.Duration
	// MaxRestarts gives up on a service after this many restarts; 0 is
	// unlimited.
	MaxRestarts int
}

func DefaultConfig() Config {
	return Config{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		StableAfter:    time.Minute,
	}
}

var (
	ErrStarted   = errors.New("supervisor already started")
	ErrDuplicate = errors.New("service already registered")
)

type entry struct {
	svc    Service
	status Status
}

type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	entries  []*entry
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	launched []string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = def.StableAfter
	}
	return &Supervisor{cfg: cfg, sleep: sleepCtx, now: time.Now}
}

func (s *Supervisor) Add(svc Service) error {
	if svc.Name == "" || svc.Run == nil {
		return fmt.Errorf("service needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	for _, e := range s.entries {
		if e.svc.Name == svc.Name {
			return fmt.Errorf("%w: %s", ErrDuplicate, svc.Name)
		}
	}
	s.entries = append(s.entries, &entry{
		svc:    svc,
		status: Status{Name: svc.Name, Priority: svc.Priority, State: StatePending},
	})
	return nil
}

// Start launches every service in ascending priority and returns
// immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	ordered := append([]*entry(nil), s.entries...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].svc.Priority < ordered[j].svc.Priority })

	for _, e := range ordered {
		s.launched = append(s.launched, e.svc.Name)
		log.Info().Str("component", "supervisor").Str("service", e.svc.Name).Int("priority", e.svc.Priority).Msg("Starting service")
		s.wg.Add(1)
		go s.supervise(ctx, e)
	}
	return nil
}

// Run starts the services and blocks until ctx is cancelled, then stops
// them all.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop cancels every service and waits for them to return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Status returns every service ordered by priority.
func (s *Supervisor) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.status
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (s *Supervisor) update(e *entry, fn func(st *Status)) {
	s.mu.Lock()
	fn(&e.status)
	s.mu.Unlock()
}

func (s *Supervisor) supervise(ctx context.Context, e *entry) {
	defer s.wg.Done()
	logger := log.With().Str("component", "supervisor").Str("service", e.svc.Name).Logger()
	bo := &backoff.Backoff{Min: s.cfg.InitialBackoff, Max: s.cfg.MaxBackoff, Factor: 2}

	for {
		start := s.now()
		s.update(e, func(st *Status) {
			st.State = StateRunning
			st.StartedAt = start
		})

		err := s.runOnce(ctx, e.svc)

		if ctx.Err() != nil {
			s.update(e, func(st *Status) { st.State = StateStopped })
			logger.Info().Msg("Service stopped")
			return
		}
		if err == nil {
			s.update(e, func(st *Status) { st.State = StateStopped })
			logger.Info().Msg("Service finished")
			return
		}

		if s.now().Sub(start) >= s.cfg.StableAfter {
			bo.Reset()
		}

		var restarts int
		s.update(e, func(st *Status) {
			st.LastError = err.Error()
			restarts = st.Restarts
		})
		if s.cfg.MaxRestarts > 0 && restarts >= s.cfg.MaxRestarts {
			s.update(e, func(st *Status) { st.State = StateFailed })
			logger.Error().Err(err).Int("restarts", restarts).Msg("Service failed, giving up")
			return
		}

		s.update(e, func(st *Status) {
			st.State = StateRestarting
			st.Restarts++
		})
		wait := bo.Duration()
		logger.Warn().Err(err).Dur("backoff", wait).Int("restarts", restarts+1).Msg("Service failed, restarting")

		if err := s.sleep(ctx, wait); err != nil {
			s.update(e, func(st *Status) { st.State = StateStopped })
			return
		}
	}
}

// runOnce converts a panic in the service into an error so it is
// restarted like any other failure.
func (s *Supervisor) runOnce(ctx context.Context, svc Service) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return svc.Run(ctx)
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
