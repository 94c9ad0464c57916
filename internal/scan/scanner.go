// Package scan runs momentum profiles against the configured venues and
// emits opportunities for the executor.
package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/aureon/internal/cache"
	"github.com/sawpanic/aureon/internal/momentum"
	"github.com/sawpanic/aureon/internal/persistence"
	"github.com/sawpanic/aureon/internal/venue"
)

// ErrAllPairsFailed is returned by RunOnce when no pair could be scored.
var ErrAllPairsFailed = errors.New("scan: every pair failed")

// VenueSource resolves venue names; *venue.Registry satisfies it.
type VenueSource interface {
	Get(name string) (venue.Venue, error)
}

// Observer receives scan telemetry; *metrics.Registry satisfies it.
type Observer interface {
	ObserveScan(profile string, d time.Duration, err error)
	ObserveOpportunity(profile, direction string)
	ObserveDrop(profile string)
	ObservePairError(profile, venue string)
}

type Config struct {
	Profiles []Profile
	Venues   VenueSource
	Ledger   cache.Ledger
	// Repo is optional; opportunities are not stored when nil.
	Repo     persistence.OpportunityRepo
	Observer Observer
	// QueueSize bounds the channel returned by Opportunities.
	QueueSize int
	// PairTimeout bounds one venue/symbol fetch.
	PairTimeout time.Duration
	// Concurrency bounds concurrent fetches within one pass.
	Concurrency int
}

// ProfileStats summarises one profile for the health surface.
type ProfileStats struct {
	Name      string    `json:"name"`
	Runs      int64     `json:"runs"`
	Emitted   int64     `json:"emitted"`
	Dropped   int64     `json:"dropped"`
	Errors    int64     `json:"errors"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

type Scanner struct {
	cfg      Config
	out      chan Opportunity
	now      func() time.Time
	newID    func() string
	mu       sync.Mutex
	stats    map[string]*ProfileStats
	handlers []func(Opportunity)
}

func New(cfg Config) (*Scanner, error) {
	if cfg.Venues == nil {
		return nil, fmt.Errorf("scan: venue source is required")
	}
	if cfg.Ledger == nil {
		cfg.Ledger = cache.NewMemory()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.PairTimeout <= 0 {
		cfg.PairTimeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	seen := make(map[string]bool, len(cfg.Profiles))
	stats := make(map[string]*ProfileStats, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		p = p.WithDefaults()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("scan: duplicate profile %s", p.Name)
		}
		seen[p.Name] = true
		cfg.Profiles[i] = p
		stats[p.Name] = &ProfileStats{Name: p.Name}
	}

	return &Scanner{
		cfg:   cfg,
		out:   make(chan Opportunity, cfg.QueueSize),
		now:   time.Now,
		newID: uuid.NewString,
		stats: stats,
	}, nil
}

// Opportunities is the bounded stream fed by Run.
func (s *Scanner) Opportunities() <-chan Opportunity { return s.out }

// OnEmit registers a callback invoked for every emitted opportunity. It must
// not block and must be registered before Run.
func (s *Scanner) OnEmit(fn func(Opportunity)) {
	s.handlers = append(s.handlers, fn)
}

func (s *Scanner) Profiles() []Profile {
	return append([]Profile(nil), s.cfg.Profiles...)
}

// Profile looks a profile up by name.
func (s *Scanner) Profile(name string) (Profile, bool) {
	for _, p := range s.cfg.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Stats returns per-profile counters sorted by name.
func (s *Scanner) Stats() []ProfileStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProfileStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type pair struct {
	venue  string
	symbol string
}

// RunOnce scans every venue/symbol of p once and returns the emitted
// opportunities ordered by venue then symbol. A failing pair is logged and
// counted without aborting the pass.
func (s *Scanner) RunOnce(ctx context.Context, p Profile) ([]Opportunity, error) {
	start := s.now()
	logger := log.With().Str("component", "scan").Str("profile", p.Name).Logger()

	var pairs []pair
	for _, v := range p.Venues {
		for _, sym := range p.Symbols {
			pairs = append(pairs, pair{venue: v, symbol: strings.ToUpper(sym)})
		}
	}

	var (
		mu      sync.Mutex
		found   []Opportunity
		failed  int
		lastErr error
		wg      sync.WaitGroup
		sem     = make(chan struct{}, s.cfg.Concurrency)
	)
	for _, pr := range pairs {
		pr := pr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			opp, ok, err := s.scanPair(ctx, p, pr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				lastErr = err
				s.cfg.Observer.ObservePairError(p.Name, pr.venue)
				logger.Warn().Err(err).Str("venue", pr.venue).Str("symbol", pr.symbol).Msg("Pair scan failed")
				return
			}
			if ok {
				found = append(found, opp)
			}
		}()
	}
	wg.Wait()

	sort.Slice(found, func(i, j int) bool {
		if found[i].Venue != found[j].Venue {
			return found[i].Venue < found[j].Venue
		}
		return found[i].Symbol < found[j].Symbol
	})

	var runErr error
	if ctx.Err() != nil {
		runErr = ctx.Err()
	} else if len(pairs) > 0 && failed == len(pairs) {
		runErr = fmt.Errorf("%w: %v", ErrAllPairsFailed, lastErr)
	}

	for _, opp := range found {
		s.store(ctx, opp)
		s.cfg.Observer.ObserveOpportunity(p.Name, string(opp.Direction))
	}

	elapsed := s.now().Sub(start)
	s.cfg.Observer.ObserveScan(p.Name, elapsed, runErr)
	s.record(p.Name, func(st *ProfileStats) {
		st.Runs++
		st.Emitted += int64(len(found))
		st.Errors += int64(failed)
		st.LastRun = start
		st.LastError = ""
		if lastErr != nil {
			st.LastError = lastErr.Error()
		}
	})

	logger.Debug().
		Int("pairs", len(pairs)).
		Int("failed", failed).
		Int("emitted", len(found)).
		Dur("elapsed", elapsed).
		Msg("Scan pass completed")

	return found, runErr
}

func (s *Scanner) scanPair(ctx context.Context, p Profile, pr pair) (Opportunity, bool, error) {
	v, err := s.cfg.Venues.Get(pr.venue)
	if err != nil {
		return Opportunity{}, false, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PairTimeout)
	defer cancel()

	bars, err := v.Bars(fetchCtx, pr.symbol, p.Interval, p.Lookback+1)
	if err != nil {
		return Opportunity{}, false, err
	}
	sig, err := momentum.Score(bars, p.ThresholdPct, p.Decay)
	if err != nil {
		return Opportunity{}, false, fmt.Errorf("%s %s: %w", pr.venue, pr.symbol, err)
	}
	if sig.Direction == momentum.Flat || math.Abs(sig.ChangePct) < p.ThresholdPct {
		return Opportunity{}, false, nil
	}

	if p.Cooldown > 0 {
		key := cooldownKey(p.Name, pr.venue, pr.symbol, sig.Direction)
		claimed, err := s.cfg.Ledger.Claim(ctx, key, p.Cooldown)
		if err != nil {
			// the executor's symbol cooldown still applies, so fail open
			log.Warn().Err(err).Str("component", "scan").Str("key", key).Msg("Cooldown ledger unavailable")
		} else if !claimed {
			return Opportunity{}, false, nil
		}
	}

	return Opportunity{
		ID:         s.newID(),
		Profile:    p.Name,
		Venue:      pr.venue,
		Symbol:     pr.symbol,
		Direction:  sig.Direction,
		ChangePct:  sig.ChangePct,
		Weighted:   sig.Weighted,
		Confidence: sig.Confidence,
		Price:      bars[len(bars)-1].Close,
		DetectedAt: s.now(),
		Signal:     sig,
	}, true, nil
}

func (s *Scanner) store(ctx context.Context, opp Opportunity) {
	if s.cfg.Repo == nil {
		return
	}
	if err := s.cfg.Repo.Insert(ctx, opp.Record()); err != nil {
		log.Error().Err(err).Str("component", "scan").Str("id", opp.ID).Msg("Failed to store opportunity")
	}
}

// Run scans every profile on its own ticker until ctx is cancelled. Emitted
// opportunities go to the bounded queue; when it is full they are dropped
// and counted rather than stalling the scan loop.
func (s *Scanner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, p := range s.cfg.Profiles {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runProfile(ctx, p)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Scanner) runProfile(ctx context.Context, p Profile) {
	log.Info().Str("component", "scan").Str("profile", p.Name).
		Strs("venues", p.Venues).Int("symbols", len(p.Symbols)).
		Dur("poll_every", p.PollEvery).Msg("Profile started")

	ticker := time.NewTicker(p.PollEvery)
	defer ticker.Stop()

	for {
		opps, _ := s.RunOnce(ctx, p)
		for _, opp := range opps {
			s.emit(opp)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scanner) emit(opp Opportunity) {
	for _, h := range s.handlers {
		h(opp)
	}
	select {
	case s.out <- opp:
	default:
		s.cfg.Observer.ObserveDrop(opp.Profile)
		s.record(opp.Profile, func(st *ProfileStats) { st.Dropped++ })
		log.Warn().Str("component", "scan").Str("profile", opp.Profile).
			Str("symbol", opp.Symbol).Msg("Executor queue full, opportunity dropped")
	}
}

func (s *Scanner) record(profile string, fn func(*ProfileStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[profile]
	if !ok {
		st = &ProfileStats{Name: profile}
		s.stats[profile] = st
	}
	fn(st)
}

type nopObserver struct{}

func (nopObserver) ObserveScan(string, time.Duration, error) {}
func (nopObserver) ObserveOpportunity(string, string)        {}
func (nopObserver) ObserveDrop(string)                       {}
func (nopObserver) ObservePairError(string, string)          {}
