// Package execution turns approved opportunities into market orders and
// records every decision, approved or not.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/gates"
	"github.com/sawpanic/aureon/internal/momentum"
	"github.com/sawpanic/aureon/internal/persistence"
	"github.com/sawpanic/aureon/internal/scan"
	"github.com/sawpanic/aureon/internal/venue"
	"github.com/sawpanic/aureon/internal/venue/paper"
)

type Mode string

// storeTimeout bounds recording an outcome once the caller's context is gone.
const storeTimeout = 5 * time.Second

const (
	// ModeOff gates and records decisions but never orders.
	ModeOff   Mode = "off"
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModePaper, ModeLive:
		return m, nil
	case "":
		return ModeOff, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q (want off, paper or live)", s)
	}
}

// Config is the executor section of the service configuration.
type Config struct {
	Mode             Mode          `yaml:"mode"`
	OrderNotional    float64       `yaml:"order_notional"`
	MaxOrderNotional float64       `yaml:"max_order_notional"`
	SlippageBps      float64       `yaml:"slippage_bps"`
	OrderTimeout     time.Duration `yaml:"order_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Mode:             ModeOff,
		OrderNotional:    100,
		MaxOrderNotional: 500,
		SlippageBps:      5,
		OrderTimeout:     20 * time.Second,
	}
}

func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.OrderNotional <= 0 {
		return fmt.Errorf("order_notional must be positive, got %.2f", c.OrderNotional)
	}
	if c.MaxOrderNotional > 0 && c.OrderNotional > c.MaxOrderNotional {
		return fmt.Errorf("order_notional %.2f exceeds max_order_notional %.2f", c.OrderNotional, c.MaxOrderNotional)
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("slippage_bps cannot be negative")
	}
	return nil
}

// VenueSource resolves venue names; *venue.Registry satisfies it.
type VenueSource interface {
	Get(name string) (venue.Venue, error)
}

// Observer receives execution telemetry; *metrics.Registry satisfies it.
type Observer interface {
	ObserveGate(gate string, passed bool)
	ObserveDecision(approved bool)
	ObserveOrder(venue, status string)
}

// Stats are the executor counters exposed on /health.
type Stats struct {
	Mode     Mode  `json:"mode"`
	Handled  int64 `json:"handled"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Orders   int64 `json:"orders"`
	Failed   int64 `json:"failed"`
}

// Executor handles one opportunity at a time.
type Executor struct {
	mode         Mode
	gates        *gates.Evaluator
	sizer        *Sizer
	venues       VenueSource
	repo         persistence.ExecutionRepo
	obs          Observer
	slippageBps  float64
	orderTimeout time.Duration
	now          func() time.Time
	newID        func() string

	mu    sync.Mutex
	paper map[string]*paper.Venue

	handled, approved, rejected, orders, failed atomic.Int64
}

func NewExecutor(cfg Config, evaluator *gates.Evaluator, sizer *Sizer, venues VenueSource, repo persistence.ExecutionRepo, obs Observer) (*Executor, error) {
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	if evaluator == nil || sizer == nil || venues == nil || repo == nil {
		return nil, fmt.Errorf("executor: evaluator, sizer, venues and repository are required")
	}
	if obs == nil {
		obs = nopObserver{}
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = DefaultConfig().OrderTimeout
	}
	return &Executor{
		mode:         mode,
		gates:        evaluator,
		sizer:        sizer,
		venues:       venues,
		repo:         repo,
		obs:          obs,
		slippageBps:  cfg.SlippageBps,
		orderTimeout: cfg.OrderTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
		paper:        make(map[string]*paper.Venue),
	}, nil
}

func (e *Executor) Mode() Mode { return e.mode }

func (e *Executor) Stats() Stats {
	return Stats{
		Mode:     e.mode,
		Handled:  e.handled.Load(),
		Approved: e.approved.Load(),
		Rejected: e.rejected.Load(),
		Orders:   e.orders.Load(),
		Failed:   e.failed.Load(),
	}
}

// State loads the gate state for opp from the execution history.
func (e *Executor) State(ctx context.Context, opp scan.Opportunity) (gates.State, error) {
	now := e.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	open, err := e.repo.OpenPositions(ctx)
	if err != nil {
		return gates.State{}, fmt.Errorf("open positions: %w", err)
	}
	today, err := e.repo.CountTradedSince(ctx, dayStart)
	if err != nil {
		return gates.State{}, fmt.Errorf("daily trades: %w", err)
	}
	last, err := e.repo.LastTradeAt(ctx, opp.Venue, opp.Symbol)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return gates.State{}, fmt.Errorf("last trade: %w", err)
	}
	return gates.State{OpenPositions: int(open), TradesToday: int(today), LastTradeAt: last}, nil
}

// Handle gates, sizes and (mode permitting) orders opp, and stores the
// outcome. Venue failures are recorded on the execution rather than
// returned; the error is non-nil only when the outcome could not be stored
// or the gate state could not be read.
func (e *Executor) Handle(ctx context.Context, opp scan.Opportunity) (persistence.Execution, error) {
	e.handled.Add(1)
	logger := log.With().Str("component", "executor").Str("opportunity", opp.ID).
		Str("venue", opp.Venue).Str("symbol", opp.Symbol).Logger()

	side := venue.SideBuy
	if opp.Direction == momentum.Down {
		side = venue.SideSell
	}
	exec := persistence.Execution{
		ID:            e.newID(),
		OpportunityID: opp.ID,
		Venue:         opp.Venue,
		Symbol:        opp.Symbol,
		Side:          string(side),
		Price:         decimal.NewFromFloat(opp.Price),
		Mode:          string(e.mode),
		CreatedAt:     e.now().UTC(),
	}

	st, err := e.State(ctx, opp)
	if err != nil {
		e.failed.Add(1)
		exec.Status = persistence.StatusFailed
		exec.Error = err.Error()
		return exec, e.save(ctx, exec, err)
	}

	decision := e.gates.Evaluate(opp, st, e.now())
	for _, c := range decision.Checks {
		e.obs.ObserveGate(c.Name, c.Passed)
	}
	e.obs.ObserveDecision(decision.Approved)
	exec.Reasons = decision.Reasons

	if !decision.Approved {
		e.rejected.Add(1)
		exec.Status = persistence.StatusRejected
		logger.Info().Strs("failed", decision.Failed()).Msg("Opportunity rejected by gates")
		return exec, e.save(ctx, exec, nil)
	}
	e.approved.Add(1)

	qty, notional, err := e.sizer.Size(opp.Venue, exec.Price)
	if err != nil {
		e.rejected.Add(1)
		exec.Status = persistence.StatusRejected
		exec.Reasons = append(exec.Reasons, "size: "+err.Error())
		logger.Warn().Err(err).Msg("Opportunity could not be sized")
		return exec, e.save(ctx, exec, nil)
	}
	exec.Quantity = qty
	exec.Notional = notional

	if e.mode == ModeOff {
		exec.Status = persistence.StatusSkipped
		logger.Info().Str("qty", qty.String()).Msg("Approved, execution is off")
		return exec, e.save(ctx, exec, nil)
	}

	v, err := e.venue(opp.Venue)
	if err != nil {
		e.failed.Add(1)
		exec.Status = persistence.StatusFailed
		exec.Error = err.Error()
		return exec, e.save(ctx, exec, nil)
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()
	res, err := v.PlaceMarketOrder(orderCtx, venue.OrderRequest{
		ClientOrderID: exec.ID,
		Venue:         opp.Venue,
		Symbol:        opp.Symbol,
		Side:          side,
		Quantity:      qty,
		Notional:      notional,
	})
	if err != nil {
		if venue.CodeOf(err) == venue.ErrCodeOrderRejected {
			e.rejected.Add(1)
			exec.Status = persistence.StatusRejected
		} else {
			e.failed.Add(1)
			exec.Status = persistence.StatusFailed
		}
		exec.Error = err.Error()
		logger.Error().Err(err).Str("side", string(side)).Str("qty", qty.String()).Msg("Order failed")
		return exec, e.save(ctx, exec, nil)
	}

	e.orders.Add(1)
	exec.Status = string(res.Status)
	exec.VenueOrderID = res.VenueOrderID
	if res.FilledQty.IsPositive() {
		exec.Quantity = res.FilledQty
	}
	if res.AvgPrice.IsPositive() {
		exec.Price = res.AvgPrice
	}
	exec.Notional = exec.Quantity.Mul(exec.Price)

	logger.Info().
		Str("mode", string(e.mode)).
		Str("side", string(side)).
		Str("qty", exec.Quantity.String()).
		Str("price", exec.Price.String()).
		Str("status", exec.Status).
		Str("venue_order_id", exec.VenueOrderID).
		Msg("Order placed")
	return exec, e.save(ctx, exec, nil)
}

// save records exec even when ctx was cancelled after the venue call, so a
// fill that lands during shutdown still counts toward the gates on restart.
func (e *Executor) save(ctx context.Context, exec persistence.Execution, cause error) error {
	e.obs.ObserveOrder(exec.Venue, exec.Status)
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := e.repo.Insert(storeCtx, exec); err != nil {
		if cause != nil {
			return fmt.Errorf("%v; store execution: %w", cause, err)
		}
		return fmt.Errorf("store execution: %w", err)
	}
	return cause
}

// venue resolves name, wrapping it in a paper venue when paper trading.
func (e *Executor) venue(name string) (venue.Venue, error) {
	v, err := e.venues.Get(name)
	if err != nil {
		return nil, err
	}
	if e.mode != ModePaper {
		return v, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	pv, ok := e.paper[name]
	if !ok {
		pv = paper.Wrap(v, e.slippageBps)
		e.paper[name] = pv
	}
	return pv, nil
}

// Run consumes opportunities sequentially until ctx is cancelled, keeping
// exactly one order in flight so position and daily counts stay exact.
func (e *Executor) Run(ctx context.Context, in <-chan scan.Opportunity) error {
	log.Info().Str("component", "executor").Str("mode", string(e.mode)).Msg("Executor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case opp, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := e.Handle(ctx, opp); err != nil {
				log.Error().Err(err).Str("component", "executor").Str("opportunity", opp.ID).Msg("Execution not recorded")
			}
		}
	}
}

type nopObserver struct{}

func (nopObserver) ObserveGate(string, bool)    {}
func (nopObserver) ObserveDecision(bool)        {}
func (nopObserver) ObserveOrder(string, string) {}
