// Package gates decides whether an opportunity may become an order. Every
// gate is evaluated on every call so the decision carries the full picture,
// not just the first failure.
package gates

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sawpanic/aureon/internal/momentum"
	"github.com/sawpanic/aureon/internal/scan"
)

// Gate names, in evaluation order.
const (
	GateEnabled        = "enabled"
	GateConfidence     = "confidence"
	GateMove           = "move"
	GateDirection      = "direction"
	GateVenue          = "venue"
	GateOpenPositions  = "open_positions"
	GateDailyTrades    = "daily_trades"
	GateSymbolCooldown = "symbol_cooldown"
	GateFreshness      = "freshness"
)

// Config holds the trade gating thresholds. Zero limits disable the
// corresponding gate, except MinConfidence which is always enforced.
type Config struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	MinConfidence    float64       `yaml:"min_confidence" json:"min_confidence"`
	MinMovePct       float64       `yaml:"min_move_pct" json:"min_move_pct"`
	AllowShorts      bool          `yaml:"allow_shorts" json:"allow_shorts"`
	AllowedVenues    []string      `yaml:"allowed_venues" json:"allowed_venues"`
	MaxOpenPositions int           `yaml:"max_open_positions" json:"max_open_positions"`
	MaxDailyTrades   int           `yaml:"max_daily_trades" json:"max_daily_trades"`
	SymbolCooldown   time.Duration `yaml:"symbol_cooldown" json:"symbol_cooldown"`
	MaxSignalAge     time.Duration `yaml:"max_signal_age" json:"max_signal_age"`
}

// DefaultConfig is conservative: trading is off until enabled explicitly.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		MinConfidence:    0.65,
		MinMovePct:       1.0,
		AllowShorts:      false,
		MaxOpenPositions: 3,
		MaxDailyTrades:   10,
		SymbolCooldown:   30 * time.Minute,
		MaxSignalAge:     2 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %.3f", c.MinConfidence)
	}
	if c.MinMovePct < 0 {
		return fmt.Errorf("min_move_pct cannot be negative, got %.3f", c.MinMovePct)
	}
	if c.MaxOpenPositions < 0 || c.MaxDailyTrades < 0 {
		return fmt.Errorf("position and trade limits cannot be negative")
	}
	if c.SymbolCooldown < 0 || c.MaxSignalAge < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	return nil
}

// State is the book-keeping the limits are checked against.
type State struct {
	OpenPositions int
	TradesToday   int
	// LastTradeAt is zero when the symbol was never traded.
	LastTradeAt time.Time
}

// Check is the outcome of one gate.
type Check struct {
	Name        string      `json:"name"`
	Passed      bool        `json:"passed"`
	Value       interface{} `json:"value"`
	Threshold   interface{} `json:"threshold"`
	Description string      `json:"description"`
}

// Decision is the combined outcome. Reasons lists failed gate descriptions.
type Decision struct {
	Approved bool     `json:"approved"`
	Checks   []Check  `json:"checks"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Failed returns the names of the gates that did not pass.
func (d Decision) Failed() []string {
	var out []string
	for _, c := range d.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

type Evaluator struct {
	cfg     Config
	allowed map[string]bool
}

func NewEvaluator(cfg Config) *Evaluator {
	allowed := make(map[string]bool, len(cfg.AllowedVenues))
	for _, v := range cfg.AllowedVenues {
		allowed[strings.ToLower(v)] = true
	}
	return &Evaluator{cfg: cfg, allowed: allowed}
}

func (e *Evaluator) Config() Config { return e.cfg }

// Evaluate runs every gate against opp.
func (e *Evaluator) Evaluate(opp scan.Opportunity, st State, now time.Time) Decision {
	cfg := e.cfg
	checks := make([]Check, 0, 9)

	checks = append(checks, Check{
		Name:        GateEnabled,
		Passed:      cfg.Enabled,
		Value:       cfg.Enabled,
		Threshold:   true,
		Description: "trading enabled",
	})

	checks = append(checks, Check{
		Name:        GateConfidence,
		Passed:      opp.Confidence >= cfg.MinConfidence,
		Value:       opp.Confidence,
		Threshold:   cfg.MinConfidence,
		Description: fmt.Sprintf("confidence %.3f >= %.3f", opp.Confidence, cfg.MinConfidence),
	})

	move := math.Abs(opp.ChangePct)
	checks = append(checks, Check{
		Name:        GateMove,
		Passed:      move >= cfg.MinMovePct,
		Value:       move,
		Threshold:   cfg.MinMovePct,
		Description: fmt.Sprintf("move %.2f%% >= %.2f%%", move, cfg.MinMovePct),
	})

	dirOK := opp.Direction == momentum.Up || (opp.Direction == momentum.Down && cfg.AllowShorts)
	checks = append(checks, Check{
		Name:        GateDirection,
		Passed:      dirOK,
		Value:       string(opp.Direction),
		Threshold:   directionThreshold(cfg.AllowShorts),
		Description: fmt.Sprintf("direction %s allowed", opp.Direction),
	})

	venueOK := len(e.allowed) == 0 || e.allowed[strings.ToLower(opp.Venue)]
	checks = append(checks, Check{
		Name:        GateVenue,
		Passed:      venueOK,
		Value:       opp.Venue,
		Threshold:   cfg.AllowedVenues,
		Description: fmt.Sprintf("venue %s allowed", opp.Venue),
	})

	checks = append(checks, Check{
		Name:        GateOpenPositions,
		Passed:      cfg.MaxOpenPositions == 0 || st.OpenPositions < cfg.MaxOpenPositions,
		Value:       st.OpenPositions,
		Threshold:   cfg.MaxOpenPositions,
		Description: fmt.Sprintf("open positions %d < %d", st.OpenPositions, cfg.MaxOpenPositions),
	})

	checks = append(checks, Check{
		Name:        GateDailyTrades,
		Passed:      cfg.MaxDailyTrades == 0 || st.TradesToday < cfg.MaxDailyTrades,
		Value:       st.TradesToday,
		Threshold:   cfg.MaxDailyTrades,
		Description: fmt.Sprintf("trades today %d < %d", st.TradesToday, cfg.MaxDailyTrades),
	})

	sinceLast := time.Duration(-1)
	cooldownOK := true
	cooldownDesc := fmt.Sprintf("%s never traded", opp.Symbol)
	if !st.LastTradeAt.IsZero() {
		sinceLast = now.Sub(st.LastTradeAt)
		cooldownOK = sinceLast >= cfg.SymbolCooldown
		cooldownDesc = fmt.Sprintf("%s last traded %s ago, cooldown %s", opp.Symbol, sinceLast.Round(time.Second), cfg.SymbolCooldown)
	}
	checks = append(checks, Check{
		Name:        GateSymbolCooldown,
		Passed:      cooldownOK,
		Value:       sinceLast.String(),
		Threshold:   cfg.SymbolCooldown.String(),
		Description: cooldownDesc,
	})

	age := now.Sub(opp.DetectedAt)
	checks = append(checks, Check{
		Name:        GateFreshness,
		Passed:      cfg.MaxSignalAge == 0 || age <= cfg.MaxSignalAge,
		Value:       age.String(),
		Threshold:   cfg.MaxSignalAge.String(),
		Description: fmt.Sprintf("signal age %s <= %s", age.Round(time.Millisecond), cfg.MaxSignalAge),
	})

	d := Decision{Approved: true, Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			d.Approved = false
			d.Reasons = append(d.Reasons, c.Name+": "+c.Description)
		}
	}
	return d
}

func directionThreshold(allowShorts bool) string {
	if allowShorts {
		return "up|down"
	}
	return "up"
}
