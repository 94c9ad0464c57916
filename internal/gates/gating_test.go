package gates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/aureon/internal/momentum"
	"github.com/sawpanic/aureon/internal/scan"
)

var now = time.Date(2026, 7, 3, 10, 0, 0, 0, time.UTC)

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	return cfg
}

func opportunity() scan.Opportunity {
	return scan.Opportunity{
		ID:         "opp-1",
		Venue:      "kraken",
		Symbol:     "BTC-USD",
		Direction:  momentum.Up,
		ChangePct:  2.4,
		Confidence: 0.8,
		Price:      64000,
		DetectedAt: now.Add(-10 * time.Second),
	}
}

func TestEvaluate_AllGatesPass(t *testing.T) {
	d := NewEvaluator(enabledConfig()).Evaluate(opportunity(), State{}, now)

	assert.True(t, d.Approved)
	assert.Empty(t, d.Reasons)
	require.Len(t, d.Checks, 9)

	names := make([]string, len(d.Checks))
	for i, c := range d.Checks {
		names[i] = c.Name
		assert.True(t, c.Passed, c.Name)
	}
	assert.Equal(t, []string{
		GateEnabled, GateConfidence, GateMove, GateDirection, GateVenue,
		GateOpenPositions, GateDailyTrades, GateSymbolCooldown, GateFreshness,
	}, names)
}

func TestEvaluate_LowConfidenceAlwaysRejects(t *testing.T) {
	cfg := enabledConfig()
	cfg.MinMovePct = 0
	cfg.MaxOpenPositions = 0
	cfg.MaxDailyTrades = 0
	cfg.SymbolCooldown = 0
	cfg.MaxSignalAge = 0
	cfg.AllowShorts = true
	e := NewEvaluator(cfg)

	for _, c := range []float64{0, 0.3, 0.6499} {
		opp := opportunity()
		opp.Confidence = c
		d := e.Evaluate(opp, State{}, now)
		assert.False(t, d.Approved, "confidence %.4f", c)
		assert.Equal(t, []string{GateConfidence}, d.Failed())
	}

	opp := opportunity()
	opp.Confidence = 0.65
	assert.True(t, e.Evaluate(opp, State{}, now).Approved, "threshold is inclusive")
}

func TestEvaluate_EveryGateIsReported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedVenues = []string{"binance"}

	opp := opportunity()
	opp.Direction = momentum.Down
	opp.ChangePct = -0.5
	opp.Confidence = 0.2
	opp.DetectedAt = now.Add(-5 * time.Minute)

	st := State{OpenPositions: 3, TradesToday: 10, LastTradeAt: now.Add(-time.Minute)}
	d := NewEvaluator(cfg).Evaluate(opp, st, now)

	assert.False(t, d.Approved)
	assert.ElementsMatch(t, []string{
		GateEnabled, GateConfidence, GateMove, GateDirection, GateVenue,
		GateOpenPositions, GateDailyTrades, GateSymbolCooldown, GateFreshness,
	}, d.Failed())
	assert.Len(t, d.Reasons, 9)
	assert.Contains(t, d.Reasons[1], "confidence 0.200 >= 0.650")
}

func TestEvaluate_ShortsAndVenues(t *testing.T) {
	cfg := enabledConfig()
	cfg.AllowedVenues = []string{"Kraken"}

	down := opportunity()
	down.Direction = momentum.Down
	down.ChangePct = -2.4

	assert.Equal(t, []string{GateDirection}, NewEvaluator(cfg).Evaluate(down, State{}, now).Failed())

	cfg.AllowShorts = true
	assert.True(t, NewEvaluator(cfg).Evaluate(down, State{}, now).Approved, "venue match is case-insensitive")

	other := opportunity()
	other.Venue = "alpaca"
	assert.Equal(t, []string{GateVenue}, NewEvaluator(cfg).Evaluate(other, State{}, now).Failed())
}

func TestEvaluate_Limits(t *testing.T) {
	e := NewEvaluator(enabledConfig())
	opp := opportunity()

	tests := []struct {
		name   string
		state  State
		failed []string
	}{
		{"below limits", State{OpenPositions: 2, TradesToday: 9}, nil},
		{"position limit reached", State{OpenPositions: 3}, []string{GateOpenPositions}},
		{"daily limit reached", State{TradesToday: 10}, []string{GateDailyTrades}},
		{"cooling down", State{LastTradeAt: now.Add(-29 * time.Minute)}, []string{GateSymbolCooldown}},
		{"cooldown elapsed", State{LastTradeAt: now.Add(-30 * time.Minute)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(opp, tt.state, now)
			assert.Equal(t, tt.failed, d.Failed())
			assert.Equal(t, tt.failed == nil, d.Approved)
		})
	}
}

func TestEvaluate_Freshness(t *testing.T) {
	e := NewEvaluator(enabledConfig())
	opp := opportunity()
	opp.DetectedAt = now.Add(-2*time.Minute - time.Second)
	assert.Equal(t, []string{GateFreshness}, e.Evaluate(opp, State{}, now).Failed())

	cfg := enabledConfig()
	cfg.MaxSignalAge = 0
	assert.True(t, NewEvaluator(cfg).Evaluate(opp, State{}, now).Approved)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxDailyTrades = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SymbolCooldown = -time.Second
	assert.Error(t, cfg.Validate())
}
