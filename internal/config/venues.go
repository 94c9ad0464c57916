package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/net/circuit"
	"github.com/sawpanic/aureon/internal/net/client"
)

// Venue names with a built-in adapter.
const (
	Kraken  = "kraken"
	Binance = "binance"
	Alpaca  = "alpaca"
	Capital = "capital"
)

var knownVenues = map[string]bool{Kraken: true, Binance: true, Alpaca: true, Capital: true}

// VenueConfig configures one venue adapter and the guards wrapped around
// its HTTP client.
type VenueConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	DataURL        string        `yaml:"data_url"`
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	Identifier     string        `yaml:"identifier"`
	Password       string        `yaml:"password"`
	TradingEnabled bool          `yaml:"trading_enabled"`
	Timeout        time.Duration `yaml:"timeout"`

	RPS           float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
	DailyBudget   int64   `yaml:"daily_budget"` // requests per UTC day, 0 is unlimited
	ResetHour     int     `yaml:"reset_hour"`
	WarnThreshold float64 `yaml:"warn_threshold"`

	Circuit circuit.Config     `yaml:"circuit"`
	Retry   client.RetryPolicy `yaml:"retry"`

	// QtyStep is the smallest order quantity increment, e.g. "0.0001".
	QtyStep string `yaml:"qty_step"`
}

func defaultVenue(rps float64, burst int) VenueConfig {
	return VenueConfig{
		Timeout:       10 * time.Second,
		RPS:           rps,
		Burst:         burst,
		WarnThreshold: 0.8,
		Circuit:       circuit.DefaultConfig(),
		Retry:         client.DefaultRetryPolicy(),
	}
}

func defaultVenues() map[string]VenueConfig {
	kraken := defaultVenue(1, 2)
	kraken.Enabled = true
	binance := defaultVenue(10, 20)
	binance.Enabled = true
	return map[string]VenueConfig{
		Kraken:  kraken,
		Binance: binance,
		Alpaca:  defaultVenue(3, 5),
		Capital: defaultVenue(5, 10),
	}
}

// withDefaults fills the fields a partial YAML entry leaves at zero.
func (v VenueConfig) withDefaults(name string) VenueConfig {
	def, ok := defaultVenues()[name]
	if !ok {
		def = defaultVenue(1, 1)
	}
	if v.Timeout == 0 {
		v.Timeout = def.Timeout
	}
	if v.RPS == 0 {
		v.RPS = def.RPS
	}
	if v.Burst == 0 {
		v.Burst = def.Burst
	}
	if v.WarnThreshold == 0 {
		v.WarnThreshold = def.WarnThreshold
	}
	if v.Circuit == (circuit.Config{}) {
		v.Circuit = def.Circuit
	}
	if v.Retry == (client.RetryPolicy{}) {
		v.Retry = def.Retry
	}
	return v
}

// Step parses QtyStep; ok is false when no step is configured.
func (v VenueConfig) Step() (step decimal.Decimal, ok bool, err error) {
	if v.QtyStep == "" {
		return decimal.Zero, false, nil
	}
	step, err = decimal.NewFromString(v.QtyStep)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("qty_step %q: %w", v.QtyStep, err)
	}
	if !step.IsPositive() {
		return decimal.Zero, false, fmt.Errorf("qty_step must be positive, got %s", v.QtyStep)
	}
	return step, true, nil
}

// Validate ensures a venue configuration is usable. Credentials are only
// required where the adapter cannot work without them.
func (v VenueConfig) Validate(name string) error {
	if !knownVenues[name] {
		return fmt.Errorf("unknown venue %q", name)
	}
	if v.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %g", v.RPS)
	}
	if v.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", v.Burst)
	}
	if v.DailyBudget < 0 {
		return fmt.Errorf("daily_budget cannot be negative, got %d", v.DailyBudget)
	}
	if v.ResetHour < 0 || v.ResetHour > 23 {
		return fmt.Errorf("reset_hour must be between 0 and 23, got %d", v.ResetHour)
	}
	if v.WarnThreshold <= 0 || v.WarnThreshold > 1 {
		return fmt.Errorf("warn_threshold must be between 0 and 1, got %g", v.WarnThreshold)
	}
	if v.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if v.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if v.Retry.Max < v.Retry.Base {
		return fmt.Errorf("retry.max (%s) must be >= retry.base (%s)", v.Retry.Max, v.Retry.Base)
	}
	if v.Circuit.ConsecutiveFailures == 0 {
		return fmt.Errorf("circuit.consecutive_failures must be positive")
	}
	if v.Circuit.FailureRatio < 0 || v.Circuit.FailureRatio > 1 {
		return fmt.Errorf("circuit.failure_ratio must be between 0 and 1, got %g", v.Circuit.FailureRatio)
	}
	if _, _, err := v.Step(); err != nil {
		return err
	}

	if !v.Enabled {
		return nil
	}
	switch name {
	case Capital:
		if v.APIKey == "" || v.Identifier == "" || v.Password == "" {
			return fmt.Errorf("capital needs api_key, identifier and password (CAPITAL_API_KEY, CAPITAL_IDENTIFIER, CAPITAL_PASSWORD)")
		}
	default:
		if v.TradingEnabled && (v.APIKey == "" || v.APISecret == "") {
			return fmt.Errorf("trading_enabled needs api_key and api_secret")
		}
	}
	return nil
}
