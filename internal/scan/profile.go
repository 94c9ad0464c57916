package scan

import (
	"fmt"
	"time"

	"github.com/sawpanic/aureon/internal/momentum"
	"github.com/sawpanic/aureon/internal/persistence"
	"github.com/sawpanic/aureon/internal/venue"
)

// Profile is one named scan configuration. Each profile runs on its own
// ticker and keeps its own cooldowns.
type Profile struct {
	Name         string        `yaml:"name" json:"name"`
	Venues       []string      `yaml:"venues" json:"venues"`
	Symbols      []string      `yaml:"symbols" json:"symbols"`
	Interval     string        `yaml:"interval" json:"interval"`
	Lookback     int           `yaml:"lookback" json:"lookback"`
	ThresholdPct float64       `yaml:"threshold_pct" json:"threshold_pct"`
	Decay        float64       `yaml:"decay" json:"decay"`
	PollEvery    time.Duration `yaml:"poll_every" json:"poll_every"`
	// Cooldown suppresses repeats of the same venue, symbol and direction.
	// Zero means the default; a negative value disables it.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// WithDefaults fills unset optional fields.
func (p Profile) WithDefaults() Profile {
	if p.Interval == "" {
		p.Interval = "1m"
	}
	if p.Lookback == 0 {
		p.Lookback = 15
	}
	if p.Decay == 0 {
		p.Decay = 0.9
	}
	if p.PollEvery == 0 {
		p.PollEvery = time.Minute
	}
	if p.Cooldown == 0 {
		p.Cooldown = 15 * time.Minute
	}
	return p
}

func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Venues) == 0 {
		return fmt.Errorf("profile %s: at least one venue is required", p.Name)
	}
	if len(p.Symbols) == 0 {
		return fmt.Errorf("profile %s: at least one symbol is required", p.Name)
	}
	for _, s := range p.Symbols {
		if _, err := venue.ParseSymbol(s); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
	}
	if p.Lookback < 1 {
		return fmt.Errorf("profile %s: lookback must be >= 1, got %d", p.Name, p.Lookback)
	}
	if p.ThresholdPct <= 0 {
		return fmt.Errorf("profile %s: threshold_pct must be positive, got %.3f", p.Name, p.ThresholdPct)
	}
	if p.Decay <= 0 || p.Decay > 1 {
		return fmt.Errorf("profile %s: decay must be within (0,1], got %.3f", p.Name, p.Decay)
	}
	if p.PollEvery <= 0 {
		return fmt.Errorf("profile %s: poll_every must be positive", p.Name)
	}
	return nil
}

// Opportunity is a detected move that cleared the profile threshold.
type Opportunity struct {
	ID         string             `json:"id"`
	Profile    string             `json:"profile"`
	Venue      string             `json:"venue"`
	Symbol     string             `json:"symbol"`
	Direction  momentum.Direction `json:"direction"`
	ChangePct  float64            `json:"change_pct"`
	Weighted   float64            `json:"weighted"`
	Confidence float64            `json:"confidence"`
	Price      float64            `json:"price"`
	DetectedAt time.Time          `json:"detected_at"`
	Signal     momentum.Signal    `json:"signal"`
}

// Record converts the opportunity to its stored form.
func (o Opportunity) Record() persistence.Opportunity {
	return persistence.Opportunity{
		ID:         o.ID,
		Profile:    o.Profile,
		Venue:      o.Venue,
		Symbol:     o.Symbol,
		Direction:  string(o.Direction),
		ChangePct:  o.ChangePct,
		Weighted:   o.Weighted,
		Confidence: o.Confidence,
		Price:      o.Price,
		DetectedAt: o.DetectedAt,
	}
}

// cooldownKey scopes suppression to profile, venue, symbol and direction so
// a reversal is reported immediately.
func cooldownKey(profile, venueName, symbol string, dir momentum.Direction) string {
	return fmt.Sprintf("cooldown:%s:%s:%s:%s", profile, venueName, symbol, dir)
}
