package app

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/config"
	"github.com/sawpanic/aureon/internal/metrics"
	"github.com/sawpanic/aureon/internal/net/budget"
	"github.com/sawpanic/aureon/internal/net/circuit"
	"github.com/sawpanic/aureon/internal/net/client"
	"github.com/sawpanic/aureon/internal/net/ratelimit"
	"github.com/sawpanic/aureon/internal/venue"
	"github.com/sawpanic/aureon/internal/venue/alpaca"
	"github.com/sawpanic/aureon/internal/venue/binance"
	"github.com/sawpanic/aureon/internal/venue/capital"
	"github.com/sawpanic/aureon/internal/venue/kraken"
)

// Venues is the venue registry plus the guards shared by its clients.
type Venues struct {
	Registry *venue.Registry
	Limiters *ratelimit.Manager
	Breakers *circuit.Manager
	Budgets  *budget.Manager
}

// NewVenues builds an adapter for every enabled venue, each behind its own
// rate limiter, circuit breaker and daily budget. m may be nil.
func NewVenues(cfg *config.Config, m *metrics.Registry) (*Venues, error) {
	var listener circuit.StateListener
	var observer client.Observer
	if m != nil {
		listener = m.SetBreakerState
		observer = m.ObserveVenueRequest
	}

	v := &Venues{
		Limiters: ratelimit.NewManager(),
		Breakers: circuit.NewManager(listener),
		Budgets:  budget.NewManager(),
	}
	v.Registry = venue.NewRegistry(v.Breakers.State)

	for _, name := range cfg.VenueNames() {
		vc := cfg.Venues[name]
		if !vc.Enabled {
			continue
		}
		hc := client.NewHTTPClient(client.Config{
			Venue:    name,
			Limiter:  v.Limiters.Add(name, vc.RPS, vc.Burst),
			Breaker:  v.Breakers.Add(name, vc.Circuit),
			Budget:   v.Budgets.Add(name, vc.DailyBudget, vc.ResetHour, vc.WarnThreshold),
			Retry:    vc.Retry,
			Observer: observer,
		}, vc.Timeout)

		adapter, err := buildVenue(name, vc, hc)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
		if err := v.Registry.Register(adapter); err != nil {
			return nil, err
		}
		log.Info().
			Str("component", "venues").
			Str("venue", name).
			Bool("trading", vc.TradingEnabled).
			Float64("rps", vc.RPS).
			Int64("daily_budget", vc.DailyBudget).
			Msg("Venue registered")
	}
	return v, nil
}

func buildVenue(name string, vc config.VenueConfig, hc *http.Client) (venue.Venue, error) {
	switch name {
	case config.Kraken:
		return kraken.New(kraken.Config{
			BaseURL:        vc.BaseURL,
			APIKey:         vc.APIKey,
			APISecret:      vc.APISecret,
			TradingEnabled: vc.TradingEnabled,
			HTTPClient:     hc,
		})
	case config.Binance:
		return binance.New(binance.Config{
			BaseURL:        vc.BaseURL,
			APIKey:         vc.APIKey,
			APISecret:      vc.APISecret,
			TradingEnabled: vc.TradingEnabled,
			HTTPClient:     hc,
		}), nil
	case config.Alpaca:
		return alpaca.New(alpaca.Config{
			DataURL:        vc.DataURL,
			TradingURL:     vc.BaseURL,
			KeyID:          vc.APIKey,
			SecretKey:      vc.APISecret,
			TradingEnabled: vc.TradingEnabled,
			HTTPClient:     hc,
		}), nil
	case config.Capital:
		return capital.New(capital.Config{
			BaseURL:        vc.BaseURL,
			APIKey:         vc.APIKey,
			Identifier:     vc.Identifier,
			Password:       vc.Password,
			TradingEnabled: vc.TradingEnabled,
			HTTPClient:     hc,
		}), nil
	default:
		return nil, fmt.Errorf("no adapter for venue %q", name)
	}
}

// QtySteps collects the configured quantity increments for the sizer.
func QtySteps(cfg *config.Config) (map[string]decimal.Decimal, error) {
	steps := make(map[string]decimal.Decimal)
	for name, vc := range cfg.Venues {
		step, ok, err := vc.Step()
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
		if ok {
			steps[name] = step
		}
	}
	return steps, nil
}
