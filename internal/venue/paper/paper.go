// Package paper simulates order fills on top of a live market-data venue.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/venue"
)

const defaultMaxFills = 1000

// Venue forwards market data to the wrapped venue and fills market orders
// immediately at the current touch, adjusted by SlippageBps.
type Venue struct {
	venue.Venue
	slippageBps decimal.Decimal

	mu       sync.Mutex
	fills    []venue.OrderResult
	maxFills int
}

func Wrap(inner venue.Venue, slippageBps float64) *Venue {
	return &Venue{Venue: inner, slippageBps: decimal.NewFromFloat(slippageBps), maxFills: defaultMaxFills}
}

func (p *Venue) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &venue.Error{Venue: p.Name(), Code: venue.ErrCodeOrderRejected, Message: err.Error()}
	}
	t, err := p.Ticker(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("paper fill price: %w", err)
	}

	price := t.Price
	if req.Side == venue.SideBuy && t.Ask > 0 {
		price = t.Ask
	}
	if req.Side == venue.SideSell && t.Bid > 0 {
		price = t.Bid
	}
	if price <= 0 {
		return nil, &venue.Error{Venue: p.Name(), Code: venue.ErrCodeInsufficientData, Message: "no price to fill against"}
	}

	fill := decimal.NewFromFloat(price)
	adj := fill.Mul(p.slippageBps).Div(decimal.NewFromInt(10000))
	if req.Side == venue.SideBuy {
		fill = fill.Add(adj)
	} else {
		fill = fill.Sub(adj)
	}

	res := venue.OrderResult{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  "paper-" + uuid.NewString(),
		Venue:         p.Name(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        venue.OrderFilled,
		FilledQty:     req.Quantity,
		AvgPrice:      fill,
		SubmittedAt:   time.Now().UTC(),
	}

	p.mu.Lock()
	p.fills = append(p.fills, res)
	if over := len(p.fills) - p.maxFills; over > 0 {
		p.fills = append([]venue.OrderResult(nil), p.fills[over:]...)
	}
	p.mu.Unlock()
	return &res, nil
}

// Fills returns the newest simulated fills in submission order.
func (p *Venue) Fills() []venue.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]venue.OrderResult(nil), p.fills...)
}
