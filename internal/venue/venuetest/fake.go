// Package venuetest provides an in-memory venue for tests.
package venuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/venue"
)

// Fake is a scriptable venue.Venue.
type Fake struct {
	name string

	mu       sync.Mutex
	bars     map[string][]venue.Bar
	tickers  map[string]venue.Ticker
	barsErr  map[string]error
	orderErr error
	pingErr  error
	orders   []venue.OrderRequest
}

func New(name string) *Fake {
	return &Fake{
		name:    name,
		bars:    make(map[string][]venue.Bar),
		tickers: make(map[string]venue.Ticker),
		barsErr: make(map[string]error),
	}
}

func (f *Fake) Name() string { return f.name }

// SetCloses installs one bar per close price, one minute apart, with the
// given volumes (or 1 when volumes is nil). The ticker follows the last close.
func (f *Fake) SetCloses(symbol string, closes []float64, volumes []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]venue.Bar, len(closes))
	for i, c := range closes {
		vol := 1.0
		if volumes != nil {
			vol = volumes[i]
		}
		open := start.Add(time.Duration(i) * time.Minute)
		bars[i] = venue.Bar{
			Venue: f.name, Symbol: symbol, Interval: "1m",
			OpenTime: open, CloseTime: open.Add(time.Minute),
			Open: c, High: c, Low: c, Close: c, Volume: vol,
		}
	}
	f.bars[symbol] = bars
	if len(closes) > 0 {
		last := closes[len(closes)-1]
		f.tickers[symbol] = venue.Ticker{Venue: f.name, Symbol: symbol, Price: last, Timestamp: start}
	}
}

func (f *Fake) SetTicker(t venue.Ticker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Venue = f.name
	f.tickers[t.Symbol] = t
}

func (f *Fake) FailBars(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barsErr[symbol] = err
}

func (f *Fake) FailOrders(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderErr = err
}

func (f *Fake) FailPing(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// Orders returns the orders placed so far.
func (f *Fake) Orders() []venue.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]venue.OrderRequest(nil), f.orders...)
}

func (f *Fake) Ticker(ctx context.Context, symbol string) (*venue.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickers[symbol]
	if !ok {
		return nil, &venue.Error{Venue: f.name, Code: venue.ErrCodeInvalidSymbol, Message: "unknown symbol " + symbol}
	}
	return &t, nil
}

func (f *Fake) Bars(ctx context.Context, symbol, interval string, limit int) ([]venue.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.barsErr[symbol]; err != nil {
		return nil, err
	}
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, &venue.Error{Venue: f.name, Code: venue.ErrCodeInvalidSymbol, Message: "unknown symbol " + symbol}
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]venue.Bar(nil), bars...), nil
}

func (f *Fake) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.orders = append(f.orders, req)

	price := decimal.Zero
	if t, ok := f.tickers[req.Symbol]; ok {
		price = decimal.NewFromFloat(t.Price)
	}
	return &venue.OrderResult{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  fmt.Sprintf("%s-%d", f.name, len(f.orders)),
		Venue:         f.name,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        venue.OrderFilled,
		FilledQty:     req.Quantity,
		AvgPrice:      price,
		SubmittedAt:   time.Now().UTC(),
	}, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}
