// Package venue defines the exchange abstraction shared by the scanner and
// the executor, plus the registry of configured venues.
package venue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Venue is one exchange or broker. Implementations must be safe for
// concurrent use.
type Venue interface {
	Name() string
	Ticker(ctx context.Context, symbol string) (*Ticker, error)
	// Bars returns up to limit bars, oldest first.
	Bars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error)
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	Ping(ctx context.Context) error
}

// Bar is one OHLCV candle.
type Bar struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Ticker is the latest price. Bid and Ask are zero when the venue does not
// report them.
type Ticker struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Venue         string          `json:"venue"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Notional      decimal.Decimal `json:"notional"`
}

// Validate checks the fields every adapter relies on.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("order: symbol is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("order: invalid side %q", r.Side)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("order: quantity must be positive, got %s", r.Quantity)
	}
	return nil
}

type OrderStatus string

const (
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderAccepted        OrderStatus = "accepted"
	OrderRejected        OrderStatus = "rejected"
)

type OrderResult struct {
	ClientOrderID string          `json:"client_order_id"`
	VenueOrderID  string          `json:"venue_order_id"`
	Venue         string          `json:"venue"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Status        OrderStatus     `json:"status"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// Symbol is a canonical BASE-QUOTE pair such as BTC-USD.
type Symbol struct {
	Base  string
	Quote string
}

func ParseSymbol(s string) (Symbol, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Symbol{}, &Error{Code: ErrCodeInvalidSymbol, Message: fmt.Sprintf("symbol %q is not BASE-QUOTE", s)}
	}
	return Symbol{Base: parts[0], Quote: parts[1]}, nil
}

func (s Symbol) String() string { return s.Base + "-" + s.Quote }
