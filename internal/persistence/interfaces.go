package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Opportunity is a persisted scanner detection.
type Opportunity struct {
	ID         string    `json:"id" db:"id"`
	Profile    string    `json:"profile" db:"profile"`
	Venue      string    `json:"venue" db:"venue"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Direction  string    `json:"direction" db:"direction"`
	ChangePct  float64   `json:"change_pct" db:"change_pct"`
	Weighted   float64   `json:"weighted" db:"weighted"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Price      float64   `json:"price" db:"price"`
	DetectedAt time.Time `json:"detected_at" db:"detected_at"`
}

// Execution statuses.
const (
	StatusFilled   = "filled"
	StatusAccepted = "accepted"
	StatusPartial  = "partially_filled"
	StatusRejected = "rejected" // rejected by the gates or the sizer
	StatusFailed   = "failed"   // the venue call failed
	StatusSkipped  = "skipped"  // approved while execution is off
)

// TradedStatuses are the statuses that represent an order on the book or filled.
var TradedStatuses = []string{StatusFilled, StatusAccepted, StatusPartial}

// Execution is one executor decision and, when an order was sent, its outcome.
type Execution struct {
	ID            string          `json:"id" db:"id"`
	OpportunityID string          `json:"opportunity_id" db:"opportunity_id"`
	Venue         string          `json:"venue" db:"venue"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Side          string          `json:"side" db:"side"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Notional      decimal.Decimal `json:"notional" db:"notional"`
	Status        string          `json:"status" db:"status"`
	VenueOrderID  string          `json:"venue_order_id,omitempty" db:"venue_order_id"`
	Mode          string          `json:"mode" db:"mode"`
	Reasons       []string        `json:"reasons,omitempty" db:"-"`
	Error         string          `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Traded reports whether the execution put an order on a venue.
func (e Execution) Traded() bool {
	for _, s := range TradedStatuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

// OpportunityRepo stores scanner detections.
type OpportunityRepo interface {
	Insert(ctx context.Context, o Opportunity) error
	// Latest returns the newest detections first.
	Latest(ctx context.Context, limit int) ([]Opportunity, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// ExecutionRepo stores executor outcomes and answers the questions the
// trade gates ask.
type ExecutionRepo interface {
	Insert(ctx context.Context, e Execution) error
	Latest(ctx context.Context, limit int) ([]Execution, error)
	// CountTradedSince counts traded executions created at or after since.
	CountTradedSince(ctx context.Context, since time.Time) (int64, error)
	// LastTradeAt returns ErrNotFound when the symbol was never traded.
	LastTradeAt(ctx context.Context, venue, symbol string) (time.Time, error)
	// OpenPositions counts venue/symbol pairs whose traded quantity does not
	// net to zero.
	OpenPositions(ctx context.Context) (int64, error)
}

// Repository aggregates the stores.
type Repository struct {
	Opportunities OpportunityRepo
	Executions    ExecutionRepo
	Ping          func(ctx context.Context) error
}

// HealthCheck is a point-in-time view of the backing store.
type HealthCheck struct {
	Enabled        bool           `json:"enabled"`
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}
