package execution

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice     = errors.New("sizer: price must be positive")
	ErrZeroQuantity     = errors.New("sizer: quantity rounds to zero")
	ErrNotionalTooLarge = errors.New("sizer: notional exceeds the per-order maximum")
)

// defaultPrecision is used for venues without a configured quantity step.
const defaultPrecision = 8

// Sizer turns a quote-currency budget into an order quantity.
type Sizer struct {
	notional decimal.Decimal
	max      decimal.Decimal
	steps    map[string]decimal.Decimal
}

// NewSizer returns a sizer spending notional per order. max <= 0 disables
// the ceiling. steps maps venue name to its quantity increment.
func NewSizer(notional, max decimal.Decimal, steps map[string]decimal.Decimal) *Sizer {
	if steps == nil {
		steps = map[string]decimal.Decimal{}
	}
	return &Sizer{notional: notional, max: max, steps: steps}
}

// Size returns the quantity to trade on venueName at price and the
// notional it represents. The quantity is rounded down to the venue step.
func (s *Sizer) Size(venueName string, price decimal.Decimal) (qty, notional decimal.Decimal, err error) {
	if !price.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidPrice
	}

	raw := s.notional.DivRound(price, 16)
	if step, ok := s.steps[venueName]; ok && step.IsPositive() {
		qty = raw.Div(step).Floor().Mul(step)
	} else {
		qty = raw.RoundDown(defaultPrecision)
	}
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s at %s", ErrZeroQuantity, s.notional, price)
	}

	notional = qty.Mul(price)
	if s.max.IsPositive() && notional.GreaterThan(s.max) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s > %s", ErrNotionalTooLarge, notional.StringFixed(2), s.max.StringFixed(2))
	}
	return qty, notional, nil
}
