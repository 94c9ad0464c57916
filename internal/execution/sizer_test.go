package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSizer_Size(t *testing.T) {
	s := NewSizer(d("250"), d("300"), map[string]decimal.Decimal{
		"binance": d("0.001"),
		"capital": d("1"),
	})

	tests := []struct {
		name     string
		venue    string
		price    string
		qty      string
		notional string
	}{
		{"step rounds down", "binance", "3100", "0.08", "248"},
		{"whole units", "capital", "64000.5", "0", ""},
		{"whole units fit", "capital", "120", "2", "240"},
		{"default precision", "kraken", "3", "83.33333333", "249.99999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, notional, err := s.Size(tt.venue, d(tt.price))
			if tt.qty == "0" {
				assert.ErrorIs(t, err, ErrZeroQuantity)
				return
			}
			require.NoError(t, err)
			assert.True(t, d(tt.qty).Equal(qty), "qty %s", qty)
			assert.True(t, d(tt.notional).Equal(notional), "notional %s", notional)
		})
	}
}

func TestSizer_Errors(t *testing.T) {
	s := NewSizer(d("100"), d("50"), nil)

	_, _, err := s.Size("kraken", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, _, err = s.Size("kraken", d("10"))
	assert.ErrorIs(t, err, ErrNotionalTooLarge)

	unbounded := NewSizer(d("100"), decimal.Zero, nil)
	qty, _, err := unbounded.Size("kraken", d("10"))
	require.NoError(t, err)
	assert.True(t, d("10").Equal(qty))
}
