package venue_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/aureon/internal/net/budget"
	"github.com/sawpanic/aureon/internal/net/circuit"
	"github.com/sawpanic/aureon/internal/net/client"
	"github.com/sawpanic/aureon/internal/venue"
	"github.com/sawpanic/aureon/internal/venue/venuetest"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := venue.NewRegistry(nil)
	require.NoError(t, reg.Register(venuetest.New("kraken")))
	require.NoError(t, reg.Register(venuetest.New("alpaca")))

	err := reg.Register(venuetest.New("kraken"))
	assert.Error(t, err, "duplicate names are rejected")
	assert.Error(t, reg.Register(venuetest.New("")))

	v, err := reg.Get("alpaca")
	require.NoError(t, err)
	assert.Equal(t, "alpaca", v.Name())

	_, err = reg.Get("binance")
	assert.Error(t, err)

	assert.Equal(t, []string{"alpaca", "kraken"}, reg.Names())
}

func TestRegistry_Ping(t *testing.T) {
	reg := venue.NewRegistry(func(name string) string {
		if name == "capital" {
			return "open"
		}
		return "closed"
	})
	healthy := venuetest.New("kraken")
	broken := venuetest.New("capital")
	broken.FailPing(errors.New("session expired"))
	require.NoError(t, reg.Register(healthy))
	require.NoError(t, reg.Register(broken))

	report := reg.Ping(context.Background(), time.Second)
	require.Len(t, report, 2)

	assert.True(t, report["kraken"].Healthy)
	assert.Equal(t, "closed", report["kraken"].Breaker)
	assert.False(t, report["capital"].Healthy)
	assert.Equal(t, "open", report["capital"].Breaker)
	assert.Contains(t, report["capital"].Error, "session expired")
}

func TestParseSymbol(t *testing.T) {
	s, err := venue.ParseSymbol(" btc-usd ")
	require.NoError(t, err)
	assert.Equal(t, venue.Symbol{Base: "BTC", Quote: "USD"}, s)
	assert.Equal(t, "BTC-USD", s.String())

	for _, bad := range []string{"", "BTCUSD", "BTC-", "-USD", "A-B-C"} {
		_, err := venue.ParseSymbol(bad)
		assert.Equal(t, venue.ErrCodeInvalidSymbol, venue.CodeOf(err), bad)
	}
}

func TestOrderRequest_Validate(t *testing.T) {
	ok := venue.OrderRequest{Symbol: "ETH-USD", Side: venue.SideBuy, Quantity: decimal.RequireFromString("0.5")}
	assert.NoError(t, ok.Validate())

	noQty := ok
	noQty.Quantity = decimal.Zero
	assert.Error(t, noQty.Validate())

	badSide := ok
	badSide.Side = "hold"
	assert.Error(t, badSide.Validate())
}

func TestWrapTransport(t *testing.T) {
	circuitErr := fmt.Errorf("get: %w", &client.Error{Venue: "kraken", Type: client.TypeCircuit, Err: circuit.ErrOpen})
	assert.Equal(t, venue.ErrCodeCircuitOpen, venue.CodeOf(venue.WrapTransport("kraken", circuitErr)))
	assert.True(t, venue.IsTemporary(venue.WrapTransport("kraken", circuitErr)))

	budgetErr := &client.Error{Venue: "kraken", Type: client.TypeBudget, Err: budget.ErrExhausted}
	wrapped := venue.WrapTransport("kraken", budgetErr)
	assert.Equal(t, venue.ErrCodeBudget, venue.CodeOf(wrapped))
	assert.False(t, venue.IsTemporary(wrapped))

	timeout := venue.WrapTransport("alpaca", context.DeadlineExceeded)
	assert.Equal(t, venue.ErrCodeTimeout, venue.CodeOf(timeout))

	assert.NoError(t, venue.WrapTransport("alpaca", nil))
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, venue.ErrCodeRateLimit, venue.StatusError("x", http.StatusTooManyRequests, "").Code)
	assert.Equal(t, venue.ErrCodeAuthentication, venue.StatusError("x", http.StatusUnauthorized, "").Code)
	assert.True(t, venue.StatusError("x", http.StatusBadGateway, "").Temporary)
	assert.Equal(t, "Bad Gateway", venue.StatusError("x", http.StatusBadGateway, "").Message)
}
