package paper

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/aureon/internal/venue"
	"github.com/sawpanic/aureon/internal/venue/venuetest"
)

func TestPlaceMarketOrder_FillsAtTouchWithSlippage(t *testing.T) {
	live := venuetest.New("kraken")
	live.SetTicker(venue.Ticker{Symbol: "BTC-USD", Price: 100, Bid: 99, Ask: 101})
	p := Wrap(live, 10)

	buy, err := p.PlaceMarketOrder(context.Background(), venue.OrderRequest{
		ClientOrderID: "c1", Symbol: "BTC-USD", Side: venue.SideBuy, Quantity: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.True(t, buy.AvgPrice.Equal(decimal.RequireFromString("101.101")), buy.AvgPrice.String())
	assert.Equal(t, venue.OrderFilled, buy.Status)
	assert.Equal(t, "kraken", buy.Venue)
	assert.True(t, strings.HasPrefix(buy.VenueOrderID, "paper-"))

	sell, err := p.PlaceMarketOrder(context.Background(), venue.OrderRequest{
		ClientOrderID: "c2", Symbol: "BTC-USD", Side: venue.SideSell, Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, sell.AvgPrice.Equal(decimal.RequireFromString("98.901")), sell.AvgPrice.String())

	assert.Len(t, p.Fills(), 2)
	assert.Empty(t, live.Orders(), "paper orders never reach the live venue")
}

func TestPlaceMarketOrder_FallsBackToLastPrice(t *testing.T) {
	live := venuetest.New("alpaca")
	live.SetCloses("ETH-USD", []float64{3000, 3010}, nil)
	p := Wrap(live, 0)

	res, err := p.PlaceMarketOrder(context.Background(), venue.OrderRequest{Symbol: "ETH-USD", Side: venue.SideBuy, Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromInt(3010)))
}

func TestPlaceMarketOrder_UnknownSymbol(t *testing.T) {
	p := Wrap(venuetest.New("binance"), 0)

	_, err := p.PlaceMarketOrder(context.Background(), venue.OrderRequest{Symbol: "XRP-USD", Side: venue.SideBuy, Quantity: decimal.NewFromInt(1)})
	assert.Equal(t, venue.ErrCodeInvalidSymbol, venue.CodeOf(err))
}

func TestFills_KeepsNewest(t *testing.T) {
	live := venuetest.New("kraken")
	live.SetTicker(venue.Ticker{Symbol: "BTC-USD", Price: 100})
	p := Wrap(live, 0)
	p.maxFills = 3

	for i := 1; i <= 5; i++ {
		_, err := p.PlaceMarketOrder(context.Background(), venue.OrderRequest{
			ClientOrderID: fmt.Sprintf("c%d", i), Symbol: "BTC-USD", Side: venue.SideBuy, Quantity: decimal.NewFromInt(1),
		})
		require.NoError(t, err)
	}

	fills := p.Fills()
	require.Len(t, fills, 3)
	assert.Equal(t, "c3", fills[0].ClientOrderID)
	assert.Equal(t, "c5", fills[2].ClientOrderID)
}
