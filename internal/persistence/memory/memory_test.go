package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/aureon/internal/persistence"
)

var t0 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func exec(id, venue, symbol, side, status string, qty string, at time.Time) persistence.Execution {
	return persistence.Execution{
		ID: id, Venue: venue, Symbol: symbol, Side: side, Status: status,
		Quantity: decimal.RequireFromString(qty), CreatedAt: at,
	}
}

func TestOpportunities_LatestAndCapacity(t *testing.T) {
	repo := New(3).Repository().Opportunities
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, persistence.Opportunity{
			ID:         string(rune('a' + i)),
			DetectedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := repo.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e", got[0].ID)
	assert.Equal(t, "d", got[1].ID)

	all, _ := repo.Latest(ctx, 0)
	assert.Len(t, all, 3, "oldest records are evicted past capacity")

	n, _ := repo.CountSince(ctx, t0.Add(3*time.Minute))
	assert.Equal(t, int64(2), n)
}

func TestExecutions_GateQueries(t *testing.T) {
	repo := New(0).Repository().Executions
	ctx := context.Background()

	for _, e := range []persistence.Execution{
		exec("1", "kraken", "BTC-USD", "buy", persistence.StatusFilled, "1", t0),
		exec("2", "kraken", "BTC-USD", "sell", persistence.StatusFilled, "1", t0.Add(time.Hour)),
		exec("3", "kraken", "ETH-USD", "buy", persistence.StatusAccepted, "2", t0.Add(2*time.Hour)),
		exec("4", "binance", "SOL-USD", "sell", persistence.StatusPartial, "5", t0.Add(3*time.Hour)),
		exec("5", "binance", "ADA-USD", "buy", persistence.StatusRejected, "9", t0.Add(4*time.Hour)),
		exec("6", "binance", "XRP-USD", "buy", persistence.StatusFailed, "9", t0.Add(5*time.Hour)),
	} {
		require.NoError(t, repo.Insert(ctx, e))
	}

	open, err := repo.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), open, "ETH long and SOL short stay open, BTC is flat")

	n, err := repo.CountTradedSince(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	last, err := repo.LastTradeAt(ctx, "kraken", "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), last)

	_, err = repo.LastTradeAt(ctx, "binance", "ADA-USD")
	assert.ErrorIs(t, err, persistence.ErrNotFound, "rejected decisions are not trades")

	latest, _ := repo.Latest(ctx, 1)
	require.Len(t, latest, 1)
	assert.Equal(t, "6", latest[0].ID)
}
