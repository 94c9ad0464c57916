package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/aureon/internal/gates"
	"github.com/sawpanic/aureon/internal/momentum"
	"github.com/sawpanic/aureon/internal/persistence"
	"github.com/sawpanic/aureon/internal/persistence/memory"
	"github.com/sawpanic/aureon/internal/scan"
	"github.com/sawpanic/aureon/internal/venue"
	"github.com/sawpanic/aureon/internal/venue/venuetest"
)

var clock = time.Date(2026, 8, 12, 15, 4, 5, 0, time.UTC)

type harness struct {
	exec   *Executor
	kraken *venuetest.Fake
	repo   persistence.ExecutionRepo
}

func newHarness(t *testing.T, mode Mode) *harness {
	t.Helper()
	kraken := venuetest.New("kraken")
	kraken.SetCloses("BTC-USD", []float64{64000}, nil)
	kraken.SetCloses("ETH-USD", []float64{3200}, nil)
	reg := venue.NewRegistry(nil)
	require.NoError(t, reg.Register(kraken))

	gcfg := gates.DefaultConfig()
	gcfg.Enabled = true
	gcfg.AllowShorts = true

	sizer := NewSizer(decimal.NewFromInt(100), decimal.NewFromInt(500),
		map[string]decimal.Decimal{"kraken": decimal.RequireFromString("0.0001")})
	repo := memory.New(0).Repository().Executions

	cfg := DefaultConfig()
	cfg.Mode = mode
	e, err := NewExecutor(cfg, gates.NewEvaluator(gcfg), sizer, reg, repo, nil)
	require.NoError(t, err)
	e.now = func() time.Time { return clock }
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("exec-%d", n)
	}
	return &harness{exec: e, kraken: kraken, repo: repo}
}

func opp(symbol string, dir momentum.Direction, price float64) scan.Opportunity {
	change := 2.5
	if dir == momentum.Down {
		change = -2.5
	}
	return scan.Opportunity{
		ID: "opp-" + symbol, Profile: "fast", Venue: "kraken", Symbol: symbol,
		Direction: dir, ChangePct: change, Confidence: 0.9, Price: price,
		DetectedAt: clock.Add(-5 * time.Second),
	}
}

func TestHandle_LiveOrder(t *testing.T) {
	h := newHarness(t, ModeLive)

	got, err := h.exec.Handle(context.Background(), opp("BTC-USD", momentum.Up, 64000))
	require.NoError(t, err)

	assert.Equal(t, persistence.StatusFilled, got.Status)
	assert.Equal(t, "buy", got.Side)
	assert.Equal(t, "kraken-1", got.VenueOrderID)
	assert.Equal(t, "0.0015", got.Quantity.String())
	assert.True(t, decimal.NewFromInt(96).Equal(got.Notional))
	assert.Equal(t, "live", got.Mode)
	assert.Empty(t, got.Reasons)

	orders := h.kraken.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "exec-1", orders[0].ClientOrderID)
	assert.Equal(t, venue.SideBuy, orders[0].Side)

	stored, _ := h.repo.Latest(context.Background(), 10)
	require.Len(t, stored, 1)
	assert.Equal(t, "opp-BTC-USD", stored[0].OpportunityID)

	assert.Equal(t, Stats{Mode: ModeLive, Handled: 1, Approved: 1, Orders: 1}, h.exec.Stats())
}

func TestHandle_DownIsSell(t *testing.T) {
	h := newHarness(t, ModeLive)
	got, err := h.exec.Handle(context.Background(), opp("ETH-USD", momentum.Down, 3200))
	require.NoError(t, err)
	assert.Equal(t, "sell", got.Side)
	assert.Equal(t, "0.0312", got.Quantity.String())
}

func TestHandle_GateRejection(t *testing.T) {
	h := newHarness(t, ModeLive)
	o := opp("BTC-USD", momentum.Up, 64000)
	o.Confidence = 0.1

	got, err := h.exec.Handle(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, persistence.StatusRejected, got.Status)
	require.Len(t, got.Reasons, 1)
	assert.True(t, strings.HasPrefix(got.Reasons[0], "confidence:"))
	assert.Empty(t, h.kraken.Orders())

	stored, _ := h.repo.Latest(context.Background(), 10)
	assert.Len(t, stored, 1, "rejections are recorded")
}

func TestHandle_SymbolCooldownFromHistory(t *testing.T) {
	h := newHarness(t, ModeLive)
	ctx := context.Background()

	first, err := h.exec.Handle(ctx, opp("BTC-USD", momentum.Up, 64000))
	require.NoError(t, err)
	require.Equal(t, persistence.StatusFilled, first.Status)

	second, err := h.exec.Handle(ctx, opp("BTC-USD", momentum.Up, 64000))
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusRejected, second.Status)
	assert.Contains(t, second.Reasons[0], "symbol_cooldown")

	other, err := h.exec.Handle(ctx, opp("ETH-USD", momentum.Up, 3200))
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusFilled, other.Status)
	assert.Len(t, h.kraken.Orders(), 2)
}

func TestHandle_ModeOffRecordsWithoutOrdering(t *testing.T) {
	h := newHarness(t, ModeOff)
	got, err := h.exec.Handle(context.Background(), opp("BTC-USD", momentum.Up, 64000))
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusSkipped, got.Status)
	assert.Equal(t, "0.0015", got.Quantity.String())
	assert.Empty(t, h.kraken.Orders())
}

func TestHandle_PaperFillsLocally(t *testing.T) {
	h := newHarness(t, ModePaper)
	got, err := h.exec.Handle(context.Background(), opp("BTC-USD", momentum.Up, 64000))
	require.NoError(t, err)

	assert.Equal(t, persistence.StatusFilled, got.Status)
	assert.True(t, strings.HasPrefix(got.VenueOrderID, "paper-"))
	assert.Equal(t, "64032", got.Price.String(), "5 bps slippage on the buy")
	assert.Empty(t, h.kraken.Orders(), "paper orders never reach the venue")
}

func TestHandle_VenueFailures(t *testing.T) {
	h := newHarness(t, ModeLive)
	h.kraken.FailOrders(&venue.Error{Venue: "kraken", Code: venue.ErrCodeNetworkError, Message: "connection reset", Temporary: true})

	got, err := h.exec.Handle(context.Background(), opp("BTC-USD", momentum.Up, 64000))
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "connection reset")
	assert.False(t, got.Traded())

	h.kraken.FailOrders(&venue.Error{Venue: "kraken", Code: venue.ErrCodeOrderRejected, Message: "EOrder:Insufficient funds"})
	got, err = h.exec.Handle(context.Background(), opp("ETH-USD", momentum.Up, 3200))
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusRejected, got.Status)
	assert.Contains(t, got.Error, "Insufficient funds")

	st := h.exec.Stats()
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(1), st.Rejected)
	assert.Equal(t, int64(0), st.Orders)
}

func TestHandle_UnsizeableIsRejected(t *testing.T) {
	h := newHarness(t, ModeLive)
	got, err := h.exec.Handle(context.Background(), opp("BTC-USD", momentum.Up, 2_000_000))
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusRejected, got.Status)
	assert.Contains(t, got.Reasons[len(got.Reasons)-1], "quantity rounds to zero")
}

type brokenRepo struct{ persistence.ExecutionRepo }

func (brokenRepo) OpenPositions(context.Context) (int64, error) {
	return 0, errors.New("db down")
}

func (brokenRepo) Insert(context.Context, persistence.Execution) error {
	return errors.New("db down")
}

func TestHandle_StateErrorIsReturned(t *testing.T) {
	h := newHarness(t, ModeLive)
	h.exec.repo = brokenRepo{}

	got, err := h.exec.Handle(context.Background(), opp("BTC-USD", momentum.Up, 64000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open positions")
	assert.Equal(t, persistence.StatusFailed, got.Status)
	assert.Empty(t, h.kraken.Orders())
}

// cancelOnFill cancels the caller's context right after the venue accepts
// the order, as a shutdown signal arriving mid-trade would.
type cancelOnFill struct {
	venue.Venue
	cancel context.CancelFunc
}

func (c cancelOnFill) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	res, err := c.Venue.PlaceMarketOrder(ctx, req)
	c.cancel()
	return res, err
}

// ctxRepo fails inserts whose context is already done, like a database
// driver would.
type ctxRepo struct{ persistence.ExecutionRepo }

func (r ctxRepo) Insert(ctx context.Context, e persistence.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.ExecutionRepo.Insert(ctx, e)
}

func TestHandle_FillRecordedAfterCancel(t *testing.T) {
	h := newHarness(t, ModeLive)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := venue.NewRegistry(nil)
	require.NoError(t, reg.Register(cancelOnFill{Venue: h.kraken, cancel: cancel}))
	h.exec.venues = reg
	h.exec.repo = ctxRepo{h.repo}

	got, err := h.exec.Handle(ctx, opp("BTC-USD", momentum.Up, 64000))
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusFilled, got.Status)
	require.Error(t, ctx.Err())

	stored, err := h.repo.Latest(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "kraken-1", stored[0].VenueOrderID)
}

func TestRun_ConsumesSequentially(t *testing.T) {
	h := newHarness(t, ModeLive)
	in := make(chan scan.Opportunity, 3)
	in <- opp("BTC-USD", momentum.Up, 64000)
	in <- opp("BTC-USD", momentum.Up, 64000)
	in <- opp("ETH-USD", momentum.Up, 3200)
	close(in)

	require.NoError(t, h.exec.Run(context.Background(), in))
	assert.Len(t, h.kraken.Orders(), 2)
	assert.Equal(t, int64(3), h.exec.Stats().Handled)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Paper ")
	require.NoError(t, err)
	assert.Equal(t, ModePaper, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeOff, m)

	_, err = ParseMode("yolo")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.OrderNotional = 1000
	assert.ErrorContains(t, cfg.Validate(), "exceeds")

	cfg = DefaultConfig()
	cfg.Mode = "yolo"
	assert.Error(t, cfg.Validate())
}
