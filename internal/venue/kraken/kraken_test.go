package kraken

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/aureon/internal/venue"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

func newTestClient(t *testing.T, h http.HandlerFunc, trading bool) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "key", APISecret: testSecret, TradingEnabled: trading})
	require.NoError(t, err)
	c.nonce = func() string { return "1700000000000000" }
	return c
}

func TestPair(t *testing.T) {
	p, err := Pair("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "XBTUSD", p)

	p, err = Pair("eth-eur")
	require.NoError(t, err)
	assert.Equal(t, "ETHEUR", p)

	_, err = Pair("BTCUSD")
	assert.Error(t, err)
}

func TestTicker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Ticker", r.URL.Path)
		assert.Equal(t, "XBTUSD", r.URL.Query().Get("pair"))
		io.WriteString(w, `{"error":[],"result":{"XXBTZUSD":{"a":["65010.1","1","1.000"],"b":["65000.0","2","2.000"],"c":["65005.5","0.01"]}}}`)
	}, false)

	tk, err := c.Ticker(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 65005.5, tk.Price)
	assert.Equal(t, 65000.0, tk.Bid)
	assert.Equal(t, 65010.1, tk.Ask)
	assert.Equal(t, "BTC-USD", tk.Symbol)
}

func TestBars(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/OHLC", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("interval"))
		io.WriteString(w, `{"error":[],"result":{"XXBTZUSD":[
			[1700000000,"100.0","101.0","99.0","100.5","100.2","10.0",5],
			[1700000300,"100.5","103.0","100.0","102.0","101.5","12.5",7],
			[1700000600,"102.0","104.0","101.0","103.0","102.8","8.0",4]
		],"last":1700000600}}`)
	}, false)

	bars, err := c.Bars(context.Background(), "BTC-USD", "5m", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 102.0, bars[0].Close)
	assert.Equal(t, 12.5, bars[0].Volume)
	assert.Equal(t, 103.0, bars[1].Close)
	assert.Equal(t, int64(1700000600), bars[1].OpenTime.Unix())
	assert.True(t, bars[0].OpenTime.Before(bars[1].OpenTime))
}

func TestBars_UnsupportedInterval(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, false)

	_, err := c.Bars(context.Background(), "BTC-USD", "7m", 10)
	assert.Equal(t, venue.ErrCodeInvalidData, venue.CodeOf(err))
}

func TestAPIErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":["EQuery:Unknown asset pair"]}`)
	}, false)

	_, err := c.Ticker(context.Background(), "FOO-USD")
	assert.Equal(t, venue.ErrCodeInvalidSymbol, venue.CodeOf(err))
}

func TestHTTPStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, false)

	_, err := c.Ticker(context.Background(), "BTC-USD")
	assert.Equal(t, venue.ErrCodeRateLimit, venue.CodeOf(err))
	assert.True(t, venue.IsTemporary(err))
}

func TestPlaceMarketOrder_SignsRequest(t *testing.T) {
	secret, _ := base64.StdEncoding.DecodeString(testSecret)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/0/private/AddOrder", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("API-Key"))

		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		assert.NoError(t, err)
		assert.Equal(t, "market", form.Get("ordertype"))
		assert.Equal(t, "buy", form.Get("type"))
		assert.Equal(t, "0.015", form.Get("volume"))
		assert.Equal(t, "XBTUSD", form.Get("pair"))
		assert.Equal(t, "cid-1", form.Get("cl_ord_id"))
		assert.Equal(t, Sign("/0/private/AddOrder", form.Get("nonce"), string(body), secret), r.Header.Get("API-Sign"))

		io.WriteString(w, `{"error":[],"result":{"descr":{"order":"buy 0.015 XBTUSD @ market"},"txid":["OABC12-DEF34-GHI56"]}}`)
	}, true)

	res, err := c.PlaceMarketOrder(context.Background(), venue.OrderRequest{
		ClientOrderID: "cid-1",
		Symbol:        "BTC-USD",
		Side:          venue.SideBuy,
		Quantity:      decimal.RequireFromString("0.015"),
	})
	require.NoError(t, err)
	assert.Equal(t, "OABC12-DEF34-GHI56", res.VenueOrderID)
	assert.Equal(t, venue.OrderAccepted, res.Status)
}

func TestPlaceMarketOrder_TradingDisabled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, false)

	_, err := c.PlaceMarketOrder(context.Background(), venue.OrderRequest{Symbol: "BTC-USD", Side: venue.SideBuy, Quantity: decimal.NewFromInt(1)})
	assert.Equal(t, venue.ErrCodeTradingDisabled, venue.CodeOf(err))
}

func TestPlaceMarketOrder_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":["EOrder:Insufficient funds"]}`)
	}, true)

	_, err := c.PlaceMarketOrder(context.Background(), venue.OrderRequest{Symbol: "BTC-USD", Side: venue.SideSell, Quantity: decimal.NewFromInt(1)})
	assert.Equal(t, venue.ErrCodeOrderRejected, venue.CodeOf(err))
}

func TestPing(t *testing.T) {
	var status atomic.Value
	status.Store("online")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":[],"result":{"status":"`+status.Load().(string)+`","timestamp":"2026-01-01T00:00:00Z"}}`)
	}, false)

	assert.NoError(t, c.Ping(context.Background()))
	status.Store("maintenance")
	assert.Error(t, c.Ping(context.Background()))
}

func TestNew_RejectsBadSecret(t *testing.T) {
	_, err := New(Config{APISecret: "%%%"})
	assert.Error(t, err)
}
