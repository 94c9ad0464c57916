// Package alpaca implements venue.Venue against Alpaca's crypto market data
// and trading APIs.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/venue"
)

const (
	Name               = "alpaca"
	DefaultDataURL     = "https://data.alpaca.markets"
	DefaultTradingURL  = "https://paper-api.alpaca.markets"
	headerKeyID        = "APCA-API-KEY-ID"
	headerSecretKey    = "APCA-API-SECRET-KEY"
	cryptoFeedLocation = "us"
)

type Config struct {
	DataURL        string
	TradingURL     string
	KeyID          string
	SecretKey      string
	TradingEnabled bool
	HTTPClient     *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.DataURL == "" {
		cfg.DataURL = DefaultDataURL
	}
	if cfg.TradingURL == "" {
		cfg.TradingURL = DefaultTradingURL
	}
	cfg.DataURL = strings.TrimRight(cfg.DataURL, "/")
	cfg.TradingURL = strings.TrimRight(cfg.TradingURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) Name() string { return Name }

// Pair maps BTC-USD to BTC/USD.
func Pair(symbol string) (string, error) {
	s, err := venue.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return s.Base + "/" + s.Quote, nil
}

var timeframes = map[string]string{
	"1m": "1Min", "5m": "5Min", "15m": "15Min", "30m": "30Min",
	"1h": "1Hour", "4h": "4Hour", "1d": "1Day",
}

var durations = map[string]time.Duration{
	"1m": time.Minute, "5m": 5 * time.Minute, "15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1h": time.Hour, "4h": 4 * time.Hour, "1d": 24 * time.Hour,
}

func (c *Client) Ticker(ctx context.Context, symbol string) (*venue.Ticker, error) {
	pair, err := Pair(symbol)
	if err != nil {
		return nil, err
	}

	var out struct {
		Quotes map[string]struct {
			Bid  float64   `json:"bp"`
			Ask  float64   `json:"ap"`
			Time time.Time `json:"t"`
		} `json:"quotes"`
	}
	u := fmt.Sprintf("%s/v1beta3/crypto/%s/latest/quotes?%s", c.cfg.DataURL, cryptoFeedLocation, url.Values{"symbols": {pair}}.Encode())
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	q, ok := out.Quotes[pair]
	if !ok || (q.Bid <= 0 && q.Ask <= 0) {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInsufficientData, Message: "no quote for " + pair}
	}

	price := (q.Bid + q.Ask) / 2
	if q.Bid <= 0 || q.Ask <= 0 {
		price = q.Bid + q.Ask
	}
	return &venue.Ticker{Venue: Name, Symbol: symbol, Price: price, Bid: q.Bid, Ask: q.Ask, Timestamp: q.Time.UTC()}, nil
}

func (c *Client) Bars(ctx context.Context, symbol, interval string, limit int) ([]venue.Bar, error) {
	pair, err := Pair(symbol)
	if err != nil {
		return nil, err
	}
	tf, ok := timeframes[interval]
	if !ok {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "unsupported interval " + interval}
	}
	if limit <= 0 {
		limit = 100
	}

	q := url.Values{
		"symbols":   {pair},
		"timeframe": {tf},
		"limit":     {fmt.Sprint(limit)},
		"sort":      {"desc"},
	}
	var out struct {
		Bars map[string][]struct {
			Time   time.Time `json:"t"`
			Open   float64   `json:"o"`
			High   float64   `json:"h"`
			Low    float64   `json:"l"`
			Close  float64   `json:"c"`
			Volume float64   `json:"v"`
		} `json:"bars"`
	}
	u := fmt.Sprintf("%s/v1beta3/crypto/%s/bars?%s", c.cfg.DataURL, cryptoFeedLocation, q.Encode())
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}

	raw := out.Bars[pair]
	step := durations[interval]
	bars := make([]venue.Bar, len(raw))
	// sort=desc returns newest first
	for i, b := range raw {
		bars[len(raw)-1-i] = venue.Bar{
			Venue:     Name,
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  b.Time.UTC(),
			CloseTime: b.Time.UTC().Add(step),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return bars, nil
}

type orderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Status         string    `json:"status"`
	FilledQty      string    `json:"filled_qty"`
	FilledAvgPrice *string   `json:"filled_avg_price"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	if !c.cfg.TradingEnabled || c.cfg.KeyID == "" || c.cfg.SecretKey == "" {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeTradingDisabled, Message: "trading disabled or credentials missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeOrderRejected, Message: err.Error()}
	}
	pair, err := Pair(req.Symbol)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(orderBody{
		Symbol:        pair,
		Qty:           req.Quantity.String(),
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "gtc",
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: encode order: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TradingURL+"/v2/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("alpaca: build request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	var res orderResponse
	if err := c.do(hreq, &res); err != nil {
		var ve *venue.Error
		if errors.As(err, &ve) && ve.HTTPStatus == http.StatusUnprocessableEntity {
			ve.Code = venue.ErrCodeOrderRejected
		}
		return nil, err
	}

	var avgRaw string
	if res.FilledAvgPrice != nil {
		avgRaw = *res.FilledAvgPrice
	}
	avg, err := orderDecimal("filled_avg_price", avgRaw)
	if err != nil {
		return nil, err
	}
	filled, err := orderDecimal("filled_qty", res.FilledQty)
	if err != nil {
		return nil, err
	}

	return &venue.OrderResult{
		ClientOrderID: res.ClientOrderID,
		VenueOrderID:  res.ID,
		Venue:         Name,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        orderStatus(res.Status),
		FilledQty:     filled,
		AvgPrice:      avg,
		SubmittedAt:   res.SubmittedAt.UTC(),
	}, nil
}

// orderDecimal parses an order amount. An empty value is zero.
func orderDecimal(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "decode " + field, Cause: err}
	}
	return d, nil
}

// Ping checks the account when credentials are set, otherwise the data API.
func (c *Client) Ping(ctx context.Context) error {
	if c.cfg.KeyID != "" {
		var acct struct {
			Status string `json:"status"`
		}
		if err := c.getJSON(ctx, c.cfg.TradingURL+"/v2/account", &acct); err != nil {
			return err
		}
		if acct.Status != "ACTIVE" {
			return &venue.Error{Venue: Name, Code: venue.ErrCodeAPIError, Message: "account status " + acct.Status}
		}
		return nil
	}
	_, err := c.Ticker(ctx, "BTC-USD")
	return err
}

func orderStatus(s string) venue.OrderStatus {
	switch s {
	case "filled":
		return venue.OrderFilled
	case "partially_filled":
		return venue.OrderPartiallyFilled
	case "rejected", "canceled", "expired":
		return venue.OrderRejected
	default:
		return venue.OrderAccepted
	}
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("alpaca: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.cfg.KeyID != "" {
		req.Header.Set(headerKeyID, c.cfg.KeyID)
		req.Header.Set(headerSecretKey, c.cfg.SecretKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return venue.WrapTransport(Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return venue.WrapTransport(Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &apiErr)
		return venue.StatusError(Name, resp.StatusCode, apiErr.Message)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "decode response", Cause: err}
	}
	return nil
}
