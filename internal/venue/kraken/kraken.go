// Package kraken implements venue.Venue against the Kraken spot REST API.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/venue"
)

const (
	Name           = "kraken"
	DefaultBaseURL = "https://api.kraken.com"
)

type Config struct {
	BaseURL        string
	APIKey         string
	APISecret      string // base64, as issued by Kraken
	TradingEnabled bool
	HTTPClient     *http.Client
}

type Client struct {
	cfg    Config
	http   *http.Client
	secret []byte
	nonce  func() string
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	c := &Client{
		cfg:  cfg,
		http: hc,
		nonce: func() string {
			return strconv.FormatInt(time.Now().UnixNano()/int64(time.Microsecond), 10)
		},
	}
	if cfg.APISecret != "" {
		secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
		if err != nil {
			return nil, fmt.Errorf("kraken: api secret is not base64: %w", err)
		}
		c.secret = secret
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

// Pair maps BTC-USD to XBTUSD.
func Pair(symbol string) (string, error) {
	s, err := venue.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	base := s.Base
	if base == "BTC" {
		base = "XBT"
	}
	return base + s.Quote, nil
}

var intervals = map[string]int{
	"1m": 1, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "4h": 240, "1d": 1440,
}

type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) Ticker(ctx context.Context, symbol string) (*venue.Ticker, error) {
	pair, err := Pair(symbol)
	if err != nil {
		return nil, err
	}

	var result map[string]struct {
		Ask  []string `json:"a"`
		Bid  []string `json:"b"`
		Last []string `json:"c"`
	}
	if err := c.public(ctx, "/0/public/Ticker", url.Values{"pair": {pair}}, &result); err != nil {
		return nil, err
	}
	for _, t := range result {
		if len(t.Last) == 0 {
			break
		}
		return &venue.Ticker{
			Venue:     Name,
			Symbol:    symbol,
			Price:     parseFloat(t.Last[0]),
			Bid:       first(t.Bid),
			Ask:       first(t.Ask),
			Timestamp: time.Now().UTC(),
		}, nil
	}
	return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInsufficientData, Message: "empty ticker for " + pair}
}

func (c *Client) Bars(ctx context.Context, symbol, interval string, limit int) ([]venue.Bar, error) {
	pair, err := Pair(symbol)
	if err != nil {
		return nil, err
	}
	minutes, ok := intervals[interval]
	if !ok {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "unsupported interval " + interval}
	}

	var result map[string]json.RawMessage
	q := url.Values{"pair": {pair}, "interval": {strconv.Itoa(minutes)}}
	if err := c.public(ctx, "/0/public/OHLC", q, &result); err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	for key, raw := range result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "decode ohlc", Cause: err}
		}
		break
	}

	step := time.Duration(minutes) * time.Minute
	bars := make([]venue.Bar, 0, len(rows))
	for _, row := range rows {
		// [time, open, high, low, close, vwap, volume, count]
		if len(row) < 7 {
			continue
		}
		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			continue
		}
		open := time.Unix(ts, 0).UTC()
		bars = append(bars, venue.Bar{
			Venue:     Name,
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  open,
			CloseTime: open.Add(step),
			Open:      rawFloat(row[1]),
			High:      rawFloat(row[2]),
			Low:       rawFloat(row[3]),
			Close:     rawFloat(row[4]),
			Volume:    rawFloat(row[6]),
		})
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	if !c.cfg.TradingEnabled || c.cfg.APIKey == "" || len(c.secret) == 0 {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeTradingDisabled, Message: "trading disabled or credentials missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeOrderRejected, Message: err.Error()}
	}
	pair, err := Pair(req.Symbol)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"ordertype": {"market"},
		"type":      {string(req.Side)},
		"volume":    {req.Quantity.String()},
		"pair":      {pair},
	}
	if req.ClientOrderID != "" {
		form.Set("cl_ord_id", req.ClientOrderID)
	}

	var result struct {
		TxID  []string `json:"txid"`
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
	}
	submitted := time.Now().UTC()
	if err := c.private(ctx, "/0/private/AddOrder", form, &result); err != nil {
		return nil, err
	}
	if len(result.TxID) == 0 {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeOrderRejected, Message: "no transaction id returned"}
	}

	return &venue.OrderResult{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  result.TxID[0],
		Venue:         Name,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        venue.OrderAccepted,
		FilledQty:     decimal.Zero,
		AvgPrice:      decimal.Zero,
		SubmittedAt:   submitted,
	}, nil
}

// Ping fails unless Kraken reports itself online.
func (c *Client) Ping(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := c.public(ctx, "/0/public/SystemStatus", nil, &result); err != nil {
		return err
	}
	if result.Status != "online" {
		return &venue.Error{Venue: Name, Code: venue.ErrCodeAPIError, Message: "system status " + result.Status, Temporary: true}
	}
	return nil
}

func (c *Client) public(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("kraken: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) private(ctx context.Context, path string, form url.Values, out interface{}) error {
	nonce := c.nonce()
	form.Set("nonce", nonce)
	body := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("kraken: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.cfg.APIKey)
	req.Header.Set("API-Sign", Sign(path, nonce, body, c.secret))
	return c.do(req, out)
}

// Sign computes API-Sign: HMAC-SHA512 of path + SHA256(nonce + body),
// keyed with the decoded secret.
func Sign(path, nonce, body string, secret []byte) string {
	sum := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return venue.WrapTransport(Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return venue.WrapTransport(Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return venue.StatusError(Name, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "decode response", Cause: err}
	}
	if len(env.Error) > 0 {
		return apiError(env.Error)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "decode result", Cause: err}
	}
	return nil
}

func apiError(msgs []string) error {
	msg := strings.Join(msgs, "; ")
	e := &venue.Error{Venue: Name, Code: venue.ErrCodeAPIError, Message: msg}
	switch {
	case strings.Contains(msg, "Unknown asset pair"):
		e.Code = venue.ErrCodeInvalidSymbol
	case strings.Contains(msg, "Rate limit"):
		e.Code = venue.ErrCodeRateLimit
		e.RateLimited = true
		e.Temporary = true
	case strings.HasPrefix(msg, "EAPI:Invalid key"), strings.HasPrefix(msg, "EAPI:Invalid signature"), strings.HasPrefix(msg, "EAPI:Invalid nonce"):
		e.Code = venue.ErrCodeAuthentication
	case strings.HasPrefix(msg, "EOrder:"):
		e.Code = venue.ErrCodeOrderRejected
	case strings.HasPrefix(msg, "EService:"):
		e.Temporary = true
	}
	return e
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func first(ss []string) float64 {
	if len(ss) == 0 {
		return 0
	}
	return parseFloat(ss[0])
}

func rawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	var f float64
	_ = json.Unmarshal(raw, &f)
	return f
}
