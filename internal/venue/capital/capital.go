// Package capital implements venue.Venue against the Capital.com REST API.
package capital

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
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/venue"
)

const (
	Name           = "capital"
	DefaultBaseURL = "https://api-capital.backend-capital.com"
	DemoBaseURL    = "https://demo-api-capital.backend-capital.com"
)

type Config struct {
	BaseURL        string
	APIKey         string
	Identifier     string
	Password       string
	TradingEnabled bool
	HTTPClient     *http.Client
}

type session struct {
	cst   string
	token string
}

type Client struct {
	cfg  Config
	http *http.Client

	mu   sync.Mutex
	sess *session
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) Name() string { return Name }

func (c *Client) hasCredentials() bool {
	return c.cfg.APIKey != "" && c.cfg.Identifier != "" && c.cfg.Password != ""
}

// Epic maps BTC-USD to BTCUSD.
func Epic(symbol string) (string, error) {
	s, err := venue.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return s.Base + s.Quote, nil
}

var resolutions = map[string]string{
	"1m": "MINUTE", "5m": "MINUTE_5", "15m": "MINUTE_15", "30m": "MINUTE_30",
	"1h": "HOUR", "4h": "HOUR_4", "1d": "DAY",
}

var durations = map[string]time.Duration{
	"1m": time.Minute, "5m": 5 * time.Minute, "15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1h": time.Hour, "4h": 4 * time.Hour, "1d": 24 * time.Hour,
}

type bidAsk struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

func (p bidAsk) mid() float64 {
	if p.Bid > 0 && p.Ask > 0 {
		return (p.Bid + p.Ask) / 2
	}
	return p.Bid + p.Ask
}

func (c *Client) Ticker(ctx context.Context, symbol string) (*venue.Ticker, error) {
	epic, err := Epic(symbol)
	if err != nil {
		return nil, err
	}

	var out struct {
		Snapshot struct {
			Bid   float64 `json:"bid"`
			Offer float64 `json:"offer"`
		} `json:"snapshot"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/markets/"+url.PathEscape(epic), nil, &out); err != nil {
		return nil, err
	}
	snap := bidAsk{Bid: out.Snapshot.Bid, Ask: out.Snapshot.Offer}
	if snap.mid() <= 0 {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInsufficientData, Message: "no snapshot for " + epic}
	}
	return &venue.Ticker{
		Venue:     Name,
		Symbol:    symbol,
		Price:     snap.mid(),
		Bid:       snap.Bid,
		Ask:       snap.Ask,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (c *Client) Bars(ctx context.Context, symbol, interval string, limit int) ([]venue.Bar, error) {
	epic, err := Epic(symbol)
	if err != nil {
		return nil, err
	}
	res, ok := resolutions[interval]
	if !ok {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "unsupported interval " + interval}
	}
	if limit <= 0 {
		limit = 10
	}

	var out struct {
		Prices []struct {
			SnapshotTimeUTC  string  `json:"snapshotTimeUTC"`
			OpenPrice        bidAsk  `json:"openPrice"`
			ClosePrice       bidAsk  `json:"closePrice"`
			HighPrice        bidAsk  `json:"highPrice"`
			LowPrice         bidAsk  `json:"lowPrice"`
			LastTradedVolume float64 `json:"lastTradedVolume"`
		} `json:"prices"`
	}
	q := url.Values{"resolution": {res}, "max": {fmt.Sprint(limit)}}
	if err := c.call(ctx, http.MethodGet, "/api/v1/prices/"+url.PathEscape(epic)+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}

	step := durations[interval]
	bars := make([]venue.Bar, 0, len(out.Prices))
	for _, p := range out.Prices {
		open, err := time.Parse("2006-01-02T15:04:05", p.SnapshotTimeUTC)
		if err != nil {
			continue
		}
		bars = append(bars, venue.Bar{
			Venue:     Name,
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  open.UTC(),
			CloseTime: open.UTC().Add(step),
			Open:      p.OpenPrice.mid(),
			High:      p.HighPrice.mid(),
			Low:       p.LowPrice.mid(),
			Close:     p.ClosePrice.mid(),
			Volume:    p.LastTradedVolume,
		})
	}
	return bars, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	if !c.cfg.TradingEnabled || !c.hasCredentials() {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeTradingDisabled, Message: "trading disabled or credentials missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeOrderRejected, Message: err.Error()}
	}
	epic, err := Epic(req.Symbol)
	if err != nil {
		return nil, err
	}

	direction := "BUY"
	if req.Side == venue.SideSell {
		direction = "SELL"
	}
	size, _ := req.Quantity.Float64()
	body := map[string]interface{}{"epic": epic, "direction": direction, "size": size}

	submitted := time.Now().UTC()
	var created struct {
		DealReference string `json:"dealReference"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/positions", body, &created); err != nil {
		return nil, err
	}

	var confirm struct {
		DealID     string  `json:"dealId"`
		DealStatus string  `json:"dealStatus"`
		Status     string  `json:"status"`
		Level      float64 `json:"level"`
		Size       float64 `json:"size"`
		Reason     string  `json:"reason"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/confirms/"+url.PathEscape(created.DealReference), nil, &confirm); err != nil {
		return nil, err
	}
	if confirm.DealStatus != "ACCEPTED" {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeOrderRejected, Message: fmt.Sprintf("deal %s: %s", confirm.DealStatus, confirm.Reason)}
	}

	return &venue.OrderResult{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  confirm.DealID,
		Venue:         Name,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        venue.OrderFilled,
		FilledQty:     decimal.NewFromFloat(confirm.Size),
		AvgPrice:      decimal.NewFromFloat(confirm.Level),
		SubmittedAt:   submitted,
	}, nil
}

// Ping keeps the session alive when credentials exist, otherwise it only
// checks that the API answers.
func (c *Client) Ping(ctx context.Context) error {
	if c.hasCredentials() {
		return c.call(ctx, http.MethodGet, "/api/v1/ping", nil, nil)
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	return c.request(ctx, http.MethodGet, "/api/v1/time", nil, &out, nil)
}

// call performs an authenticated request, logging in first if needed and
// once more if the session has expired.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	if !c.hasCredentials() {
		return c.request(ctx, method, path, body, out, nil)
	}

	sess, err := c.session(ctx, false)
	if err != nil {
		return err
	}
	err = c.request(ctx, method, path, body, out, sess)
	if venueStatus(err) != http.StatusUnauthorized {
		return err
	}

	log.Info().Str("component", "venue").Str("venue", Name).Msg("session expired, logging in again")
	if sess, err = c.session(ctx, true); err != nil {
		return err
	}
	return c.request(ctx, method, path, body, out, sess)
}

func (c *Client) session(ctx context.Context, renew bool) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && !renew {
		return c.sess, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"identifier":        c.cfg.Identifier,
		"password":          c.cfg.Password,
		"encryptedPassword": false,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/session", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("capital: build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CAP-API-KEY", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, venue.WrapTransport(Name, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		e := venue.StatusError(Name, resp.StatusCode, errorCode(data))
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
			e.Code = venue.ErrCodeAuthentication
		}
		return nil, e
	}

	s := &session{cst: resp.Header.Get("CST"), token: resp.Header.Get("X-SECURITY-TOKEN")}
	if s.cst == "" || s.token == "" {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeAuthentication, Message: "session response missing tokens"}
	}
	c.sess = s
	return s, nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out interface{}, sess *session) error {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("capital: encode body: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("capital: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		req.Header.Set("CST", sess.cst)
		req.Header.Set("X-SECURITY-TOKEN", sess.token)
	}

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
		e := venue.StatusError(Name, resp.StatusCode, errorCode(data))
		if strings.Contains(e.Message, "epic") {
			e.Code = venue.ErrCodeInvalidSymbol
		}
		return e
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "decode response", Cause: err}
	}
	return nil
}

// errorCode extracts {"errorCode": "..."} from a response body.
func errorCode(data []byte) string {
	var e struct {
		ErrorCode string `json:"errorCode"`
	}
	if json.Unmarshal(data, &e) == nil {
		return e.ErrorCode
	}
	return ""
}

func venueStatus(err error) int {
	var ve *venue.Error
	if errors.As(err, &ve) {
		return ve.HTTPStatus
	}
	return 0
}
