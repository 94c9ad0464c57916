// Package binance implements venue.Venue for Binance spot using
// github.com/adshao/go-binance/v2.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/aureon/internal/venue"
)

const Name = "binance"

type Config struct {
	BaseURL        string // empty keeps the library default
	APIKey         string
	APISecret      string
	TradingEnabled bool
	HTTPClient     *http.Client
}

type Client struct {
	cfg Config
	api *gobinance.Client
}

func New(cfg Config) *Client {
	api := gobinance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		api.HTTPClient = cfg.HTTPClient
	}
	return &Client{cfg: cfg, api: api}
}

func (c *Client) Name() string { return Name }

// MarketSymbol maps BTC-USD to BTCUSDT; Binance spot has no USD quote.
func MarketSymbol(symbol string) (string, error) {
	s, err := venue.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	quote := s.Quote
	if quote == "USD" {
		quote = "USDT"
	}
	return s.Base + quote, nil
}

var intervals = map[string]bool{"1m": true, "5m": true, "15m": true, "30m": true, "1h": true, "4h": true, "1d": true}

func (c *Client) Ticker(ctx context.Context, symbol string) (*venue.Ticker, error) {
	ms, err := MarketSymbol(symbol)
	if err != nil {
		return nil, err
	}

	prices, err := c.api.NewListPricesService().Symbol(ms).Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(prices) == 0 {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInsufficientData, Message: "no price for " + ms}
	}
	t := &venue.Ticker{
		Venue:     Name,
		Symbol:    symbol,
		Price:     parseFloat(prices[0].Price),
		Timestamp: time.Now().UTC(),
	}

	books, err := c.api.NewListBookTickersService().Symbol(ms).Do(ctx)
	if err == nil && len(books) > 0 {
		t.Bid = parseFloat(books[0].BidPrice)
		t.Ask = parseFloat(books[0].AskPrice)
	}
	return t, nil
}

func (c *Client) Bars(ctx context.Context, symbol, interval string, limit int) ([]venue.Bar, error) {
	ms, err := MarketSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !intervals[interval] {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeInvalidData, Message: "unsupported interval " + interval}
	}

	svc := c.api.NewKlinesService().Symbol(ms).Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}

	bars := make([]venue.Bar, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, venue.Bar{
			Venue:     Name,
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return bars, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	if !c.cfg.TradingEnabled || c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeTradingDisabled, Message: "trading disabled or credentials missing"}
	}
	if err := req.Validate(); err != nil {
		return nil, &venue.Error{Venue: Name, Code: venue.ErrCodeOrderRejected, Message: err.Error()}
	}
	ms, err := MarketSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	side := gobinance.SideTypeBuy
	if req.Side == venue.SideSell {
		side = gobinance.SideTypeSell
	}
	svc := c.api.NewCreateOrderService().
		Symbol(ms).
		Side(side).
		Type(gobinance.OrderTypeMarket).
		Quantity(req.Quantity.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}

	filled := decimalOrZero(res.ExecutedQuantity)
	avg := decimal.Zero
	if quote := decimalOrZero(res.CummulativeQuoteQuantity); filled.IsPositive() {
		avg = quote.Div(filled)
	}

	return &venue.OrderResult{
		ClientOrderID: res.ClientOrderID,
		VenueOrderID:  strconv.FormatInt(res.OrderID, 10),
		Venue:         Name,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        orderStatus(res.Status),
		FilledQty:     filled,
		AvgPrice:      avg,
		SubmittedAt:   time.UnixMilli(res.TransactTime).UTC(),
	}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return wrapErr(c.api.NewPingService().Do(ctx))
}

func orderStatus(s gobinance.OrderStatusType) venue.OrderStatus {
	switch s {
	case gobinance.OrderStatusTypeFilled:
		return venue.OrderFilled
	case gobinance.OrderStatusTypePartiallyFilled:
		return venue.OrderPartiallyFilled
	case gobinance.OrderStatusTypeRejected, gobinance.OrderStatusTypeExpired, gobinance.OrderStatusTypeCanceled:
		return venue.OrderRejected
	default:
		return venue.OrderAccepted
	}
}

// wrapErr maps library errors onto venue.Error.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return venue.WrapTransport(Name, err)
	}

	e := &venue.Error{Venue: Name, Code: venue.ErrCodeAPIError, Message: fmt.Sprintf("%d: %s", apiErr.Code, apiErr.Message), Cause: err}
	switch apiErr.Code {
	case -1003, -1015:
		e.Code = venue.ErrCodeRateLimit
		e.RateLimited = true
		e.Temporary = true
	case -1121:
		e.Code = venue.ErrCodeInvalidSymbol
	case -1022, -2014, -2015:
		e.Code = venue.ErrCodeAuthentication
	case -2010, -1013:
		e.Code = venue.ErrCodeOrderRejected
	case -1001, -1007:
		e.Temporary = true
	}
	return e
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
