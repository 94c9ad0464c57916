package venue

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sawpanic/aureon/internal/net/client"
)

// Error codes carried by Error.
const (
	ErrCodeRateLimit        = "RATE_LIMIT"
	ErrCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrCodeBudget           = "BUDGET_EXHAUSTED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeInvalidSymbol    = "INVALID_SYMBOL"
	ErrCodeAuthentication   = "AUTH_ERROR"
	ErrCodeInsufficientData = "INSUFFICIENT_DATA"
	ErrCodeAPIError         = "API_ERROR"
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeInvalidData      = "INVALID_DATA"
	ErrCodeOrderRejected    = "ORDER_REJECTED"
	ErrCodeTradingDisabled  = "TRADING_DISABLED"
)

// Error is the single error type adapters return.
type Error struct {
	Venue       string `json:"venue"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	RateLimited bool   `json:"rate_limited"`
	Temporary   bool   `json:"temporary"`
	Cause       error  `json:"-"`
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("venue %s: %s (%s, HTTP %d)", e.Venue, e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("venue %s: %s (%s)", e.Venue, e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTemporary reports whether retrying later may succeed.
func IsTemporary(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Temporary
	}
	return false
}

// CodeOf returns the Error code in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// WrapTransport converts an error from an HTTP call into an *Error.
func WrapTransport(venueName string, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return err
	}

	e := &Error{Venue: venueName, Code: ErrCodeNetworkError, Message: err.Error(), Temporary: true, Cause: err}
	var ce *client.Error
	switch {
	case errors.As(err, &ce) && ce.Type == client.TypeCircuit:
		e.Code = ErrCodeCircuitOpen
		e.Message = "circuit breaker open"
	case errors.As(err, &ce) && ce.Type == client.TypeBudget:
		e.Code = ErrCodeBudget
		e.Message = "daily request budget exhausted"
		e.Temporary = false
	case errors.As(err, &ce) && ce.Type == client.TypeRateLimit:
		e.Code = ErrCodeRateLimit
		e.RateLimited = true
	case errors.Is(err, context.DeadlineExceeded):
		e.Code = ErrCodeTimeout
	}
	return e
}

// StatusError builds an *Error for a non-2xx response.
func StatusError(venueName string, status int, message string) *Error {
	e := &Error{Venue: venueName, Code: ErrCodeAPIError, Message: message, HTTPStatus: status}
	switch {
	case status == http.StatusTooManyRequests:
		e.Code = ErrCodeRateLimit
		e.RateLimited = true
		e.Temporary = true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = ErrCodeAuthentication
	case status == http.StatusNotFound:
		e.Code = ErrCodeInvalidSymbol
	case status >= 500:
		e.Temporary = true
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
