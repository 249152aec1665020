// Package exchange fetches OHLCV candles from market-data providers.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hw3579/trading-bot/internal/model"
)

// FetchRequest selects candles for one symbol and timeframe.
// A zero Since means "the newest Limit candles".
type FetchRequest struct {
	Symbol    string
	Timeframe model.Timeframe
	Since     time.Time
	Limit     int
}

// Source is a market-data provider.
type Source interface {
	Name() string

	// Fetch returns candles in ascending TS order. The newest candle may
	// still be forming.
	Fetch(ctx context.Context, req FetchRequest) ([]model.Candle, error)
}

// StatusError is a non-2xx HTTP response from a provider.
type StatusError struct {
	Source string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: http %d: %s", e.Source, e.Code, body)
}

// Transient reports whether the request is worth retrying:
// rate limits (429, 418) and server errors.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusTeapot || e.Code >= 500
}

// APIError is an error payload returned with a 2xx status.
type APIError struct {
	Source    string
	Code      string
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error %s: %s", e.Source, e.Code, e.Message)
}

func (e *APIError) Transient() bool { return e.Retryable }

// parseOHLCV converts decimal strings into a candle.
func parseOHLCV(ts time.Time, o, h, l, c, v string) (model.Candle, error) {
	var vals [5]float64
	for i, s := range [5]string{o, h, l, c, v} {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return model.Candle{}, fmt.Errorf("parse %q: %w", s, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return model.Candle{
		TS:     ts.UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}
