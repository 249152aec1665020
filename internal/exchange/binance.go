package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/hw3579/trading-bot/internal/model"
)

const binanceMaxLimit = 1000

// transientBinanceCodes are API error codes that indicate load or
// connectivity problems on the exchange side.
var transientBinanceCodes = map[int64]bool{
	-1000: true, // UNKNOWN
	-1001: true, // DISCONNECTED
	-1003: true, // TOO_MANY_REQUESTS
	-1007: true, // TIMEOUT
}

// Binance fetches spot klines.
type Binance struct {
	cli *binance.Client
}

// NewBinance creates a Binance source. baseURL overrides the API endpoint when set.
func NewBinance(cfg Config) *Binance {
	cli := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		cli.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	cli.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &statusTransport{source: "binance", next: http.DefaultTransport},
	}
	return &Binance{cli: cli}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) Fetch(ctx context.Context, req FetchRequest) ([]model.Candle, error) {
	limit := req.Limit
	if limit <= 0 || limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}
	svc := b.cli.NewKlinesService().
		Symbol(binanceSymbol(req.Symbol)).
		Interval(string(req.Timeframe)).
		Limit(limit)
	if !req.Since.IsZero() {
		svc.StartTime(req.Since.UnixMilli())
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyBinance(err)
	}

	out := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := parseOHLCV(time.UnixMilli(k.OpenTime), k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, fmt.Errorf("binance %s: %w", req.Symbol, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func classifyBinance(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			Source:    "binance",
			Code:      fmt.Sprint(apiErr.Code),
			Message:   apiErr.Message,
			Retryable: transientBinanceCodes[apiErr.Code],
		}
	}
	return err
}

// binanceSymbol turns "BTC/USDT" or "BTC-USDT" into "BTCUSDT".
func binanceSymbol(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.NewReplacer("/", "", "-", "").Replace(s)
	return strings.ToUpper(s)
}

// statusTransport turns rate-limit and server-error responses into a
// StatusError before the client library tries to decode them.
type statusTransport struct {
	source string
	next   http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	se := &StatusError{Source: t.source, Code: res.StatusCode}
	if !se.Transient() {
		return res, nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	res.Body.Close()
	se.Body = string(body)
	return nil, se
}
