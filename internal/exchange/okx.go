package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hw3579/trading-bot/internal/model"
)

const (
	okxDefaultURL = "https://www.okx.com"
	okxMaxLimit   = 300
)

// okxTransientCodes are business codes for rate limits and system busy.
var okxTransientCodes = map[string]bool{
	"50001": true, // service temporarily unavailable
	"50004": true, // endpoint request timeout
	"50011": true, // rate limit reached
	"50013": true, // system busy
	"50026": true, // system error
}

// OKX fetches candles from the public v5 market API.
type OKX struct {
	baseURL string
	http    *http.Client
}

// NewOKX creates an OKX source.
func NewOKX(cfg Config) *OKX {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = okxDefaultURL
	}
	return &OKX{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (o *OKX) Name() string { return "okx" }

type okxResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

func (o *OKX) Fetch(ctx context.Context, req FetchRequest) ([]model.Candle, error) {
	bar, err := okxBar(req.Timeframe)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > okxMaxLimit {
		limit = okxMaxLimit
	}
	q := url.Values{}
	q.Set("instId", okxInstID(req.Symbol))
	q.Set("bar", bar)
	q.Set("limit", strconv.Itoa(limit))
	if !req.Since.IsZero() {
		// "before" returns records newer than ts, exclusive.
		q.Set("before", strconv.FormatInt(req.Since.UnixMilli()-1, 10))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/v5/market/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := o.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("okx: read body: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &StatusError{Source: "okx", Code: res.StatusCode, Body: string(body)}
	}

	var payload okxResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("okx: decode: %w", err)
	}
	if payload.Code != "0" {
		return nil, &APIError{Source: "okx", Code: payload.Code, Message: payload.Msg, Retryable: okxTransientCodes[payload.Code]}
	}

	// OKX returns newest first.
	out := make([]model.Candle, 0, len(payload.Data))
	for i := len(payload.Data) - 1; i >= 0; i-- {
		row := payload.Data[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("okx: short candle row %v", row)
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("okx: bad ts %q: %w", row[0], err)
		}
		c, err := parseOHLCV(time.UnixMilli(ms), row[1], row[2], row[3], row[4], row[5])
		if err != nil {
			return nil, fmt.Errorf("okx %s: %w", req.Symbol, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// okxBar maps a timeframe onto OKX's bar parameter ("1H", "1D" are upper case).
func okxBar(tf model.Timeframe) (string, error) {
	s := string(tf)
	if tf.Duration() <= 0 {
		return "", fmt.Errorf("okx: invalid timeframe %q", s)
	}
	unit := s[len(s)-1]
	if unit == 'm' {
		return s, nil
	}
	return s[:len(s)-1] + strings.ToUpper(string(unit)), nil
}

// okxInstID turns "BTC/USDT" into "BTC-USDT" and "BTC/USDT:USDT" into "BTC-USDT-SWAP".
func okxInstID(symbol string) string {
	if !strings.Contains(symbol, "/") {
		return strings.ToUpper(symbol)
	}
	swap := strings.Contains(symbol, ":")
	if i := strings.Index(symbol, ":"); i >= 0 {
		symbol = symbol[:i]
	}
	id := strings.ToUpper(strings.ReplaceAll(symbol, "/", "-"))
	if swap {
		id += "-SWAP"
	}
	return id
}
