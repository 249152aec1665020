package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hw3579/trading-bot/internal/model"
	"github.com/hw3579/trading-bot/internal/retry"
)

func TestOKX_FetchReversesToAscending(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/candles", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"code":"0","msg":"","data":[
			["1767226500000","101.5","102","101","101.8","12.5","0","0","0"],
			["1767225600000","100","101.9","99.5","101.5","20","0","0","1"]
		]}`))
	}))
	defer srv.Close()

	src := NewOKX(Config{BaseURL: srv.URL, Timeout: time.Second})
	since := time.UnixMilli(1767225600000)
	candles, err := src.Fetch(context.Background(), FetchRequest{Symbol: "BTC/USDT:USDT", Timeframe: "15m", Since: since, Limit: 100})
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.True(t, candles[0].TS.Before(candles[1].TS))
	assert.Equal(t, since.UTC(), candles[0].TS)
	assert.Equal(t, 101.5, candles[0].Close)
	assert.Equal(t, 12.5, candles[1].Volume)
	assert.Contains(t, gotQuery, "instId=BTC-USDT-SWAP")
	assert.Contains(t, gotQuery, "bar=15m")
	assert.Contains(t, gotQuery, "before=1767225599999")
}

func TestOKX_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, true},
		{"server error", http.StatusBadGateway, `bad gateway`, true},
		{"bad request", http.StatusBadRequest, `{"code":"51000","msg":"Parameter bar error"}`, false},
		{"business error", http.StatusOK, `{"code":"51001","msg":"Instrument ID does not exist","data":[]}`, false},
		{"system busy", http.StatusOK, `{"code":"50013","msg":"Systems are busy","data":[]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOKX(Config{BaseURL: srv.URL}).Fetch(context.Background(), FetchRequest{Symbol: "BTC-USDT", Timeframe: "1h"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, retry.IsTransient(err), "err=%v", err)
		})
	}
}

func TestOKXBar(t *testing.T) {
	cases := map[model.Timeframe]string{"1m": "1m", "15m": "15m", "1h": "1H", "4h": "4H", "1d": "1D", "1w": "1W"}
	for tf, want := range cases {
		got, err := okxBar(tf)
		require.NoError(t, err)
		assert.Equal(t, want, got, tf)
	}
	_, err := okxBar("7x")
	assert.Error(t, err)
}

func TestSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTCUSDT", binanceSymbol("BTC/USDT"))
	assert.Equal(t, "ETHUSDT", binanceSymbol("eth-usdt"))
	assert.Equal(t, "BTCUSDT", binanceSymbol("BTC/USDT:USDT"))
	assert.Equal(t, "BTC-USDT", okxInstID("BTC/USDT"))
	assert.Equal(t, "ETH-USDT-SWAP", okxInstID("ETH/USDT:USDT"))
	assert.Equal(t, "BTC-USDT-SWAP", okxInstID("btc-usdt-swap"))
}

func TestBinance_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		w.Write([]byte(`[[1767225600000,"100.10","101.00","99.90","100.50","42.0",1767229199999,"0",10,"0","0","0"]]`))
	}))
	defer srv.Close()

	candles, err := NewBinance(Config{BaseURL: srv.URL}).Fetch(context.Background(), FetchRequest{Symbol: "BTC/USDT", Timeframe: "1h", Limit: 10})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), candles[0].TS)
}

func TestBinance_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, true},
		{"ip banned", http.StatusTeapot, `{"code":-1003,"msg":"banned"}`, true},
		{"server error", http.StatusServiceUnavailable, `<html>down</html>`, true},
		{"invalid symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewBinance(Config{BaseURL: srv.URL}).Fetch(context.Background(), FetchRequest{Symbol: "BTCUSDT", Timeframe: "1h"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, retry.IsTransient(err), "err=%v", err)
		})
	}
}

type countingSource struct{ calls int }

func (c *countingSource) Name() string { return "fake" }
func (c *countingSource) Fetch(ctx context.Context, req FetchRequest) ([]model.Candle, error) {
	c.calls++
	return nil, nil
}

func TestRateLimited_WaitsAndHonoursContext(t *testing.T) {
	inner := &countingSource{}
	src := NewRateLimited(inner, 1, 1)

	_, err := src.Fetch(context.Background(), FetchRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = src.Fetch(ctx, FetchRequest{})
	require.Error(t, err, "second token is a second away")
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "fake", src.Name())
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry([]Config{
		{Name: "okx", Enabled: true, EnableRateLimit: true, RatePerSecond: 10, Burst: 5},
		{Name: "binance", Enabled: false},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"okx"}, reg.Names())

	src, ok := reg.Get("okx")
	require.True(t, ok)
	_, limited := src.(*RateLimited)
	assert.True(t, limited, "okx should be wrapped by the rate limiter")

	_, err = NewRegistry([]Config{{Name: "kraken", Enabled: true}})
	assert.Error(t, err)
}
