package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hw3579/trading-bot/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sample = `
monitoring:
  trigger_second: 5
  fetch_limit: 200
  retry_delay: 2s
exchanges:
  okx:
    enabled: true
  binance:
    enabled: false
strategies:
  utbot:
    atr_period: 11
    a: 1.0
targets:
  - exchange: okx
    symbol: BTC-USDT-SWAP
    timeframe: 15m
    enabled: true
    persist: true
    params:
      a: 2.5
  - exchange: OKX
    symbol: btc-usdt-swap
    timeframe: 15m
    enabled: true
  - exchange: okx
    symbol: ETH-USDT-SWAP
    timeframe: 1h
    enabled: true
    strategy: sma_cross
  - exchange: binance
    symbol: SOLUSDT
    timeframe: 4h
    enabled: false
redis:
  enabled: true
  addr: redis:6379
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	m := cfg.Monitoring
	assert.Equal(t, 30, m.TriggerSecond)
	assert.Equal(t, 1, m.TriggerMinutes)
	assert.Equal(t, 100, m.FetchLimit)
	assert.Equal(t, 500, m.Retention)
	assert.Equal(t, 50, m.TailCalc)
	assert.Equal(t, 3, m.MaxRetries)
	assert.Equal(t, 10*time.Second, m.RetryDelay)
	assert.Equal(t, 8, m.MaxWorkers)
	assert.Equal(t, "utbot", m.DefaultStrategy)

	assert.Equal(t, ":10000", cfg.Servers.PushAddr)
	assert.Equal(t, ":10001", cfg.Servers.QueryAddr)
	assert.Equal(t, ":9090", cfg.Servers.MetricsAddr)
	assert.Equal(t, "drop_oldest", cfg.Hub.OverflowPolicy)
	assert.Equal(t, "stream:signals", cfg.Redis.StreamKey)
	assert.Equal(t, 24*time.Hour, cfg.Redis.LatestTTL)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, 5, cfg.Log.BackupCount)
	assert.Empty(t, cfg.EnabledTargets())

	exs := cfg.ExchangeConfigs()
	require.Len(t, exs, 2)
	assert.Equal(t, "binance", exs[0].Name)
	assert.Equal(t, "okx", exs[1].Name)
	assert.True(t, exs[1].EnableRateLimit)
	assert.Equal(t, 10*time.Second, exs[1].Timeout)
}

func TestLoad_FileAndTargets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Monitoring.TriggerSecond)
	assert.Equal(t, 200, cfg.Monitoring.FetchLimit)
	assert.Equal(t, 2*time.Second, cfg.Monitoring.RetryDelay)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)

	// The second okx BTC entry is a duplicate.
	require.Len(t, cfg.Targets, 3)

	targets := cfg.EnabledTargets()
	require.Len(t, targets, 2)

	btc := targets[0]
	assert.Equal(t, model.TargetID{Source: "okx", Symbol: "BTC-USDT-SWAP", Timeframe: "15m"}, btc.TargetID)
	assert.Equal(t, "utbot", btc.Strategy)
	assert.True(t, btc.Persist)
	assert.Equal(t, 2.5, btc.Params.Float("a", 0))
	assert.Equal(t, 11, btc.Params.Int("atr_period", 0))

	eth := targets[1]
	assert.Equal(t, "sma_cross", eth.Strategy)
	assert.False(t, eth.Persist)

	exs := cfg.ExchangeConfigs()
	require.Len(t, exs, 2)
	assert.False(t, exs[0].Enabled)
	assert.True(t, exs[1].Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MONITOR_MONITORING_FETCH_LIMIT", "300")
	t.Setenv("MONITOR_REDIS_ADDR", "cache:6380")
	t.Setenv("MONITOR_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Monitoring.FetchLimit)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad timeframe", `
targets:
  - {exchange: okx, symbol: BTC, timeframe: 15x, enabled: true}
`},
		{"unknown strategy", `
targets:
  - {exchange: okx, symbol: BTC, timeframe: 15m, enabled: true, strategy: martingale}
`},
		{"unconfigured exchange", `
targets:
  - {exchange: kraken, symbol: BTC, timeframe: 15m, enabled: true}
`},
		{"disabled exchange", `
exchanges:
  okx: {enabled: false}
targets:
  - {exchange: okx, symbol: BTC, timeframe: 15m, enabled: true}
`},
		{"missing symbol", `
targets:
  - {exchange: okx, timeframe: 15m, enabled: true}
`},
		{"trigger second out of range", `
monitoring: {trigger_second: 75}
`},
		{"max_workers over pool ceiling", `
monitoring: {max_workers: 32}
`},
		{"tail_calc over retention", `
monitoring: {tail_calc: 600, retention: 500}
`},
		{"overflow policy", `
hub: {overflow_policy: block}
`},
		{"kafka without brokers", `
kafka: {enabled: true}
`},
		{"telegram without token", `
notification:
  telegram: {enabled: true, chat_ids: ["1"]}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}
