package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hw3579/trading-bot/internal/model"
)

var btc = model.TargetID{Source: "okx", Symbol: "BTC-USDT", Timeframe: "15m"}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func candles(n int, start time.Time) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = model.Candle{TS: start.Add(time.Duration(i) * 15 * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 10}
	}
	return out
}

func TestStore_CandlesRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	var commits int
	s.OnCommit = func(time.Duration) { commits++ }

	require.NoError(t, s.SaveCandles(ctx, btc, candles(10, start)))
	// Overlapping batch is an upsert, not a duplicate.
	require.NoError(t, s.SaveCandles(ctx, btc, candles(12, start)))
	assert.Equal(t, 2, commits)

	got, err := s.ReadCandles(ctx, btc, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, start.Add(7*15*time.Minute), got[0].TS, "newest five, ascending")
	assert.Equal(t, start.Add(11*15*time.Minute), got[4].TS)
	assert.Equal(t, 111.5, got[4].Close)

	other, err := s.ReadCandles(ctx, model.TargetID{Source: "okx", Symbol: "ETH-USDT", Timeframe: "15m"}, 5)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_PruneCandles(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.SaveCandles(ctx, btc, candles(20, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))))

	n, err := s.PruneCandles(ctx, btc, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)

	got, err := s.ReadCandles(ctx, btc, 100)
	require.NoError(t, err)
	assert.Len(t, got, 8)
}

func TestStore_SignalJournal(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	last, err := s.LastSignal(ctx, btc)
	require.NoError(t, err)
	assert.Nil(t, last)

	t0 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	first := model.NewSignal(btc, model.KindBuy, t0, 64000, "utbot", nil, t0.Add(15*time.Minute))
	second := model.NewSignal(btc, model.KindSell, t0.Add(time.Hour), 65000, "utbot", &model.SRContext{MaxConfluence: 3}, t0.Add(75*time.Minute))

	require.NoError(t, s.Deliver(ctx, first))
	require.NoError(t, s.Deliver(ctx, second))
	require.NoError(t, s.Deliver(ctx, first), "re-journaling is a no-op")

	last, err = s.LastSignal(ctx, btc)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second.ID, last.ID)
	assert.Equal(t, model.KindSell, last.Kind)
	assert.True(t, second.CandleTS.Equal(last.CandleTS))
	require.NotNil(t, last.Context)
	assert.Equal(t, 3, last.Context.MaxConfluence)

	recent, err := s.RecentSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, "sqlite", s.Name())
}
