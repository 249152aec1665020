package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hw3579/trading-bot/internal/detector"
	"github.com/hw3579/trading-bot/internal/exchange"
	"github.com/hw3579/trading-bot/internal/model"
	"github.com/hw3579/trading-bot/internal/retry"
	"github.com/hw3579/trading-bot/internal/strategy"
	"github.com/hw3579/trading-bot/internal/worker"
)

var (
	start = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	id    = model.TargetID{Source: "binance", Symbol: "BTCUSDT", Timeframe: "1h"}
)

func bar(i int) model.Candle {
	px := 100 + float64(i)
	return model.Candle{TS: start.Add(time.Duration(i) * time.Hour), Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 5}
}

func bars(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = bar(i)
	}
	return out
}

func TestReplayer_RevealsOneBarPerStep(t *testing.T) {
	in := bars(4)
	in[0], in[3] = in[3], in[0]
	in = append(in, bar(2))
	r := New("binance", "1h", in)
	require.Equal(t, 4, r.Len())

	got, err := r.Fetch(context.Background(), exchange.FetchRequest{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, r.Now().Equal(bar(0).TS))

	require.True(t, r.Step())
	require.True(t, r.Step())
	assert.True(t, r.Now().Equal(bar(2).TS), "clock sits at the close of bar 1")

	got, err = r.Fetch(context.Background(), exchange.FetchRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].TS.Equal(bar(1).TS))

	require.True(t, r.Step())
	got, err = r.Fetch(context.Background(), exchange.FetchRequest{Since: bar(1).TS, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].TS.Equal(bar(2).TS))

	require.True(t, r.Step())
	assert.False(t, r.Step())

	r.Rewind()
	got, _ = r.Fetch(context.Background(), exchange.FetchRequest{})
	assert.Empty(t, got)
}

type fireOn map[time.Time]model.SignalKind

func (fireOn) Name() string { return "fixed" }

func (f fireOn) Evaluate(s model.Series) (strategy.Result, error) {
	last, _ := s.Last()
	return strategy.Result{Kind: f[last.TS]}, nil
}

type collect struct{ sigs []*model.Signal }

func (c *collect) Publish(sig *model.Signal) { c.sigs = append(c.sigs, sig) }

func newWorker(r *Replayer, strat strategy.Strategy, det *detector.Detector, hub worker.Publisher) *worker.Worker {
	return worker.New(worker.Config{
		Target:   model.Target{TargetID: id, Enabled: true, Strategy: strat.Name()},
		Source:   r,
		Strategy: strat,
		Detector: det,
		Hub:      hub,
		Retry:    retry.Policy{MaxRetries: 1},
		Now:      r.Now,
	})
}

func TestRun_EmitsEachSignalOnce(t *testing.T) {
	r := New(id.Source, id.Timeframe, bars(10))
	strat := fireOn{bar(3).TS: model.KindBuy, bar(4).TS: model.KindBuy, bar(7).TS: model.KindSell}
	det := detector.New(id, strat.Name(), detector.WithSuppressRepeats(true))
	hub := &collect{}
	w := newWorker(r, strat, det, hub)

	n, err := Run(context.Background(), r, w, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.Len(t, hub.sigs, 2)
	assert.Equal(t, model.KindBuy, hub.sigs[0].Kind)
	assert.True(t, hub.sigs[0].CandleTS.Equal(bar(3).TS))
	assert.Equal(t, model.KindSell, hub.sigs[1].Kind)
	assert.Equal(t, 10, w.State().SeriesLen)
	assert.Zero(t, w.State().ConsecutiveFailures)

	// Replaying the same history into a restored detector fires nothing new.
	r.Rewind()
	det2 := detector.New(id, strat.Name(), detector.WithSuppressRepeats(true))
	det2.Restore(det.Last())
	hub2 := &collect{}
	_, err = Run(context.Background(), r, newWorker(r, strat, det2, hub2), 0)
	require.NoError(t, err)
	assert.Empty(t, hub2.sigs)
}

func TestRun_Cancelled(t *testing.T) {
	r := New(id.Source, id.Timeframe, bars(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := Run(ctx, r, newWorker(r, fireOn{}, nil, &collect{}), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

type memStore struct{ candles []model.Candle }

func (m *memStore) SaveCandles(context.Context, model.TargetID, []model.Candle) error { return nil }

func (m *memStore) ReadCandles(_ context.Context, _ model.TargetID, limit int) ([]model.Candle, error) {
	return m.candles, nil
}

func TestLoad(t *testing.T) {
	r, err := Load(context.Background(), &memStore{candles: bars(3)}, id, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, "binance", r.Name())
}
