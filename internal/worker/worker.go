// Package worker runs the fetch, update and evaluate cycle of one target.
//
// A Worker is the single writer of its target's series store, detector and
// status snapshot. Readers (query service, health) only ever load immutable
// snapshots, so a query during an in-flight fetch sees the previous cycle's
// state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hw3579/trading-bot/internal/detector"
	"github.com/hw3579/trading-bot/internal/exchange"
	"github.com/hw3579/trading-bot/internal/logger"
	"github.com/hw3579/trading-bot/internal/metrics"
	"github.com/hw3579/trading-bot/internal/model"
	"github.com/hw3579/trading-bot/internal/notification"
	"github.com/hw3579/trading-bot/internal/retry"
	"github.com/hw3579/trading-bot/internal/series"
	"github.com/hw3579/trading-bot/internal/strategy"
)

var errInvalidData = errors.New("invalid candle data")

// Publisher receives fired signals in detection order.
type Publisher interface {
	Publish(sig *model.Signal)
}

// Config wires one worker. Candles, Notifier and Metrics may be nil.
type Config struct {
	Target   model.Target
	Source   exchange.Source
	Strategy strategy.Strategy
	Detector *detector.Detector
	Hub      Publisher
	Candles  model.CandleStore
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Retry    retry.Policy

	FetchLimit         int
	Retention          int
	TailCalc           int
	AlertAfterFailures int
	// NotifyEachFailure sends a warning for every failure before the
	// AlertAfterFailures threshold is reached.
	NotifyEachFailure bool

	Now func() time.Time
}

// Worker implements scheduler.Task for one target.
type Worker struct {
	cfg    Config
	id     model.TargetID
	key    string
	store  *series.Store
	log    *slog.Logger
	missed atomic.Int64

	state atomic.Pointer[model.TargetState]

	// in-flight alert deliveries
	sends sync.WaitGroup

	// Owned by RunCycle; the scheduler never runs two cycles of one target
	// at once.
	evaluated bool
	alerted   bool
}

// New builds a worker with an empty series store.
func New(cfg Config) *Worker {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 100
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 500
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Detector == nil {
		cfg.Detector = detector.New(cfg.Target.TargetID, cfg.Target.Strategy)
	}
	key := cfg.Target.Key()
	w := &Worker{
		cfg:   cfg,
		id:    cfg.Target.TargetID,
		key:   key,
		store: series.New(cfg.Retention, cfg.Target.Timeframe),
		log:   slog.With("component", "worker", "target", key),
	}
	w.state.Store(&model.TargetState{Target: w.id, Phase: model.PhaseIdle})
	return w
}

func (w *Worker) Key() string { return w.key }

// Target returns the configured target.
func (w *Worker) Target() model.Target { return w.cfg.Target }

// State returns the latest status snapshot.
func (w *Worker) State() model.TargetState {
	st := *w.state.Load()
	st.MissedTicks = w.missed.Load()
	return st
}

// Series returns the current candle window.
func (w *Worker) Series() model.Series { return w.store.Snapshot() }

// Retention is the series store bound.
func (w *Worker) Retention() int { return w.store.Cap() }

// LastSignal returns the most recent signal of this target, or nil.
func (w *Worker) LastSignal() *model.Signal { return w.cfg.Detector.Last() }

// MissedTick records a tick skipped because a cycle was still running.
func (w *Worker) MissedTick() {
	w.missed.Add(1)
	if m := w.cfg.Metrics; m != nil {
		m.MissedTicks.WithLabelValues(w.key).Inc()
	}
}

// Warm loads persisted candles and restores the detector from journal so a
// restart neither loses history nor repeats the last signal. Either
// argument may be nil.
func (w *Worker) Warm(ctx context.Context, candles model.CandleStore, journal model.SignalJournal) error {
	if candles != nil {
		cs, err := candles.ReadCandles(ctx, w.id, w.store.Cap())
		if err != nil {
			return fmt.Errorf("warm %s: read candles: %w", w.key, err)
		}
		res := w.store.Append(cs)
		if len(res.Accepted) > 0 {
			log.Printf("[worker] %s warm start with %d candles", w.key, len(res.Accepted))
		}
	}
	if journal != nil {
		last, err := journal.LastSignal(ctx, w.id)
		if err != nil {
			return fmt.Errorf("warm %s: last signal: %w", w.key, err)
		}
		w.cfg.Detector.Restore(last)
	}
	w.update(func(st *model.TargetState) {
		w.fillSeries(st)
		st.LastSignal = w.cfg.Detector.Last()
	})
	return nil
}

// RunCycle performs one fetch, update and evaluate pass.
func (w *Worker) RunCycle(ctx context.Context) {
	start := w.cfg.Now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(w.key, start))
	outcome := "ok"
	defer func() {
		if m := w.cfg.Metrics; m != nil {
			m.CyclesTotal.WithLabelValues(w.key, outcome).Inc()
			m.CycleDur.Observe(time.Since(start).Seconds())
		}
	}()

	w.update(func(st *model.TargetState) {
		st.Phase = model.PhaseFetching
		st.LastAttemptTime = start
		st.Cycles++
	})

	candles, err := w.fetch(ctx, w.request())
	if err != nil {
		outcome = w.fail(ctx, err)
		return
	}

	w.update(func(st *model.TargetState) { st.Phase = model.PhaseUpdating })
	accepted, err := w.apply(ctx, candles)
	if err != nil {
		outcome = w.fail(ctx, err)
		return
	}
	w.succeeded(ctx)

	if len(accepted) == 0 {
		w.update(func(st *model.TargetState) { st.Phase = model.PhaseIdle })
		return
	}

	w.update(func(st *model.TargetState) { st.Phase = model.PhaseEvaluating })
	if err := w.evaluate(ctx, accepted); err != nil {
		outcome = "eval_error"
		w.log.Error("evaluation failed", append([]any{"err", err}, logger.LogWithTrace(ctx)...)...)
		if m := w.cfg.Metrics; m != nil {
			m.EvalErrors.WithLabelValues(w.key).Inc()
		}
		w.update(func(st *model.TargetState) {
			st.Phase = model.PhaseIdle
			st.LastError = err.Error()
			st.LastErrorTime = w.cfg.Now()
		})
		return
	}
	w.update(func(st *model.TargetState) {
		st.Phase = model.PhaseIdle
		st.LastSignal = w.cfg.Detector.Last()
	})
}

// request asks for candles after the newest stored one, or the newest
// FetchLimit candles on a cold start.
func (w *Worker) request() exchange.FetchRequest {
	req := exchange.FetchRequest{
		Symbol:    w.id.Symbol,
		Timeframe: w.id.Timeframe,
		Limit:     w.cfg.FetchLimit,
	}
	if last, ok := w.store.Last(); ok {
		req.Since = last.TS.Add(w.id.Timeframe.Duration())
	}
	return req
}

func (w *Worker) fetch(ctx context.Context, req exchange.FetchRequest) ([]model.Candle, error) {
	policy := w.cfg.Retry
	source := w.cfg.Source.Name()
	policy.OnRetry = func(attempt int, err error) {
		w.log.Warn("fetch failed, retrying",
			append([]any{"attempt", attempt, "err", err}, logger.LogWithTrace(ctx)...)...)
		if m := w.cfg.Metrics; m != nil {
			m.FetchRetries.WithLabelValues(source).Inc()
		}
	}
	return retry.Do(ctx, policy, func(ctx context.Context) ([]model.Candle, error) {
		if m := w.cfg.Metrics; m != nil {
			m.FetchAttempts.WithLabelValues(source).Inc()
		}
		return w.cfg.Source.Fetch(ctx, req)
	})
}

// apply validates, drops forming candles, backfills one gap and appends.
// It returns the newly stored closed candles.
func (w *Worker) apply(ctx context.Context, candles []model.Candle) ([]model.Candle, error) {
	closed, err := w.closedValid(candles)
	if err != nil {
		return nil, err
	}

	last, hasLast := w.store.Last()
	if hasLast && len(closed) > 0 {
		if from, ok := firstGap(last.TS, closed, w.id.Timeframe.Duration()); ok {
			closed = w.backfill(ctx, from, closed)
		}
	}

	res := w.store.Append(closed)
	for _, g := range res.Gaps {
		w.log.Warn("series gap skipped", append([]any{
			"after", g.After, "before", g.Before, "missing", g.Missing,
		}, logger.LogWithTrace(ctx)...)...)
		if m := w.cfg.Metrics; m != nil {
			m.GapsTotal.WithLabelValues(w.key).Inc()
		}
	}
	if m := w.cfg.Metrics; m != nil {
		m.CandlesStored.Add(float64(len(res.Accepted)))
		if res.Evicted > 0 {
			m.CandlesEvicted.WithLabelValues(w.key).Add(float64(res.Evicted))
		}
	}

	if w.cfg.Target.Persist && w.cfg.Candles != nil && len(res.Accepted) > 0 {
		if err := w.cfg.Candles.SaveCandles(ctx, w.id, res.Accepted); err != nil {
			w.log.Error("persist candles failed", append([]any{"err", err}, logger.LogWithTrace(ctx)...)...)
		}
	}

	w.update(func(st *model.TargetState) {
		st.Gaps += int64(len(res.Gaps))
		w.fillSeries(st)
	})
	return res.Accepted, nil
}

func (w *Worker) closedValid(candles []model.Candle) ([]model.Candle, error) {
	now := w.cfg.Now()
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w from %s: %v", errInvalidData, w.cfg.Source.Name(), err)
		}
		if !c.IsClosed(w.id.Timeframe, now) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

// firstGap returns the open time of the first missing bar after last, if any.
func firstGap(last time.Time, sorted []model.Candle, step time.Duration) (time.Time, bool) {
	prev := last
	for _, c := range sorted {
		if !c.TS.After(prev) {
			continue
		}
		if c.TS.Sub(prev) > step {
			return prev.Add(step), true
		}
		prev = c.TS
	}
	return time.Time{}, false
}

// backfill fetches once from the gap start and merges what comes back.
func (w *Worker) backfill(ctx context.Context, from time.Time, closed []model.Candle) []model.Candle {
	req := exchange.FetchRequest{
		Symbol:    w.id.Symbol,
		Timeframe: w.id.Timeframe,
		Since:     from,
		Limit:     w.cfg.FetchLimit,
	}
	extra, err := w.fetch(ctx, req)
	if err != nil {
		w.log.Warn("gap backfill failed", append([]any{"since", from, "err", err}, logger.LogWithTrace(ctx)...)...)
		return closed
	}
	extra, err = w.closedValid(extra)
	if err != nil {
		w.log.Warn("gap backfill returned bad data", append([]any{"err", err}, logger.LogWithTrace(ctx)...)...)
		return closed
	}

	byTS := make(map[int64]model.Candle, len(closed)+len(extra))
	for _, c := range extra {
		byTS[c.TS.UnixNano()] = c
	}
	for _, c := range closed {
		byTS[c.TS.UnixNano()] = c
	}
	merged := make([]model.Candle, 0, len(byTS))
	for _, c := range byTS {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TS.Before(merged[j].TS) })
	w.log.Info("gap backfill", append([]any{"since", from, "fetched", len(extra)}, logger.LogWithTrace(ctx)...)...)
	return merged
}

// evaluate runs the strategy over each new closed candle in order. The first
// evaluation of a worker's life only looks at the newest candle.
func (w *Worker) evaluate(ctx context.Context, accepted []model.Candle) error {
	if !w.evaluated {
		accepted = accepted[len(accepted)-1:]
		w.evaluated = true
	}
	snap := w.store.Snapshot()

	for _, c := range accepted {
		idx := snap.IndexOf(c.TS)
		if idx < 0 {
			continue // evicted within the same batch
		}
		window := snap.Prefix(idx)
		if n := w.cfg.TailCalc; n > 0 && window.Len() > n {
			window = model.NewSeries(window.Tail(n))
		}

		res, err := w.safeEvaluate(window)
		if err != nil {
			return fmt.Errorf("candle %s: %w", c.TS.Format(time.RFC3339), err)
		}
		sig, fired := w.cfg.Detector.Observe(c, res)
		if !fired {
			continue
		}

		w.log.Info("signal", append([]any{
			"kind", sig.Kind, "price", sig.Price, "candle_ts", sig.CandleTS,
		}, logger.LogWithTrace(ctx)...)...)
		if m := w.cfg.Metrics; m != nil {
			m.SignalsTotal.WithLabelValues(w.id.Source, string(sig.Kind)).Inc()
		}
		if w.cfg.Hub != nil {
			w.cfg.Hub.Publish(sig)
		}
	}
	return nil
}

func (w *Worker) safeEvaluate(s model.Series) (res strategy.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panic: %v", w.cfg.Strategy.Name(), r)
		}
	}()
	return w.cfg.Strategy.Evaluate(s)
}

// fail records a failed cycle and returns the metrics outcome label.
func (w *Worker) fail(ctx context.Context, err error) string {
	if errors.Is(err, retry.ErrAborted) {
		w.log.Info("cycle aborted", logger.LogWithTrace(ctx)...)
		w.update(func(st *model.TargetState) { st.Phase = model.PhaseIdle })
		return "aborted"
	}

	kind := "fatal"
	switch {
	case errors.Is(err, retry.ErrExhausted):
		kind = "exhausted"
	case errors.Is(err, errInvalidData):
		kind = "invalid"
	}
	if m := w.cfg.Metrics; m != nil {
		m.FetchFailures.WithLabelValues(w.id.Source, kind).Inc()
	}

	var consecutive int
	w.update(func(st *model.TargetState) {
		st.Phase = model.PhaseIdle
		st.ConsecutiveFailures++
		st.TotalFailures++
		st.LastError = err.Error()
		st.LastErrorTime = w.cfg.Now()
		consecutive = st.ConsecutiveFailures
	})
	w.log.Error("cycle failed", append([]any{
		"kind", kind, "consecutive", consecutive, "err", err,
	}, logger.LogWithTrace(ctx)...)...)

	n := w.cfg.AlertAfterFailures
	switch {
	case n > 0 && consecutive >= n && !w.alerted:
		w.alerted = true
		w.notify(notification.ErrorAlert(w.key,
			fmt.Errorf("%d consecutive failures: %w", consecutive, err)))
	case w.cfg.NotifyEachFailure && !w.alerted:
		w.notify(notification.WarningAlert(fmt.Sprintf("%s cycle failed (%s, %d in a row): %v", w.key, kind, consecutive, err)))
	}
	return "failed"
}

// succeeded resets the failure streak after a successful fetch.
func (w *Worker) succeeded(ctx context.Context) {
	prev := w.state.Load().ConsecutiveFailures
	w.update(func(st *model.TargetState) {
		st.ConsecutiveFailures = 0
		st.LastFetchTime = w.cfg.Now()
	})
	if prev > 0 {
		w.log.Info("recovered", append([]any{"after_failures", prev}, logger.LogWithTrace(ctx)...)...)
	}
	if w.alerted {
		w.alerted = false
		w.notify(notification.InfoAlert(fmt.Sprintf("%s recovered after %d failures", w.key, prev)))
	}
}

func (w *Worker) notify(a notification.Alert) {
	if w.cfg.Notifier == nil {
		return
	}
	w.sends.Add(1)
	go func() {
		defer w.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := w.cfg.Notifier.Send(ctx, a); err != nil {
			log.Printf("[worker] %s alert delivery failed: %v", w.key, err)
		}
	}()
}

// Close waits for pending alert deliveries.
func (w *Worker) Close() {
	w.sends.Wait()
}

// update publishes a modified copy of the status snapshot.
func (w *Worker) update(fn func(st *model.TargetState)) {
	next := *w.state.Load()
	fn(&next)
	w.state.Store(&next)
}

func (w *Worker) fillSeries(st *model.TargetState) {
	st.SeriesLen = w.store.Len()
	st.Evicted = int64(w.store.Evicted())
	if last, ok := w.store.Last(); ok {
		st.LastCandleTS = last.TS
	}
}
