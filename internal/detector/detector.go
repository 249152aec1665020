// Package detector turns per-candle strategy results into signals, firing at
// most once per target per closed candle.
package detector

import (
	"sync/atomic"
	"time"

	"github.com/hw3579/trading-bot/internal/model"
	"github.com/hw3579/trading-bot/internal/strategy"
)

// State is the detector's memory for one target. Values are never mutated
// after they are published.
type State struct {
	LastTS     time.Time
	LastKind   model.SignalKind
	LastSignal *model.Signal
}

// Detector holds signal state for a single target. Observe is called by the
// target's worker only; Last and State are safe from any goroutine.
type Detector struct {
	target          model.TargetID
	strategy        string
	suppressRepeats bool
	now             func() time.Time

	state atomic.Pointer[State]
}

// Option customises a Detector.
type Option func(*Detector)

// WithSuppressRepeats controls whether a signal of the same kind as the
// previous one is withheld. On by default.
func WithSuppressRepeats(on bool) Option {
	return func(d *Detector) { d.suppressRepeats = on }
}

// WithClock overrides the clock used to stamp GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a detector for target whose signals are attributed to strategyName.
func New(target model.TargetID, strategyName string, opts ...Option) *Detector {
	d := &Detector{
		target:          target,
		strategy:        strategyName,
		suppressRepeats: true,
		now:             time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.state.Store(&State{})
	return d
}

// Observe records the evaluation of candle and returns a signal when it fires:
// the candle is newer than any seen before, the result is non-neutral and,
// with repeat suppression, its kind differs from the last signal's.
func (d *Detector) Observe(candle model.Candle, res strategy.Result) (*model.Signal, bool) {
	cur := d.state.Load()
	if !candle.TS.After(cur.LastTS) {
		return nil, false
	}

	next := &State{LastTS: candle.TS, LastKind: cur.LastKind, LastSignal: cur.LastSignal}
	fire := res.Fired() && !(d.suppressRepeats && res.Kind == cur.LastKind)
	var sig *model.Signal
	if fire {
		price := res.Price
		if price == 0 {
			price = candle.Close
		}
		sig = model.NewSignal(d.target, res.Kind, candle.TS, price, d.strategy, res.Context, d.now())
		next.LastKind = res.Kind
		next.LastSignal = sig
	}
	d.state.Store(next)
	return sig, fire
}

// Restore seeds state from a journaled signal so that re-evaluating the
// same candles after a restart does not fire again.
func (d *Detector) Restore(last *model.Signal) {
	if last == nil {
		return
	}
	d.state.Store(&State{LastTS: last.CandleTS, LastKind: last.Kind, LastSignal: last})
}

// Last returns the most recent signal, or nil.
func (d *Detector) Last() *model.Signal {
	return d.state.Load().LastSignal
}

// State returns the current state snapshot.
func (d *Detector) State() State {
	return *d.state.Load()
}
