// Package series provides the per-target rolling candle window.
//
// A Store has exactly one writer (the target's worker) and any number of
// readers. Every Append publishes a fresh immutable model.Series through an
// atomic pointer, so readers never observe a half-applied batch.
package series

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/hw3579/trading-bot/internal/model"
)

// Gap describes missing bars between two stored candles.
type Gap struct {
	After   time.Time `json:"after"`  // last candle before the hole
	Before  time.Time `json:"before"` // first candle after the hole
	Missing int       `json:"missing"`
}

// AppendResult reports what one Append did.
type AppendResult struct {
	Accepted []model.Candle // newly stored, ascending
	Rejected int            // ts <= last stored, or duplicate within batch
	Evicted  int
	Gaps     []Gap
}

// Store is a bounded, strictly increasing candle window.
type Store struct {
	capacity int
	tf       model.Timeframe

	snap atomic.Pointer[model.Series]

	evicted atomic.Uint64
}

// New creates a store retaining at most capacity candles. Minimum capacity is 1.
func New(capacity int, tf model.Timeframe) *Store {
	if capacity < 1 {
		capacity = 1
	}
	s := &Store{capacity: capacity, tf: tf}
	empty := model.NewSeries(nil)
	s.snap.Store(&empty)
	return s
}

// Append stores candles newer than the last stored timestamp.
// Input order does not matter. Must only be called by the owning worker.
func (s *Store) Append(candles []model.Candle) AppendResult {
	var res AppendResult
	if len(candles) == 0 {
		return res
	}

	in := make([]model.Candle, len(candles))
	copy(in, candles)
	sort.Slice(in, func(i, j int) bool { return in[i].TS.Before(in[j].TS) })

	cur := s.snap.Load()
	last, hasLast := cur.Last()
	step := s.tf.Duration()

	for _, c := range in {
		if hasLast && !c.TS.After(last.TS) {
			res.Rejected++
			continue
		}
		if hasLast && step > 0 {
			if delta := c.TS.Sub(last.TS); delta > step {
				res.Gaps = append(res.Gaps, Gap{
					After:   last.TS,
					Before:  c.TS,
					Missing: int(delta/step) - 1,
				})
			}
		}
		res.Accepted = append(res.Accepted, c)
		last, hasLast = c, true
	}
	if len(res.Accepted) == 0 {
		return res
	}

	// Copy-on-write: readers keep the old backing array.
	total := cur.Len() + len(res.Accepted)
	drop := 0
	if total > s.capacity {
		drop = total - s.capacity
	}
	next := make([]model.Candle, 0, total-drop)
	for i := drop; i < cur.Len(); i++ {
		next = append(next, cur.At(i))
	}
	skip := drop - cur.Len()
	if skip < 0 {
		skip = 0
	}
	next = append(next, res.Accepted[skip:]...)

	res.Evicted = drop
	s.evicted.Add(uint64(drop))

	series := model.NewSeries(next)
	s.snap.Store(&series)
	return res
}

// Snapshot returns the current immutable view. Safe for concurrent use.
func (s *Store) Snapshot() model.Series {
	return *s.snap.Load()
}

// Last returns the newest stored candle.
func (s *Store) Last() (model.Candle, bool) {
	return s.snap.Load().Last()
}

// Len returns the number of stored candles.
func (s *Store) Len() int {
	return s.snap.Load().Len()
}

// Cap returns the retention bound.
func (s *Store) Cap() int {
	return s.capacity
}

// Evicted returns the total number of candles dropped by retention.
func (s *Store) Evicted() uint64 {
	return s.evicted.Load()
}
