// Package replay feeds stored candles back through a target worker one bar
// per tick, for strategy backtesting and detector verification.
package replay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/hw3579/trading-bot/internal/exchange"
	"github.com/hw3579/trading-bot/internal/model"
)

// maxSleep caps the simulated gap between two bars.
const maxSleep = 5 * time.Second

// Replayer is an exchange.Source over a fixed candle history. Each Step
// reveals one more bar and advances the virtual clock to its close.
type Replayer struct {
	source string
	tf     model.Timeframe

	mu       sync.Mutex
	candles  []model.Candle
	revealed int
}

// New builds a Replayer from candles in any order. Duplicates keep the first.
func New(source string, tf model.Timeframe, candles []model.Candle) *Replayer {
	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	uniq := sorted[:0]
	for _, c := range sorted {
		if n := len(uniq); n > 0 && !c.TS.After(uniq[n-1].TS) {
			continue
		}
		uniq = append(uniq, c)
	}
	return &Replayer{source: source, tf: tf, candles: uniq}
}

// Load reads up to limit stored candles of id.
func Load(ctx context.Context, store model.CandleStore, id model.TargetID, limit int) (*Replayer, error) {
	candles, err := store.ReadCandles(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return New(id.Source, id.Timeframe, candles), nil
}

func (r *Replayer) Name() string { return r.source }

// Len is the number of bars in the history.
func (r *Replayer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candles)
}

// Step reveals the next bar. It returns false when the history is exhausted.
func (r *Replayer) Step() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revealed >= len(r.candles) {
		return false
	}
	r.revealed++
	return true
}

// Rewind hides every bar again.
func (r *Replayer) Rewind() {
	r.mu.Lock()
	r.revealed = 0
	r.mu.Unlock()
}

// Now is the close time of the newest revealed bar.
func (r *Replayer) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revealed == 0 {
		if len(r.candles) == 0 {
			return time.Time{}
		}
		return r.candles[0].TS
	}
	return r.candles[r.revealed-1].CloseTime(r.tf)
}

// Fetch returns revealed bars at or after req.Since, newest req.Limit only.
func (r *Replayer) Fetch(ctx context.Context, req exchange.FetchRequest) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	visible := r.candles[:r.revealed]
	start := sort.Search(len(visible), func(i int) bool { return !visible[i].TS.Before(req.Since) })
	out := visible[start:]
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return append([]model.Candle(nil), out...), nil
}

// Cycler runs one fetch/update/evaluate pass.
type Cycler interface {
	RunCycle(ctx context.Context)
}

// Run steps r through its whole history, running one cycle per bar.
// speed scales the wall-clock gap between bars: 0 runs as fast as possible,
// 1 is real time. Returns the number of bars replayed.
func Run(ctx context.Context, r *Replayer, c Cycler, speed float64) (int, error) {
	log.Printf("[replay] %s: %d candles, speed=%.1fx", r.source, r.Len(), speed)

	steps := 0
	var prev time.Time
	for r.Step() {
		if err := ctx.Err(); err != nil {
			log.Printf("[replay] cancelled after %d candles", steps)
			return steps, err
		}
		now := r.Now()
		if speed > 0 && !prev.IsZero() {
			if gap := time.Duration(float64(now.Sub(prev)) / speed); gap > 0 {
				select {
				case <-ctx.Done():
					return steps, ctx.Err()
				case <-time.After(min(gap, maxSleep)):
				}
			}
		}
		prev = now

		c.RunCycle(ctx)
		steps++
	}
	log.Printf("[replay] completed: %d candles replayed", steps)
	return steps, nil
}
