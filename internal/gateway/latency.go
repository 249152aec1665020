package gateway

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hw3579/trading-bot/internal/model"
)

// Stage names one measured step of a signal's path through the hub.
type Stage string

const (
	// StageDetect is signal generation to hub enqueue.
	StageDetect Stage = "detect"
	// StageFanout is the time Publish spends offering one signal to every subscriber.
	StageFanout Stage = "fanout"
)

// LatencyStats summarises one window of samples.
type LatencyStats struct {
	Samples int     `json:"samples"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	P99Ms   float64 `json:"p99_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// StageLatency is the /health view of one stage, overall and per timeframe.
type StageLatency struct {
	All         LatencyStats                     `json:"all"`
	ByTimeframe map[model.Timeframe]LatencyStats `json:"by_timeframe"`
}

type latencyKey struct {
	stage Stage
	tf    model.Timeframe
}

// window keeps the newest len(ms) samples.
type window struct {
	ms   []float64
	next int
	full bool
}

func (w *window) add(v float64) {
	w.ms[w.next] = v
	w.next++
	if w.next == len(w.ms) {
		w.next, w.full = 0, true
	}
}

func (w *window) values() []float64 {
	if w.full {
		return slices.Clone(w.ms)
	}
	return slices.Clone(w.ms[:w.next])
}

// LatencyTracker keeps bounded sample windows per stage and timeframe.
type LatencyTracker struct {
	mu      sync.Mutex
	size    int
	windows map[latencyKey]*window
}

// NewLatencyTracker keeps the newest size samples per (stage, timeframe).
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 1000
	}
	return &LatencyTracker{size: size, windows: make(map[latencyKey]*window)}
}

// Observe records d for stage on a signal of timeframe tf. Negative
// durations (clock skew) are ignored.
func (lt *LatencyTracker) Observe(stage Stage, tf model.Timeframe, d time.Duration) {
	if d < 0 {
		return
	}
	k := latencyKey{stage, tf}
	lt.mu.Lock()
	w, ok := lt.windows[k]
	if !ok {
		w = &window{ms: make([]float64, lt.size)}
		lt.windows[k] = w
	}
	w.add(float64(d.Microseconds()) / 1000.0)
	lt.mu.Unlock()
}

// Stage reports stage overall and per timeframe.
func (lt *LatencyTracker) Stage(stage Stage) StageLatency {
	lt.mu.Lock()
	per := make(map[model.Timeframe][]float64)
	for k, w := range lt.windows {
		if k.stage == stage {
			per[k.tf] = w.values()
		}
	}
	lt.mu.Unlock()

	out := StageLatency{ByTimeframe: make(map[model.Timeframe]LatencyStats, len(per))}
	var all []float64
	for tf, vs := range per {
		out.ByTimeframe[tf] = summarize(vs)
		all = append(all, vs...)
	}
	out.All = summarize(all)
	return out
}

// Report returns every stage keyed by name.
func (lt *LatencyTracker) Report() map[Stage]StageLatency {
	return map[Stage]StageLatency{
		StageDetect: lt.Stage(StageDetect),
		StageFanout: lt.Stage(StageFanout),
	}
}

func summarize(vs []float64) LatencyStats {
	if len(vs) == 0 {
		return LatencyStats{}
	}
	slices.Sort(vs)
	return LatencyStats{
		Samples: len(vs),
		P50Ms:   nearestRank(vs, 50),
		P95Ms:   nearestRank(vs, 95),
		P99Ms:   nearestRank(vs, 99),
		MaxMs:   vs[len(vs)-1],
	}
}

// nearestRank returns the smallest sample with at least p percent of the
// samples at or below it. sorted must be non-empty.
func nearestRank(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
