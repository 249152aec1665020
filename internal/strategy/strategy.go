// Package strategy provides the signal rules evaluated over a target's candle series.
//
// A Strategy receives an immutable series ending at the candle being evaluated
// and returns a Result describing whether that candle is a BUY, a SELL, or neutral.
// Strategies are selected by name when configuration is loaded.
package strategy

import (
	"fmt"
	"sort"

	"github.com/hw3579/trading-bot/internal/model"
)

// Result is the outcome of evaluating the newest candle of a series.
type Result struct {
	Kind    model.SignalKind   `json:"kind"`
	Price   float64            `json:"price"`
	Context *model.SRContext   `json:"context,omitempty"`
	Fields  map[string]float64 `json:"fields,omitempty"` // indicator values at the evaluated bar
}

// Fired reports whether the result is a non-neutral decision.
func (r Result) Fired() bool {
	return r.Kind == model.KindBuy || r.Kind == model.KindSell
}

// Strategy is the interface that all signal rules must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate decides on the last candle of s. It must not retain s.
	Evaluate(s model.Series) (Result, error)
}

// Factory builds a strategy for one target timeframe from its configured
// parameters.
type Factory func(tf model.Timeframe, params model.Params) (Strategy, error)

var registry = map[string]Factory{
	"utbot":     NewUTBot,
	"sma_cross": NewSMACrossover,
}

// New builds the strategy registered under name for series of timeframe tf.
func New(name string, tf model.Timeframe, params model.Params) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	return f(tf, params)
}

// Names lists the registered strategy names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
