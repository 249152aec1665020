// Package indicator provides technical indicator calculations over candle data.
//
// Every function is pure: it takes a full input slice and returns an output
// slice of the same length. Positions without enough history are NaN, so
// results line up index-for-index with the series they came from.
package indicator

import "math"

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Valid reports whether v is a usable (non-NaN, finite) value.
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Last returns the final element of xs, or NaN for an empty slice.
func Last(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return xs[len(xs)-1]
}

// CrossOver reports whether a crossed above b at index i.
func CrossOver(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	return a[i-1] < b[i-1] && a[i] > b[i]
}

// CrossUnder reports whether a crossed below b at index i.
func CrossUnder(a, b []float64, i int) bool {
	return CrossOver(b, a, i)
}
