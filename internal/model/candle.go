package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Candle is one OHLCV bar. TS is the bar open time in UTC.
type Candle struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// CloseTime returns the instant the bar stops forming.
func (c Candle) CloseTime(tf Timeframe) time.Time {
	return c.TS.Add(tf.Duration())
}

// IsClosed reports whether the bar interval has fully elapsed at now.
func (c Candle) IsClosed(tf Timeframe, now time.Time) bool {
	return !c.CloseTime(tf).After(now)
}

// Validate rejects bars that cannot come from a sane upstream.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("candle %s: non-finite value", c.TS.Format(time.RFC3339))
		}
	}
	if c.TS.IsZero() {
		return fmt.Errorf("candle: zero timestamp")
	}
	if c.Low <= 0 || c.High <= 0 {
		return fmt.Errorf("candle %s: non-positive price", c.TS.Format(time.RFC3339))
	}
	if c.High < c.Low {
		return fmt.Errorf("candle %s: high %.8f < low %.8f", c.TS.Format(time.RFC3339), c.High, c.Low)
	}
	if c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("candle %s: open/close outside range", c.TS.Format(time.RFC3339))
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s: negative volume", c.TS.Format(time.RFC3339))
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Series is an immutable, strictly increasing run of candles.
// Callers must not modify the backing slice.
type Series struct {
	candles []Candle
}

// NewSeries wraps candles without copying. The caller gives up ownership.
func NewSeries(candles []Candle) Series {
	return Series{candles: candles}
}

func (s Series) Len() int { return len(s.candles) }

// At returns the i-th candle, oldest first.
func (s Series) At(i int) Candle { return s.candles[i] }

// Last returns the newest candle.
func (s Series) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Prefix returns the series ending at index i (inclusive).
func (s Series) Prefix(i int) Series {
	return Series{candles: s.candles[: i+1 : i+1]}
}

// Tail returns a copy of the newest n candles in ascending order.
func (s Series) Tail(n int) []Candle {
	if n <= 0 || n > len(s.candles) {
		n = len(s.candles)
	}
	out := make([]Candle, n)
	copy(out, s.candles[len(s.candles)-n:])
	return out
}

// IndexOf returns the index of the candle opening at ts, or -1.
func (s Series) IndexOf(ts time.Time) int {
	lo, hi := 0, len(s.candles)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch c := s.candles[mid].TS; {
		case c.Equal(ts):
			return mid
		case c.Before(ts):
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}

func (s Series) Opens() []float64  { return s.column(func(c Candle) float64 { return c.Open }) }
func (s Series) Highs() []float64  { return s.column(func(c Candle) float64 { return c.High }) }
func (s Series) Lows() []float64   { return s.column(func(c Candle) float64 { return c.Low }) }
func (s Series) Closes() []float64 { return s.column(func(c Candle) float64 { return c.Close }) }

func (s Series) column(f func(Candle) float64) []float64 {
	out := make([]float64, len(s.candles))
	for i, c := range s.candles {
		out[i] = f(c)
	}
	return out
}
