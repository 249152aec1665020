package indicator

import (
	"math"

	"github.com/hw3579/trading-bot/internal/model"
)

// TrueRange returns max(h-l, |h-prevClose|, |l-prevClose|). Index 0 is NaN.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := nanSlice(len(closes))
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR calculates the Average True Range with Wilder smoothing.
// The first value is the plain mean of TR[1..period], at index period.
func ATR(highs, lows, closes []float64, period int) []float64 {
	return Wilder(TrueRange(highs, lows, closes), period)
}

// HeikinAshi returns the Heikin-Ashi open and close columns.
// haClose = (o+h+l+c)/4; haOpen[0] = open[0]; haOpen[i] = (haOpen[i-1]+haClose[i-1])/2.
func HeikinAshi(s model.Series) (haOpen, haClose []float64) {
	n := s.Len()
	haOpen = make([]float64, n)
	haClose = make([]float64, n)
	for i := 0; i < n; i++ {
		c := s.At(i)
		haClose[i] = (c.Open + c.High + c.Low + c.Close) / 4
		if i == 0 {
			haOpen[i] = c.Open
			continue
		}
		haOpen[i] = (haOpen[i-1] + haClose[i-1]) / 2
	}
	return haOpen, haClose
}
