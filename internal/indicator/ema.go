package indicator

import "math"

// EMA calculates the Exponential Moving Average.
// Seeded with SMA(period) over the first period valid values, then
// EMA = price*k + prev*(1-k) with k = 2/(period+1). Leading NaNs are skipped.
func EMA(src []float64, period int) []float64 {
	return smoothed(src, period, 2.0/float64(period+1))
}

// Wilder calculates Wilder's smoothed moving average (SMMA / RMA).
// Seeded with SMA(period), then SMMA = (prev*(period-1) + price) / period.
func Wilder(src []float64, period int) []float64 {
	return smoothed(src, period, 1.0/float64(period))
}

func smoothed(src []float64, period int, k float64) []float64 {
	out := nanSlice(len(src))
	if period < 1 {
		return out
	}

	start := 0
	for start < len(src) && math.IsNaN(src[start]) {
		start++
	}
	if len(src)-start < period {
		return out
	}

	var sum float64
	for i := start; i < start+period; i++ {
		sum += src[i]
	}
	cur := sum / float64(period)
	out[start+period-1] = cur

	for i := start + period; i < len(src); i++ {
		cur = src[i]*k + cur*(1-k)
		out[i] = cur
	}
	return out
}
