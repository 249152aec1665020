package indicator

import "math"

// SMA calculates the Simple Moving Average with a running window sum.
// The first period-1 values are NaN. A NaN input poisons every window it is in.
func SMA(src []float64, period int) []float64 {
	out := nanSlice(len(src))
	if period < 1 {
		return out
	}

	var sum float64
	nans := 0
	for i, v := range src {
		if math.IsNaN(v) {
			nans++
		} else {
			sum += v
		}
		if i >= period {
			old := src[i-period]
			if math.IsNaN(old) {
				nans--
			} else {
				sum -= old
			}
		}
		if i >= period-1 && nans == 0 {
			out[i] = sum / float64(period)
		}
	}
	return out
}
