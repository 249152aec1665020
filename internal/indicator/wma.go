package indicator

import "math"

// WMA calculates the linearly Weighted Moving Average.
// Weights are 1..period with the newest bar weighted highest.
func WMA(src []float64, period int) []float64 {
	out := nanSlice(len(src))
	if period < 1 {
		return out
	}
	denom := float64(period*(period+1)) / 2

	for i := period - 1; i < len(src); i++ {
		var acc float64
		ok := true
		for j := 0; j < period; j++ {
			v := src[i-period+1+j]
			if math.IsNaN(v) {
				ok = false
				break
			}
			acc += v * float64(j+1)
		}
		if ok {
			out[i] = acc / denom
		}
	}
	return out
}

// HMA calculates the Hull Moving Average:
// WMA(2*WMA(src, n/2) - WMA(src, n), floor(sqrt(n))).
func HMA(src []float64, period int) []float64 {
	if period < 1 {
		return nanSlice(len(src))
	}
	half := period / 2
	if half < 1 {
		half = 1
	}
	root := int(math.Sqrt(float64(period)))
	if root < 1 {
		root = 1
	}

	wHalf := WMA(src, half)
	wFull := WMA(src, period)
	diff := make([]float64, len(src))
	for i := range src {
		diff[i] = 2*wHalf[i] - wFull[i]
	}
	return WMA(diff, root)
}
