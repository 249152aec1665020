package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first value lands at index period (one delta per bar after the first).
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period < 1 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		g, l := split(closes[i] - closes[i-1])
		avgGain += g
		avgLoss += l
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		g, l := split(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
