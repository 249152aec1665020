package indicator

import (
	"strings"

	"github.com/hw3579/trading-bot/internal/model"
)

// UTBotConfig configures the UT Bot trailing-stop indicator.
type UTBotConfig struct {
	UseHeikin   bool    // derive the source from Heikin-Ashi bars
	PriceSource string  // "open" or "close"
	MAType      string  // HMA, SMA, EMA, WMA
	MAPeriod    int     // e.g. 2
	ATRPeriod   int     // e.g. 11
	Multiplier  float64 // "a", stop distance in ATRs
}

// DefaultUTBotConfig is Heikin-Ashi open, HMA(2), ATR(11), a=1.
func DefaultUTBotConfig() UTBotConfig {
	return UTBotConfig{
		UseHeikin:   true,
		PriceSource: "open",
		MAType:      "HMA",
		MAPeriod:    2,
		ATRPeriod:   11,
		Multiplier:  1.0,
	}
}

// UTBotOutput holds per-bar indicator columns aligned with the input series.
type UTBotOutput struct {
	Src  []float64
	MA   []float64
	Stop []float64
	Buy  []bool
	Sell []bool
}

// UTBot computes the ATR trailing stop and crossover signals.
// Buy at i when src > stop and the MA crosses above the stop; Sell mirrors it.
func UTBot(s model.Series, cfg UTBotConfig) UTBotOutput {
	n := s.Len()
	out := UTBotOutput{
		Stop: make([]float64, n),
		Buy:  make([]bool, n),
		Sell: make([]bool, n),
	}
	if n == 0 {
		return out
	}

	if cfg.UseHeikin {
		haOpen, haClose := HeikinAshi(s)
		if strings.EqualFold(cfg.PriceSource, "close") {
			out.Src = haClose
		} else {
			out.Src = haOpen
		}
	} else if strings.EqualFold(cfg.PriceSource, "close") {
		out.Src = s.Closes()
	} else {
		out.Src = s.Opens()
	}
	src := out.Src

	// ATR always uses the raw bars, never the Heikin-Ashi ones.
	atr := ATR(s.Highs(), s.Lows(), s.Closes(), cfg.ATRPeriod)

	switch strings.ToUpper(cfg.MAType) {
	case "SMA":
		out.MA = SMA(src, cfg.MAPeriod)
	case "EMA":
		out.MA = EMA(src, cfg.MAPeriod)
	case "WMA":
		out.MA = WMA(src, cfg.MAPeriod)
	default:
		out.MA = HMA(src, cfg.MAPeriod)
	}

	stop := out.Stop
	for i := 0; i < n; i++ {
		nLoss := cfg.Multiplier * atr[i]
		prev := 0.0
		if i > 0 && Valid(stop[i-1]) {
			prev = stop[i-1]
		}
		up := i > 0 && src[i] > prev && src[i-1] > prev
		down := i > 0 && src[i] < prev && src[i-1] < prev

		var v float64
		switch {
		case up:
			v = keepFirstMax(prev, src[i]-nLoss)
		case down:
			v = keepFirstMin(prev, src[i]+nLoss)
		case src[i] > prev:
			v = src[i] - nLoss
		default:
			v = src[i] + nLoss
		}
		stop[i] = v
	}

	for i := 1; i < n; i++ {
		above := out.MA[i-1] < stop[i-1] && out.MA[i] > stop[i]
		below := stop[i-1] < out.MA[i-1] && stop[i] > out.MA[i]
		out.Buy[i] = src[i] > stop[i] && above
		out.Sell[i] = src[i] < stop[i] && below
	}
	return out
}

// keepFirstMax returns b only when it is strictly greater, so a NaN b keeps a.
func keepFirstMax(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

func keepFirstMin(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}
