package indicator

import (
	"math"
	"sort"
	"time"

	"github.com/hw3579/trading-bot/internal/model"
)

// SRConfig configures multi-timeframe support/resistance zone detection.
type SRConfig struct {
	Timeframes       []time.Duration // higher timeframes to resample into; base always included
	Swings           bool
	Pivots           bool
	Fibonacci        bool
	OrderBlocks      bool
	VolumeProfile    bool
	Psychological    bool
	SwingOrder       int // bars on each side a swing must dominate
	LookbackSwings   int // newest swings kept per side
	FibPeriod        int
	WithinPercent    float64 // keep zones this close to price
	ClusterPercent   float64 // merge levels closer than this
	ReactionLookback int
	MinConfluence    int
	TopN             int
}

// DefaultSRConfig returns swing + round-number zones over 15m/1h/4h.
func DefaultSRConfig() SRConfig {
	return SRConfig{
		Timeframes:       []time.Duration{15 * time.Minute, time.Hour, 4 * time.Hour},
		Swings:           true,
		Psychological:    true,
		SwingOrder:       3,
		LookbackSwings:   3,
		FibPeriod:        50,
		WithinPercent:    2.5,
		ClusterPercent:   0.25,
		ReactionLookback: 100,
		MinConfluence:    2,
		TopN:             8,
	}
}

type rawLevel struct {
	price  float64
	method string
	kind   string
}

type zone struct {
	level      float64
	top        float64
	bottom     float64
	kind       string
	methods    []string
	confluence int
	reactions  int
}

func (z *zone) merge(l rawLevel) {
	z.top = math.Max(z.top, l.price)
	z.bottom = math.Min(z.bottom, l.price)
	z.level = (z.level + l.price) / 2
	z.confluence++
	z.methods = append(z.methods, l.method)
	if l.kind != z.kind {
		z.kind = "mixed"
	}
}

// SupportResistance clusters levels from several methods and timeframes into
// zones around the last close. Returns nil for an empty series.
func SupportResistance(s model.Series, tf model.Timeframe, cfg SRConfig) *model.SRContext {
	last, ok := s.Last()
	if !ok || last.Close <= 0 {
		return nil
	}
	price := last.Close

	frames := []struct {
		label  string
		series model.Series
	}{{string(tf), s}}
	for _, d := range cfg.Timeframes {
		if d <= tf.Duration() {
			continue
		}
		frames = append(frames, struct {
			label  string
			series model.Series
		}{d.String(), Resample(s, d)})
	}

	var levels []rawLevel
	for _, f := range frames {
		levels = append(levels, frameLevels(f.series, f.label, cfg)...)
	}
	if cfg.Psychological {
		for _, p := range psychologicalLevels(price, cfg.WithinPercent) {
			kind := "support"
			if p > price {
				kind = "resistance"
			}
			levels = append(levels, rawLevel{price: p, method: "psychological", kind: kind})
		}
	}

	zones := cluster(levels, price, cfg.ClusterPercent)
	closes := s.Closes()
	if n := cfg.ReactionLookback; n > 0 && len(closes) >= n {
		recent := closes[len(closes)-n:]
		for _, z := range zones {
			for _, c := range recent {
				if c >= z.bottom && c <= z.top {
					z.reactions++
				}
			}
		}
	}

	var kept []*zone
	for _, z := range zones {
		if math.Abs(z.level-price)/price*100 > cfg.WithinPercent {
			continue
		}
		if z.confluence < cfg.MinConfluence {
			continue
		}
		kept = append(kept, z)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].confluence > kept[j].confluence })
	if cfg.TopN > 0 && len(kept) > cfg.TopN {
		kept = kept[:cfg.TopN]
	}

	ctx := &model.SRContext{}
	for _, z := range kept {
		lv := model.Level{
			Price:       z.level,
			Top:         z.top,
			Bottom:      z.bottom,
			Kind:        z.kind,
			Methods:     z.methods,
			Confluence:  z.confluence,
			Reactions:   z.reactions,
			DistancePct: math.Abs(z.level-price) / price * 100,
		}
		ctx.Levels = append(ctx.Levels, lv)
		if z.confluence > ctx.MaxConfluence {
			ctx.MaxConfluence = z.confluence
		}
	}
	for i := range ctx.Levels {
		lv := &ctx.Levels[i]
		switch {
		case lv.Price < price && (ctx.NearestSupport == nil || lv.Price > ctx.NearestSupport.Price):
			ctx.NearestSupport = lv
		case lv.Price > price && (ctx.NearestResistance == nil || lv.Price < ctx.NearestResistance.Price):
			ctx.NearestResistance = lv
		}
	}
	return ctx
}

func frameLevels(s model.Series, label string, cfg SRConfig) []rawLevel {
	var out []rawLevel
	if s.Len() == 0 {
		return out
	}
	tag := func(m string) string { return m + "@" + label }

	if cfg.Swings {
		highs, lows := swingPoints(s, cfg.SwingOrder, cfg.LookbackSwings)
		for _, h := range highs {
			out = append(out, rawLevel{h, tag("swing_high"), "resistance"})
		}
		for _, l := range lows {
			out = append(out, rawLevel{l, tag("swing_low"), "support"})
		}
	}
	if cfg.Pivots {
		c, _ := s.Last()
		p := (c.High + c.Low + c.Close) / 3
		out = append(out,
			rawLevel{p, tag("pivot"), "pivot"},
			rawLevel{2*p - c.High, tag("s1"), "support"},
			rawLevel{2*p - c.Low, tag("r1"), "resistance"},
		)
	}
	if cfg.Fibonacci && cfg.FibPeriod > 0 && s.Len() >= cfg.FibPeriod {
		hi, lo := math.Inf(-1), math.Inf(1)
		for _, c := range s.Tail(cfg.FibPeriod) {
			hi = math.Max(hi, c.High)
			lo = math.Min(lo, c.Low)
		}
		if hi > lo {
			for _, r := range []float64{0.236, 0.382, 0.5, 0.618, 0.786} {
				out = append(out, rawLevel{lo + (hi-lo)*r, tag("fibonacci"), "pivot"})
			}
		}
	}
	if cfg.OrderBlocks {
		if bull, bear, ok := orderBlocks(s); ok {
			if bull > 0 {
				out = append(out, rawLevel{bull, tag("bullish_ob"), "support"})
			}
			if bear > 0 {
				out = append(out, rawLevel{bear, tag("bearish_ob"), "resistance"})
			}
		}
	}
	if cfg.VolumeProfile && s.Len() >= 50 {
		var pv, vol, maxVol, poc float64
		for _, c := range s.Tail(50) {
			pv += c.Volume * (c.High + c.Low + c.Close) / 3
			vol += c.Volume
			if c.Volume > maxVol {
				maxVol = c.Volume
				poc = (c.High + c.Low) / 2
			}
		}
		if vol > 0 {
			out = append(out,
				rawLevel{pv / vol, tag("vwap"), "pivot"},
				rawLevel{poc, tag("poc"), "pivot"},
			)
		}
	}
	return out
}

// swingPoints finds bars whose high (low) strictly dominates order bars on
// both sides, keeping the newest keep of each.
func swingPoints(s model.Series, order, keep int) (highs, lows []float64) {
	if order < 1 {
		order = 1
	}
	n := s.Len()
	for i := order; i < n-order; i++ {
		h, l := s.At(i).High, s.At(i).Low
		isHigh, isLow := true, true
		for k := 1; k <= order; k++ {
			if !(h > s.At(i-k).High && h > s.At(i+k).High) {
				isHigh = false
			}
			if !(l < s.At(i-k).Low && l < s.At(i+k).Low) {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, h)
		}
		if isLow {
			lows = append(lows, l)
		}
	}
	if keep > 0 {
		if len(highs) > keep {
			highs = highs[len(highs)-keep:]
		}
		if len(lows) > keep {
			lows = lows[len(lows)-keep:]
		}
	}
	return highs, lows
}

func orderBlocks(s model.Series) (bull, bear float64, ok bool) {
	if s.Len() < 3 {
		return 0, 0, false
	}
	for i := 2; i < s.Len(); i++ {
		cur, prev := s.At(i), s.At(i-1)
		if cur.Close > cur.Open && prev.Close < prev.Open && cur.Close > prev.High {
			bull = prev.Low
		}
		if cur.Close < cur.Open && prev.Close > prev.Open && cur.Close < prev.Low {
			bear = prev.High
		}
	}
	return bull, bear, true
}

// psychologicalLevels returns round-number prices within pct of price.
func psychologicalLevels(price, pct float64) []float64 {
	var step float64
	switch {
	case price >= 10000:
		step = 1000
	case price >= 1000:
		step = 100
	case price >= 100:
		step = 10
	case price >= 10:
		step = 1
	default:
		step = 0.1
	}
	span := pct / 100 * price
	start := math.Floor((price-span)/step) * step
	end := math.Floor((price+span)/step+1) * step

	var out []float64
	for i := 0; ; i++ {
		lv := start + float64(i)*step
		if lv > end+step/2 {
			break
		}
		lv = math.Round(lv/step) * step
		if lv != price {
			out = append(out, lv)
		}
	}
	return out
}

func cluster(levels []rawLevel, price, pct float64) []*zone {
	var zones []*zone
	for _, l := range levels {
		if !Valid(l.price) {
			continue
		}
		merged := false
		for _, z := range zones {
			if math.Abs(z.level-l.price)/price*100 < pct {
				z.merge(l)
				merged = true
				break
			}
		}
		if !merged {
			zones = append(zones, &zone{
				level:      l.price,
				top:        l.price,
				bottom:     l.price,
				kind:       l.kind,
				methods:    []string{l.method},
				confluence: 1,
			})
		}
	}
	return zones
}

// Resample groups candles into buckets of d aligned to the Unix epoch.
func Resample(s model.Series, d time.Duration) model.Series {
	if d <= 0 || s.Len() == 0 {
		return s
	}
	var out []model.Candle
	for i := 0; i < s.Len(); i++ {
		c := s.At(i)
		bucket := c.TS.Truncate(d)
		if n := len(out); n > 0 && out[n-1].TS.Equal(bucket) {
			b := &out[n-1]
			b.High = math.Max(b.High, c.High)
			b.Low = math.Min(b.Low, c.Low)
			b.Close = c.Close
			b.Volume += c.Volume
			continue
		}
		out = append(out, model.Candle{TS: bucket, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume})
	}
	return model.NewSeries(out)
}
