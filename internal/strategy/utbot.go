package strategy

import (
	"fmt"
	"strings"

	"github.com/hw3579/trading-bot/internal/indicator"
	"github.com/hw3579/trading-bot/internal/model"
)

// UTBot fires on crossovers of a smoothed source with an ATR trailing stop.
//
// Buy: source above the stop and the MA crosses above it.
// Sell: source below the stop and the MA crosses below it.
//
// With enable_sr_analysis on, fired results carry nearby support/resistance zones.
type UTBot struct {
	tf        model.Timeframe
	cfg       indicator.UTBotConfig
	allowBuy  bool
	allowSell bool

	srEnabled bool
	sr        indicator.SRConfig
}

// NewUTBot creates the UT Bot strategy for series of timeframe tf.
//
// Recognised keys: use_heikin, price_source, ma_type, ma_period, atr_period,
// a, allow_buy, allow_sell, enable_sr_analysis and an optional "sr" map.
func NewUTBot(tf model.Timeframe, params model.Params) (Strategy, error) {
	def := indicator.DefaultUTBotConfig()
	cfg := indicator.UTBotConfig{
		UseHeikin:   params.Bool("use_heikin", def.UseHeikin),
		PriceSource: strings.ToLower(params.String("price_source", def.PriceSource)),
		MAType:      strings.ToUpper(params.String("ma_type", def.MAType)),
		MAPeriod:    params.Int("ma_period", def.MAPeriod),
		ATRPeriod:   params.Int("atr_period", def.ATRPeriod),
		Multiplier:  params.Float("a", def.Multiplier),
	}
	switch {
	case cfg.PriceSource != "open" && cfg.PriceSource != "close":
		return nil, fmt.Errorf("utbot: price_source must be open or close, got %q", cfg.PriceSource)
	case cfg.MAPeriod < 1:
		return nil, fmt.Errorf("utbot: ma_period must be >= 1, got %d", cfg.MAPeriod)
	case cfg.ATRPeriod < 1:
		return nil, fmt.Errorf("utbot: atr_period must be >= 1, got %d", cfg.ATRPeriod)
	case cfg.Multiplier <= 0:
		return nil, fmt.Errorf("utbot: a must be > 0, got %v", cfg.Multiplier)
	}
	switch cfg.MAType {
	case "HMA", "SMA", "EMA", "WMA":
	default:
		return nil, fmt.Errorf("utbot: unsupported ma_type %q", cfg.MAType)
	}

	u := &UTBot{
		tf:        tf,
		cfg:       cfg,
		allowBuy:  params.Bool("allow_buy", true),
		allowSell: params.Bool("allow_sell", true),
		srEnabled: params.Bool("enable_sr_analysis", false),
		sr:        srConfig(params.Sub("sr")),
	}
	return u, nil
}

func (u *UTBot) Name() string { return "utbot" }

func (u *UTBot) Evaluate(s model.Series) (Result, error) {
	last, ok := s.Last()
	if !ok {
		return Result{}, nil
	}
	out := indicator.UTBot(s, u.cfg)
	i := s.Len() - 1

	res := Result{
		Price: last.Close,
		Fields: map[string]float64{
			"src":  out.Src[i],
			"ma":   out.MA[i],
			"stop": out.Stop[i],
		},
	}
	switch {
	case out.Buy[i] && u.allowBuy:
		res.Kind = model.KindBuy
	case out.Sell[i] && u.allowSell:
		res.Kind = model.KindSell
	default:
		return res, nil
	}

	if u.srEnabled {
		res.Context = indicator.SupportResistance(s, u.tf, u.sr)
	}
	return res, nil
}

func srConfig(p model.Params) indicator.SRConfig {
	cfg := indicator.DefaultSRConfig()
	if p == nil {
		return cfg
	}
	cfg.Swings = p.Bool("swings", cfg.Swings)
	cfg.Pivots = p.Bool("pivots", cfg.Pivots)
	cfg.Fibonacci = p.Bool("fibonacci", cfg.Fibonacci)
	cfg.OrderBlocks = p.Bool("order_blocks", cfg.OrderBlocks)
	cfg.VolumeProfile = p.Bool("volume_profile", cfg.VolumeProfile)
	cfg.Psychological = p.Bool("psychological", cfg.Psychological)
	cfg.SwingOrder = p.Int("swing_order", cfg.SwingOrder)
	cfg.LookbackSwings = p.Int("lookback_swings", cfg.LookbackSwings)
	cfg.FibPeriod = p.Int("fib_period", cfg.FibPeriod)
	cfg.WithinPercent = p.Float("within_percent", cfg.WithinPercent)
	cfg.ClusterPercent = p.Float("cluster_percent", cfg.ClusterPercent)
	cfg.ReactionLookback = p.Int("reaction_lookback", cfg.ReactionLookback)
	cfg.MinConfluence = p.Int("min_confluence", cfg.MinConfluence)
	cfg.TopN = p.Int("top_n", cfg.TopN)
	if tfs, ok := p["timeframes"].([]any); ok {
		cfg.Timeframes = cfg.Timeframes[:0:0]
		for _, v := range tfs {
			if s, ok := v.(string); ok {
				if d := model.Timeframe(s).Duration(); d > 0 {
					cfg.Timeframes = append(cfg.Timeframes, d)
				}
			}
		}
	}
	return cfg
}
