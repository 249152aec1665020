package strategy

import (
	"fmt"
	"log/slog"

	"github.com/hw3579/trading-bot/internal/indicator"
	"github.com/hw3579/trading-bot/internal/model"
)

// SMACrossover implements a simple SMA crossover strategy.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// Optional RSI filter prevents buying when overbought (>70)
// or selling when oversold (<30).
type SMACrossover struct {
	fastPeriod int
	slowPeriod int

	rsiEnabled bool
	rsiPeriod  int
}

// NewSMACrossover creates a new SMA crossover strategy.
// fast < slow (e.g., 9 and 21).
func NewSMACrossover(_ model.Timeframe, params model.Params) (Strategy, error) {
	s := &SMACrossover{
		fastPeriod: params.Int("fast", 9),
		slowPeriod: params.Int("slow", 21),
		rsiEnabled: params.Bool("rsi_filter", false),
		rsiPeriod:  params.Int("rsi_period", 14),
	}
	if s.fastPeriod < 1 || s.fastPeriod >= s.slowPeriod {
		return nil, fmt.Errorf("sma_cross: need 1 <= fast < slow, got fast=%d slow=%d", s.fastPeriod, s.slowPeriod)
	}
	if s.rsiEnabled && s.rsiPeriod < 1 {
		return nil, fmt.Errorf("sma_cross: rsi_period must be >= 1, got %d", s.rsiPeriod)
	}
	return s, nil
}

func (s *SMACrossover) Name() string {
	return "sma_cross"
}

func (s *SMACrossover) Evaluate(series model.Series) (Result, error) {
	last, ok := series.Last()
	if !ok {
		return Result{}, nil
	}
	closes := series.Closes()
	fast := indicator.SMA(closes, s.fastPeriod)
	slow := indicator.SMA(closes, s.slowPeriod)
	i := len(closes) - 1

	res := Result{
		Price:  last.Close,
		Fields: map[string]float64{"fast": fast[i], "slow": slow[i]},
	}
	if i < 1 || !indicator.Valid(slow[i-1]) {
		return res, nil
	}

	rsi := 50.0
	if s.rsiEnabled {
		rsi = indicator.Last(indicator.RSI(closes, s.rsiPeriod))
		res.Fields["rsi"] = rsi
	}

	// Golden cross: fast crosses above slow
	if fast[i-1] <= slow[i-1] && fast[i] > slow[i] {
		if s.rsiEnabled && rsi > 70 {
			slog.Debug("golden cross filtered by RSI", "component", "strategy", "strategy", s.Name(), "rsi", rsi)
			return res, nil
		}
		res.Kind = model.KindBuy
		return res, nil
	}

	// Death cross: fast crosses below slow
	if fast[i-1] >= slow[i-1] && fast[i] < slow[i] {
		if s.rsiEnabled && rsi < 30 {
			slog.Debug("death cross filtered by RSI", "component", "strategy", "strategy", s.Name(), "rsi", rsi)
			return res, nil
		}
		res.Kind = model.KindSell
	}
	return res, nil
}
