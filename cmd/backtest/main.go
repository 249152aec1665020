// cmd/backtest replays candles persisted in SQLite through a target worker
// and prints every signal the detector emits.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/monitor.db --exchange=okx --symbol=BTC-USDT-SWAP --tf=15m
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/pflag"

	"github.com/hw3579/trading-bot/config"
	"github.com/hw3579/trading-bot/internal/detector"
	"github.com/hw3579/trading-bot/internal/model"
	"github.com/hw3579/trading-bot/internal/replay"
	"github.com/hw3579/trading-bot/internal/retry"
	sqlitestore "github.com/hw3579/trading-bot/internal/store/sqlite"
	"github.com/hw3579/trading-bot/internal/strategy"
	"github.com/hw3579/trading-bot/internal/worker"
)

type printer struct{ n int }

func (p *printer) Publish(sig *model.Signal) {
	p.n++
	fmt.Printf("  [%s] %-4s %s @ %.4f\n", sig.CandleTS.Format("2006-01-02 15:04"), sig.Kind, sig.Target().Key(), sig.Price)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := pflag.String("config", "", "config file for strategy params")
	dbPath := pflag.String("db", "data/monitor.db", "path to SQLite database")
	exchangeName := pflag.String("exchange", "okx", "data source name")
	symbol := pflag.String("symbol", "", "symbol to replay")
	tfStr := pflag.String("tf", "15m", "timeframe")
	strategyName := pflag.String("strategy", "", "strategy (default: target's or monitoring.default_strategy)")
	limit := pflag.Int("limit", 5000, "newest N candles to replay")
	speed := pflag.Float64("speed", 0, "playback speed multiplier (0=max, 1=realtime)")
	pflag.Parse()

	if *symbol == "" {
		log.Fatal("[backtest] --symbol is required")
	}
	tf, err := model.ParseTimeframe(*tfStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}

	id := model.TargetID{Source: strings.ToLower(*exchangeName), Symbol: *symbol, Timeframe: tf}
	target, ok := lo.Find(cfg.EnabledTargets(), func(t model.Target) bool { return t.TargetID == id })
	if !ok {
		target = model.Target{TargetID: id, Enabled: true, Strategy: cfg.Monitoring.DefaultStrategy}
	}
	if *strategyName != "" {
		target.Strategy = *strategyName
	}
	if target.Params == nil {
		target.Params = model.Params(cfg.Strategies[target.Strategy])
	}

	strat, err := strategy.New(target.Strategy, target.Timeframe, target.Params)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	store, err := sqlitestore.Open(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rep, err := replay.Load(ctx, store, id, *limit)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if rep.Len() == 0 {
		log.Fatalf("[backtest] no stored candles for %s", id)
	}

	out := &printer{}
	w := worker.New(worker.Config{
		Target:     target,
		Source:     rep,
		Strategy:   strat,
		Detector:   detector.New(id, strat.Name(), detector.WithSuppressRepeats(cfg.Monitoring.SuppressRepeats)),
		Hub:        out,
		Retry:      retry.Policy{MaxRetries: 1},
		FetchLimit: cfg.Monitoring.FetchLimit,
		Retention:  cfg.Monitoring.Retention,
		TailCalc:   cfg.Monitoring.TailCalc,
		Now:        rep.Now,
	})

	n, err := replay.Run(ctx, rep, w, *speed)
	if err != nil {
		log.Printf("[backtest] replay stopped: %v", err)
	}

	st := w.State()
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles replayed:  %-16d ║\n", n)
	fmt.Printf("║  Signals:           %-16d ║\n", out.n)
	fmt.Printf("║  Gaps:              %-16d ║\n", st.Gaps)
	fmt.Printf("║  Strategy:          %-16s ║\n", strat.Name())
	fmt.Println("╚══════════════════════════════════════╝")
}
