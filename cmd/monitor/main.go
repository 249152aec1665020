package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hw3579/trading-bot/config"
	"github.com/hw3579/trading-bot/internal/logger"
	"github.com/hw3579/trading-bot/internal/monitor"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config file (defaults and MONITOR_* env only when empty)")
	logLevel := pflag.String("log-level", "", "override log.level")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[monitor] config: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	_, closer, err := logger.Init("monitor", logger.LogConfig{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.BackupCount,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		log.Fatalf("[monitor] logger: %v", err)
	}
	defer closer.Close()

	log.Printf("[monitor] %d targets enabled, trigger second=%d every %dm",
		len(cfg.EnabledTargets()), cfg.Monitoring.TriggerSecond, cfg.Monitoring.TriggerMinutes)

	svc, err := monitor.New(cfg)
	if err != nil {
		log.Fatalf("[monitor] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[monitor] fatal: %v", err)
	}
}
