// Package config loads the monitor configuration from a YAML file with
// MONITOR_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/hw3579/trading-bot/internal/exchange"
	"github.com/hw3579/trading-bot/internal/model"
	"github.com/hw3579/trading-bot/internal/strategy"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid config")

// Config is the full process configuration.
type Config struct {
	Monitoring   MonitoringConfig          `mapstructure:"monitoring"`
	Exchanges    map[string]ExchangeConfig `mapstructure:"exchanges" validate:"dive"`
	Targets      []TargetConfig            `mapstructure:"targets" validate:"dive"`
	Strategies   map[string]map[string]any `mapstructure:"strategies"` // global params per strategy name
	Servers      ServersConfig             `mapstructure:"servers"`
	Hub          HubConfig                 `mapstructure:"hub"`
	SQLite       SQLiteConfig              `mapstructure:"sqlite"`
	Redis        RedisConfig               `mapstructure:"redis"`
	Kafka        KafkaConfig               `mapstructure:"kafka"`
	Notification NotificationConfig        `mapstructure:"notification"`
	Log          LogConfig                 `mapstructure:"log"`
}

// MonitoringConfig drives the scheduler and the workers.
type MonitoringConfig struct {
	TriggerSecond      int           `mapstructure:"trigger_second" validate:"gte=0,lte=59"`
	TriggerMinutes     int           `mapstructure:"trigger_minutes" validate:"gte=1,lte=1440"`
	FetchLimit         int           `mapstructure:"fetch_limit" validate:"gte=1,lte=1000"`
	Retention          int           `mapstructure:"retention" validate:"gte=1"`
	TailCalc           int           `mapstructure:"tail_calc" validate:"gte=1"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=1,lte=20"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	AttemptTimeout     time.Duration `mapstructure:"attempt_timeout" validate:"gte=0"`
	MaxWorkers         int           `mapstructure:"max_workers" validate:"gte=1,lte=20"`
	AlertAfterFailures int           `mapstructure:"alert_after_failures" validate:"gte=0"`
	NotifyEachFailure  bool          `mapstructure:"notify_each_failure"`
	RunOnStart         bool          `mapstructure:"run_on_start"`
	SuppressRepeats    bool          `mapstructure:"suppress_repeats"`
	DefaultStrategy    string        `mapstructure:"default_strategy" validate:"required"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// ExchangeConfig configures one data source.
type ExchangeConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	EnableRateLimit bool          `mapstructure:"enable_rate_limit"`
	RatePerSecond   float64       `mapstructure:"rate_per_second" validate:"gte=0"`
	Burst           int           `mapstructure:"burst" validate:"gte=0"`
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey          string        `mapstructure:"api_key"`
	APISecret       string        `mapstructure:"api_secret"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// TargetConfig is one (exchange, symbol, timeframe) entry.
type TargetConfig struct {
	Exchange  string         `mapstructure:"exchange" validate:"required"`
	Symbol    string         `mapstructure:"symbol" validate:"required"`
	Timeframe string         `mapstructure:"timeframe" validate:"required"`
	Enabled   bool           `mapstructure:"enabled"`
	Strategy  string         `mapstructure:"strategy"`
	Params    map[string]any `mapstructure:"params"`
	Persist   bool           `mapstructure:"persist"`
}

type ServersConfig struct {
	PushAddr    string `mapstructure:"push_addr" validate:"required"`
	QueryAddr   string `mapstructure:"query_addr" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type HubConfig struct {
	BufferSize     int           `mapstructure:"buffer_size" validate:"gte=1"`
	HistorySize    int           `mapstructure:"history_size" validate:"gte=1"`
	OverflowPolicy string        `mapstructure:"overflow_policy" validate:"oneof=drop_oldest disconnect"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout" validate:"gt=0"`
}

type SQLiteConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Path           string        `mapstructure:"path" validate:"required_if=Enabled true"`
	PruneKeep      int           `mapstructure:"prune_keep" validate:"gte=0"`
	PruneInterval  time.Duration `mapstructure:"prune_interval" validate:"gte=0"`
	JournalSignals bool          `mapstructure:"journal_signals"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	StreamKey    string        `mapstructure:"stream_key"`
	StreamMaxLen int64         `mapstructure:"stream_max_len" validate:"gte=0"`
	LatestTTL    time.Duration `mapstructure:"latest_ttl" validate:"gte=0"`
	MaxFailures  int           `mapstructure:"max_failures" validate:"gte=0"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout" validate:"gte=0"`
	PendingMax   int           `mapstructure:"pending_max" validate:"gte=0"`
}

type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic        string   `mapstructure:"topic" validate:"required_if=Enabled true"`
	RequiredAcks int      `mapstructure:"required_acks" validate:"oneof=-1 0 1"`
	Compression  string   `mapstructure:"compression" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
}

type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Signals  bool           `mapstructure:"signals"` // also send every signal, not just errors
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

type TelegramConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BotToken string   `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	ChatIDs  []string `mapstructure:"chat_ids" validate:"required_if=Enabled true"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url" validate:"required_if=Enabled true"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" validate:"gte=0"`
	BackupCount int    `mapstructure:"backup_count" validate:"gte=0"`
	MaxAgeDays  int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress    bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitoring.trigger_second", 30)
	v.SetDefault("monitoring.trigger_minutes", 1)
	v.SetDefault("monitoring.fetch_limit", 100)
	v.SetDefault("monitoring.retention", 500)
	v.SetDefault("monitoring.tail_calc", 50)
	v.SetDefault("monitoring.max_retries", 3)
	v.SetDefault("monitoring.retry_delay", "10s")
	v.SetDefault("monitoring.attempt_timeout", "15s")
	v.SetDefault("monitoring.max_workers", 8)
	v.SetDefault("monitoring.alert_after_failures", 3)
	v.SetDefault("monitoring.notify_each_failure", false)
	v.SetDefault("monitoring.run_on_start", true)
	v.SetDefault("monitoring.suppress_repeats", true)
	v.SetDefault("monitoring.default_strategy", "utbot")
	v.SetDefault("monitoring.shutdown_timeout", "10s")

	for _, name := range []string{"okx", "binance"} {
		v.SetDefault("exchanges."+name+".enabled", true)
		v.SetDefault("exchanges."+name+".enable_rate_limit", true)
		v.SetDefault("exchanges."+name+".rate_per_second", 10)
		v.SetDefault("exchanges."+name+".burst", 5)
		v.SetDefault("exchanges."+name+".timeout", "10s")
	}

	v.SetDefault("servers.push_addr", ":10000")
	v.SetDefault("servers.query_addr", ":10001")
	v.SetDefault("servers.metrics_addr", ":9090")

	v.SetDefault("hub.buffer_size", 256)
	v.SetDefault("hub.history_size", 500)
	v.SetDefault("hub.overflow_policy", "drop_oldest")
	v.SetDefault("hub.sink_timeout", "10s")

	v.SetDefault("sqlite.enabled", false)
	v.SetDefault("sqlite.path", "data/monitor.db")
	v.SetDefault("sqlite.prune_keep", 5000)
	v.SetDefault("sqlite.prune_interval", "1h")
	v.SetDefault("sqlite.journal_signals", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream_key", "stream:signals")
	v.SetDefault("redis.stream_max_len", 10000)
	v.SetDefault("redis.latest_ttl", "24h")
	v.SetDefault("redis.max_failures", 5)
	v.SetDefault("redis.reset_timeout", "10s")
	v.SetDefault("redis.pending_max", 1000)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "signals")
	v.SetDefault("kafka.required_acks", -1)
	v.SetDefault("kafka.compression", "snappy")

	v.SetDefault("notification.enabled", true)
	v.SetDefault("notification.signals", true)
	v.SetDefault("notification.telegram.enabled", false)
	v.SetDefault("notification.telegram.bot_token", "")
	v.SetDefault("notification.webhook.enabled", false)
	v.SetDefault("notification.webhook.url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.backup_count", 5)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
}

// Load reads path (YAML). An empty path loads defaults plus environment
// overrides only. Environment keys are MONITOR_ plus the upper-cased key
// with dots replaced by underscores, e.g. MONITOR_REDIS_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross references between targets,
// exchanges and strategies. Duplicate targets are dropped with a warning.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Monitoring.TailCalc > c.Monitoring.Retention {
		return fmt.Errorf("%w: tail_calc %d exceeds retention %d", ErrInvalid, c.Monitoring.TailCalc, c.Monitoring.Retention)
	}

	before := len(c.Targets)
	c.Targets = lo.UniqBy(c.Targets, func(t TargetConfig) string {
		return strings.ToLower(t.Exchange) + ":" + strings.ToUpper(t.Symbol) + ":" + t.Timeframe
	})
	if d := before - len(c.Targets); d > 0 {
		log.Printf("[config] dropped %d duplicate targets", d)
	}

	for i, t := range c.Targets {
		if _, err := model.ParseTimeframe(t.Timeframe); err != nil {
			return fmt.Errorf("%w: targets[%d]: %v", ErrInvalid, i, err)
		}
		if !t.Enabled {
			continue
		}
		ex, ok := c.Exchanges[strings.ToLower(t.Exchange)]
		if !ok {
			return fmt.Errorf("%w: targets[%d]: exchange %q is not configured", ErrInvalid, i, t.Exchange)
		}
		if !ex.Enabled {
			return fmt.Errorf("%w: targets[%d]: exchange %q is disabled", ErrInvalid, i, t.Exchange)
		}
		if name := c.strategyName(t); !lo.Contains(strategy.Names(), name) {
			return fmt.Errorf("%w: targets[%d]: unknown strategy %q", ErrInvalid, i, name)
		}
	}
	return nil
}

func (c *Config) strategyName(t TargetConfig) string {
	if t.Strategy != "" {
		return t.Strategy
	}
	return c.Monitoring.DefaultStrategy
}

// EnabledTargets returns the enabled targets with strategy parameters
// resolved: per-target params override the strategy's global section.
func (c *Config) EnabledTargets() []model.Target {
	enabled := lo.Filter(c.Targets, func(t TargetConfig, _ int) bool { return t.Enabled })
	return lo.Map(enabled, func(t TargetConfig, _ int) model.Target {
		name := c.strategyName(t)
		params := model.Params{}
		for k, v := range c.Strategies[name] {
			params[k] = v
		}
		for k, v := range t.Params {
			params[k] = v
		}
		return model.Target{
			TargetID: model.TargetID{
				Source:    strings.ToLower(t.Exchange),
				Symbol:    t.Symbol,
				Timeframe: model.Timeframe(t.Timeframe),
			},
			Enabled:  true,
			Strategy: name,
			Params:   params,
			Persist:  t.Persist,
		}
	})
}

// ExchangeConfigs converts the exchanges section for exchange.NewRegistry,
// sorted by name.
func (c *Config) ExchangeConfigs() []exchange.Config {
	names := lo.Keys(c.Exchanges)
	sort.Strings(names)
	return lo.Map(names, func(name string, _ int) exchange.Config {
		e := c.Exchanges[name]
		return exchange.Config{
			Name:            name,
			Enabled:         e.Enabled,
			BaseURL:         e.BaseURL,
			APIKey:          e.APIKey,
			APISecret:       e.APISecret,
			Timeout:         e.Timeout,
			EnableRateLimit: e.EnableRateLimit,
			RatePerSecond:   e.RatePerSecond,
			Burst:           e.Burst,
		}
	})
}
