// Package monitor wires configuration, data sources, workers, the scheduler,
// the distribution hub, sinks and the query and push servers into one
// process-wide Service.
package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/samber/lo"

	"github.com/hw3579/trading-bot/config"
	"github.com/hw3579/trading-bot/internal/detector"
	"github.com/hw3579/trading-bot/internal/exchange"
	"github.com/hw3579/trading-bot/internal/gateway"
	"github.com/hw3579/trading-bot/internal/metrics"
	"github.com/hw3579/trading-bot/internal/model"
	"github.com/hw3579/trading-bot/internal/notification"
	"github.com/hw3579/trading-bot/internal/query"
	"github.com/hw3579/trading-bot/internal/retry"
	"github.com/hw3579/trading-bot/internal/scheduler"
	redisstore "github.com/hw3579/trading-bot/internal/store/redis"
	sqlitestore "github.com/hw3579/trading-bot/internal/store/sqlite"
	"github.com/hw3579/trading-bot/internal/strategy"
	kafkastream "github.com/hw3579/trading-bot/internal/stream/kafka"
	"github.com/hw3579/trading-bot/internal/worker"
)

const (
	healthInterval   = 5 * time.Second
	livenessInterval = 15 * time.Second
)

// Option customises a Service.
type Option func(*options)

type options struct {
	metrics  *metrics.Metrics
	sources  []exchange.Source
	notifier notification.Notifier
}

// WithMetrics uses m instead of registering a new set on the default registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNotifier replaces the notifier built from the notification config.
func WithNotifier(n notification.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithSource registers src in place of the configured exchange of the same name.
func WithSource(src exchange.Source) Option {
	return func(o *options) { o.sources = append(o.sources, src) }
}

// Service is the top-level orchestrator. It owns every long-lived component
// and manages their lifecycle.
type Service struct {
	cfg *config.Config

	prom   *metrics.Metrics
	health *metrics.HealthStatus

	hub      *gateway.Hub
	workers  []*worker.Worker
	sched    *scheduler.Scheduler
	trigger  scheduler.Trigger
	notifier notification.Notifier

	// lifecycle alerts in flight
	sends sync.WaitGroup
	// set while a critical all-targets-failing alert is outstanding
	allFailing bool

	sqlite *sqlitestore.Store
	redis  *redisstore.Publisher
	kafka  *kafkastream.Producer

	sinks      []*gateway.SinkRunner
	pushSrv    *gateway.Server
	querySrv   *query.Server
	metricsSrv *metrics.Server
	queries    *query.Service
}

// New builds every component from cfg. External stores are connected here;
// nothing runs until Run.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	svc := &Service{
		cfg:    cfg,
		prom:   o.metrics,
		health: metrics.NewHealthStatus(),
	}
	if svc.prom == nil {
		svc.prom = metrics.NewMetrics()
	}

	registry, err := exchange.NewRegistry(cfg.ExchangeConfigs())
	if err != nil {
		return nil, err
	}
	for _, src := range o.sources {
		registry.Register(src)
	}

	policy, err := gateway.ParseOverflowPolicy(cfg.Hub.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	svc.hub = gateway.NewHub(gateway.Config{
		BufferSize:     cfg.Hub.BufferSize,
		HistorySize:    cfg.Hub.HistorySize,
		OverflowPolicy: policy,
	}, svc.prom)

	if err := svc.openStores(); err != nil {
		svc.closeStores()
		return nil, err
	}
	svc.notifier = buildNotifier(cfg.Notification)
	if o.notifier != nil {
		svc.notifier = o.notifier
	}
	svc.attachSinks()

	if err := svc.buildWorkers(registry); err != nil {
		svc.closeStores()
		return nil, err
	}

	trigger := scheduler.FromLegacy(cfg.Monitoring.TriggerSecond, cfg.Monitoring.TriggerMinutes)
	if err := trigger.Validate(); err != nil {
		svc.closeStores()
		return nil, err
	}
	svc.trigger = trigger
	tasks := lo.Map(svc.workers, func(w *worker.Worker, _ int) scheduler.Task { return w })
	svc.sched = scheduler.New(scheduler.Config{
		Trigger:    trigger,
		MaxWorkers: cfg.Monitoring.MaxWorkers,
		RunOnStart: cfg.Monitoring.RunOnStart,
		Metrics:    svc.prom,
	}, tasks)

	views := lo.Map(svc.workers, func(w *worker.Worker, _ int) query.StateView { return w })
	svc.queries = query.NewService(views, svc.hub)
	svc.querySrv = query.NewServer(cfg.Servers.QueryAddr, svc.queries)
	svc.pushSrv = gateway.NewServer(cfg.Servers.PushAddr, svc.hub)
	if cfg.Servers.MetricsAddr != "" {
		svc.metricsSrv = metrics.NewServer(cfg.Servers.MetricsAddr, svc.health)
	}
	return svc, nil
}

func (svc *Service) openStores() error {
	cfg := svc.cfg

	if cfg.SQLite.Enabled {
		st, err := sqlitestore.Open(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		st.OnCommit = func(d time.Duration) { svc.prom.SQLiteCommitDur.Observe(d.Seconds()) }
		svc.sqlite = st
		svc.health.EnableSQLite()
	}

	if cfg.Redis.Enabled {
		p, err := redisstore.NewPublisher(redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamKey:    cfg.Redis.StreamKey,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
			LatestTTL:    cfg.Redis.LatestTTL,
			MaxFailures:  cfg.Redis.MaxFailures,
			ResetTimeout: cfg.Redis.ResetTimeout,
			PendingMax:   cfg.Redis.PendingMax,
		})
		if err != nil {
			log.Printf("[monitor] WARNING: redis unavailable: %v (continuing without redis)", err)
		} else {
			p.OnStateChange = func(_, to redisstore.State) {
				svc.prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					svc.prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			svc.redis = p
			svc.health.EnableRedis()
		}
	}

	if cfg.Kafka.Enabled {
		p, err := kafkastream.NewProducer(kafkastream.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			RequiredAcks: cfg.Kafka.RequiredAcks,
			Compression:  cfg.Kafka.Compression,
		})
		if err != nil {
			return err
		}
		svc.kafka = p
	}
	return nil
}

func buildNotifier(cfg config.NotificationConfig) notification.Notifier {
	if !cfg.Enabled {
		return nil
	}
	multi := notification.Multi{notification.NewLogNotifier()}
	if cfg.Telegram.Enabled {
		multi = append(multi, notification.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs...))
	}
	if cfg.Webhook.Enabled {
		multi = append(multi, notification.NewWebhookNotifier(cfg.Webhook.URL))
	}
	return multi
}

func (svc *Service) attachSinks() {
	var sinks []gateway.Sink
	if svc.sqlite != nil && svc.cfg.SQLite.JournalSignals {
		sinks = append(sinks, svc.sqlite)
	}
	if svc.redis != nil {
		sinks = append(sinks, svc.redis)
	}
	if svc.kafka != nil {
		sinks = append(sinks, svc.kafka)
	}
	if svc.notifier != nil && svc.cfg.Notification.Signals {
		sinks = append(sinks, notification.NewSignalSink("notify", svc.notifier))
	}
	for _, s := range sinks {
		svc.sinks = append(svc.sinks, svc.hub.AttachSink(s, svc.cfg.Hub.SinkTimeout))
		log.Printf("[monitor] sink %s attached", s.Name())
	}
}

func (svc *Service) buildWorkers(registry *exchange.Registry) error {
	m := svc.cfg.Monitoring
	for _, t := range svc.cfg.EnabledTargets() {
		src, ok := registry.Get(t.Source)
		if !ok {
			return fmt.Errorf("target %s: exchange %q not enabled", t.Key(), t.Source)
		}
		strat, err := strategy.New(t.Strategy, t.Timeframe, t.Params)
		if err != nil {
			return fmt.Errorf("target %s: %w", t.Key(), err)
		}

		wc := worker.Config{
			Target:   t,
			Source:   src,
			Strategy: strat,
			Detector: detector.New(t.TargetID, strat.Name(), detector.WithSuppressRepeats(m.SuppressRepeats)),
			Hub:      svc.hub,
			Metrics:  svc.prom,
			Retry: retry.Policy{
				MaxRetries:     m.MaxRetries,
				Delay:          m.RetryDelay,
				AttemptTimeout: m.AttemptTimeout,
			},
			FetchLimit:         m.FetchLimit,
			Retention:          m.Retention,
			TailCalc:           m.TailCalc,
			AlertAfterFailures: m.AlertAfterFailures,
			NotifyEachFailure:  m.NotifyEachFailure,
		}
		if svc.sqlite != nil {
			wc.Candles = svc.sqlite
		}
		if svc.notifier != nil {
			wc.Notifier = svc.notifier
		}
		svc.workers = append(svc.workers, worker.New(wc))
	}
	if len(svc.workers) == 0 {
		log.Printf("[monitor] WARNING: no enabled targets")
	}
	return nil
}

// Queries exposes the query service.
func (svc *Service) Queries() *query.Service { return svc.queries }

// Hub exposes the distribution hub.
func (svc *Service) Hub() *gateway.Hub { return svc.hub }

// Run starts all subsystems and blocks until ctx is cancelled, then shuts
// everything down in dependency order.
func (svc *Service) Run(ctx context.Context) error {
	log.Printf("[monitor] starting with %d targets", len(svc.workers))
	svc.notify(notification.InfoAlert(fmt.Sprintf("monitor started: %d targets, trigger %s",
		len(svc.workers), svc.trigger)))
	if len(svc.workers) == 0 {
		svc.notify(notification.WarningAlert("no enabled targets, nothing will be monitored"))
	}

	if failed := svc.warm(ctx); failed > 0 {
		svc.notify(notification.WarningAlert(fmt.Sprintf("warm start failed for %d of %d targets, they start cold",
			failed, len(svc.workers))))
	}

	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()
	for _, r := range svc.sinks {
		go r.Run(sinkCtx)
	}

	svc.pushSrv.Start()
	svc.querySrv.Start()
	if svc.metricsSrv != nil {
		svc.metricsSrv.Start()
	}

	var rdb *goredis.Client
	if svc.redis != nil {
		rdb = svc.redis.Client()
	}
	var sqlDB *sql.DB
	if svc.sqlite != nil {
		sqlDB = svc.sqlite.DB()
	}
	if rdb != nil || sqlDB != nil {
		svc.health.StartLivenessChecker(ctx, rdb, sqlDB, livenessInterval)
	}

	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		svc.healthLoop(ctx)
	}()
	if svc.sqlite != nil && svc.cfg.SQLite.PruneInterval > 0 && svc.cfg.SQLite.PruneKeep > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			svc.pruneLoop(ctx)
		}()
	}

	svc.health.SetSchedulerRunning(true)
	svc.sched.Run(ctx)
	svc.health.SetSchedulerRunning(false)

	bg.Wait()
	svc.shutdown(cancelSinks)
	return nil
}

// warm restores series from SQLite and detector state from the journal, or
// from Redis latest keys when SQLite is off. It returns the number of targets
// that failed to warm.
func (svc *Service) warm(ctx context.Context) int {
	var (
		journal model.SignalJournal
		failed  int
	)
	switch {
	case svc.sqlite != nil:
		journal = svc.sqlite
	case svc.redis != nil:
		journal = latestJournal{svc.redis}
	}
	for _, w := range svc.workers {
		var candles model.CandleStore
		if svc.sqlite != nil && w.Target().Persist {
			candles = svc.sqlite
		}
		if candles == nil && journal == nil {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := w.Warm(wctx, candles, journal); err != nil {
			log.Printf("[monitor] WARNING: %v (starting cold)", err)
			failed++
		}
		cancel()
	}
	return failed
}

// notify delivers a lifecycle alert without blocking the caller.
func (svc *Service) notify(a notification.Alert) {
	if svc.notifier == nil {
		return
	}
	svc.sends.Add(1)
	go func() {
		defer svc.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := svc.notifier.Send(ctx, a); err != nil {
			log.Printf("[monitor] alert delivery failed: %v", err)
		}
	}()
}

// latestJournal reads detector state from the Redis latest-signal keys.
type latestJournal struct{ p *redisstore.Publisher }

func (j latestJournal) SaveSignal(ctx context.Context, sig *model.Signal) error {
	return j.p.Deliver(ctx, sig)
}

func (j latestJournal) LastSignal(ctx context.Context, id model.TargetID) (*model.Signal, error) {
	return j.p.Latest(ctx, id)
}

func (svc *Service) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		svc.updateHealth()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (svc *Service) updateHealth() {
	var (
		failing int
		last    time.Time
	)
	for _, w := range svc.workers {
		st := w.State()
		if st.ConsecutiveFailures > 0 {
			failing++
		}
		if st.LastAttemptTime.After(last) {
			last = st.LastAttemptTime
		}
	}
	switch {
	case len(svc.workers) > 0 && failing == len(svc.workers) && !svc.allFailing:
		svc.allFailing = true
		svc.notify(notification.CriticalAlert(fmt.Sprintf("all %d targets are failing", failing)))
	case failing < len(svc.workers) && svc.allFailing:
		svc.allFailing = false
		svc.notify(notification.InfoAlert(fmt.Sprintf("%d of %d targets healthy again",
			len(svc.workers)-failing, len(svc.workers))))
	}
	svc.health.SetTargets(len(svc.workers))
	svc.health.SetFailingTargets(failing)
	svc.health.SetLastCycleTime(last)
	svc.health.SetSubscribers(svc.hub.Count())
}

func (svc *Service) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.SQLite.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range svc.workers {
				t := w.Target()
				if !t.Persist {
					continue
				}
				n, err := svc.sqlite.PruneCandles(ctx, t.TargetID, svc.cfg.SQLite.PruneKeep)
				if err != nil {
					log.Printf("[monitor] prune %s: %v", t.Key(), err)
					continue
				}
				if n > 0 {
					log.Printf("[monitor] pruned %d candles of %s", n, t.Key())
				}
			}
		}
	}
}

// shutdown closes subscribers, drains sinks, stops servers and closes stores.
func (svc *Service) shutdown(cancelSinks context.CancelFunc) {
	log.Println("[monitor] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), svc.cfg.Monitoring.ShutdownTimeout)
	defer cancel()

	if err := svc.pushSrv.Stop(ctx); err != nil {
		log.Printf("[monitor] push server: %v", err)
	}

	drained := make(chan struct{})
	go func() {
		for _, r := range svc.sinks {
			r.Wait()
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		log.Printf("[monitor] WARNING: sinks did not drain before timeout")
		cancelSinks()
	}

	if err := svc.querySrv.Stop(ctx); err != nil {
		log.Printf("[monitor] %v", err)
	}
	if svc.metricsSrv != nil {
		svc.metricsSrv.Stop(ctx)
	}
	for _, w := range svc.workers {
		w.Close()
	}
	svc.sends.Wait()
	svc.closeStores()
	log.Println("[monitor] shutdown complete")
}

func (svc *Service) closeStores() {
	if svc.kafka != nil {
		if err := svc.kafka.Close(); err != nil {
			log.Printf("[monitor] kafka close: %v", err)
		}
	}
	if svc.redis != nil {
		if err := svc.redis.Close(); err != nil {
			log.Printf("[monitor] redis close: %v", err)
		}
	}
	if svc.sqlite != nil {
		if err := svc.sqlite.Close(); err != nil {
			log.Printf("[monitor] sqlite close: %v", err)
		}
	}
}
