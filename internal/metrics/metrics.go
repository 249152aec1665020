package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal monitor.
type Metrics struct {
	// Target cycles
	CyclesTotal    *prometheus.CounterVec // labels: target, outcome=ok|failed|eval_error
	CycleDur       prometheus.Histogram
	FetchAttempts  *prometheus.CounterVec // labels: source
	FetchFailures  *prometheus.CounterVec // labels: source, kind=fatal|exhausted|aborted
	FetchRetries   *prometheus.CounterVec // labels: source
	MissedTicks    *prometheus.CounterVec // labels: target
	GapsTotal      *prometheus.CounterVec // labels: target
	CandlesStored  prometheus.Counter
	CandlesEvicted *prometheus.CounterVec // labels: target
	SignalsTotal   *prometheus.CounterVec // labels: source, kind
	EvalErrors     *prometheus.CounterVec // labels: target

	// Scheduler
	SchedulerTicks      prometheus.Counter
	SchedulerQueueDepth prometheus.Gauge

	// Distribution hub
	HubSubscribers   prometheus.Gauge
	HubDropsTotal    *prometheus.CounterVec // labels: subscriber
	HubDisconnects   prometheus.Counter
	HubPublishLag    prometheus.Histogram // detection-to-enqueue latency
	HubFanoutDur     prometheus.Histogram
	SinkErrors       *prometheus.CounterVec // labels: sink
	SinkDeliveredDur *prometheus.HistogramVec

	// Storage
	SQLiteCommitDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so that repeated construction does not panic.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_cycles_total",
			Help: "Target cycles run, by outcome",
		}, []string{"target", "outcome"}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_cycle_duration_seconds",
			Help:    "Wall time of one fetch/update/evaluate cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_fetch_attempts_total",
			Help: "Candle fetch attempts per source (including retries)",
		}, []string{"source"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_fetch_failures_total",
			Help: "Cycles whose fetch failed, by failure kind",
		}, []string{"source", "kind"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_fetch_retries_total",
			Help: "Fetch attempts retried after a transient error",
		}, []string{"source"}),
		MissedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_missed_ticks_total",
			Help: "Ticks skipped because the previous cycle was still running",
		}, []string{"target"}),
		GapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_series_gaps_total",
			Help: "Gaps detected in a target's candle series",
		}, []string{"target"}),
		CandlesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_candles_stored_total",
			Help: "Closed candles appended to series stores",
		}),
		CandlesEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_candles_evicted_total",
			Help: "Candles dropped from series stores by the retention bound",
		}, []string{"target"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_signals_total",
			Help: "Signals emitted",
		}, []string{"source", "kind"}),
		EvalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_eval_errors_total",
			Help: "Strategy evaluation errors and recovered panics",
		}, []string{"target"}),

		SchedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_scheduler_ticks_total",
			Help: "Scheduler trigger firings",
		}),
		SchedulerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_scheduler_queue_depth",
			Help: "Cycles queued for a pool worker after the last dispatch",
		}),

		HubSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_hub_subscribers",
			Help: "Currently registered push subscribers (clients and sinks)",
		}),
		HubDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_hub_drops_total",
			Help: "Messages dropped from a subscriber queue on overflow",
		}, []string{"subscriber"}),
		HubDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_hub_overflow_disconnects_total",
			Help: "Subscribers disconnected by the overflow policy",
		}),
		HubPublishLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_hub_publish_latency_seconds",
			Help:    "Latency from signal detection to subscriber enqueue",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		HubFanoutDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_hub_fanout_seconds",
			Help:    "Time Publish spends offering one signal to all subscribers",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_sink_errors_total",
			Help: "Signal deliveries that failed, by sink",
		}, []string{"sink"}),
		SinkDeliveredDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "monitor_sink_delivery_duration_seconds",
			Help:    "Time spent delivering one signal to a sink",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_sqlite_commit_duration_seconds",
			Help:    "SQLite transaction commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.FetchAttempts,
		m.FetchFailures,
		m.FetchRetries,
		m.MissedTicks,
		m.GapsTotal,
		m.CandlesStored,
		m.CandlesEvicted,
		m.SignalsTotal,
		m.EvalErrors,
		m.SchedulerTicks,
		m.SchedulerQueueDepth,
		m.HubSubscribers,
		m.HubDropsTotal,
		m.HubDisconnects,
		m.HubPublishLag,
		m.HubFanoutDur,
		m.SinkErrors,
		m.SinkDeliveredDur,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
