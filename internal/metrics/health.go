package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the monitor's health.
type HealthStatus struct {
	mu sync.RWMutex

	SchedulerRunning bool      `json:"scheduler_running"`
	Targets          int       `json:"targets"`
	LastCycleTime    time.Time `json:"last_cycle_time"`
	FailingTargets   int       `json:"failing_targets"`
	Subscribers      int       `json:"subscribers"`

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteEnabled  bool `json:"sqlite_enabled"`
	SQLiteOK       bool `json:"sqlite_ok"`

	// Liveness check results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetSchedulerRunning(v bool) {
	h.mu.Lock()
	h.SchedulerRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetTargets(n int) {
	h.mu.Lock()
	h.Targets = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycleTime(t time.Time) {
	h.mu.Lock()
	h.LastCycleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetFailingTargets(n int) {
	h.mu.Lock()
	h.FailingTargets = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetSubscribers(n int) {
	h.mu.Lock()
	h.Subscribers = n
	h.mu.Unlock()
}

// EnableRedis marks Redis as a dependency whose liveness counts towards health.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

// EnableSQLite marks SQLite as a dependency whose liveness counts towards health.
func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.SQLiteEnabled = true
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either handle may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(checkCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(checkCtx, sqlDB)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// Status evaluates overall health: "healthy", "degraded" or "unhealthy".
func (h *HealthStatus) Status() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status()
}

func (h *HealthStatus) status() string {
	if !h.SchedulerRunning {
		return "unhealthy"
	}
	if (h.RedisEnabled && !h.RedisConnected) || (h.SQLiteEnabled && !h.SQLiteOK) {
		return "degraded"
	}
	if h.Targets > 0 && h.FailingTargets == h.Targets {
		return "degraded"
	}
	return "healthy"
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := h.status()
	httpCode := http.StatusOK
	if overallStatus != "healthy" {
		httpCode = http.StatusServiceUnavailable
	}

	cycleAge := ""
	if !h.LastCycleTime.IsZero() {
		cycleAge = time.Since(h.LastCycleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		SchedulerRunning bool    `json:"scheduler_running"`
		Targets          int     `json:"targets"`
		FailingTargets   int     `json:"failing_targets"`
		LastCycleTime    string  `json:"last_cycle_time"`
		CycleAge         string  `json:"cycle_age"`
		Subscribers      int     `json:"subscribers"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		SQLiteOK         bool    `json:"sqlite_ok"`
		SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		SchedulerRunning: h.SchedulerRunning,
		Targets:          h.Targets,
		FailingTargets:   h.FailingTargets,
		LastCycleTime:    h.LastCycleTime.Format(time.RFC3339),
		CycleAge:         cycleAge,
		Subscribers:      h.Subscribers,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
