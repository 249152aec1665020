package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWith_IsolatedRegistries(t *testing.T) {
	a := NewMetricsWith(prometheus.NewRegistry())
	b := NewMetricsWith(prometheus.NewRegistry())

	a.MissedTicks.WithLabelValues("okx:BTC-USDT:15m").Inc()
	if got := testutil.ToFloat64(a.MissedTicks.WithLabelValues("okx:BTC-USDT:15m")); got != 1 {
		t.Fatalf("missed ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.MissedTicks.WithLabelValues("okx:BTC-USDT:15m")); got != 0 {
		t.Fatalf("registries leaked: %v", got)
	}
}

func TestHealthStatus(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *HealthStatus)
		want  string
		code  int
	}{
		{"not started", func(h *HealthStatus) {}, "unhealthy", http.StatusServiceUnavailable},
		{"running", func(h *HealthStatus) { h.SetSchedulerRunning(true); h.SetTargets(2) }, "healthy", http.StatusOK},
		{"redis down", func(h *HealthStatus) {
			h.SetSchedulerRunning(true)
			h.EnableRedis()
		}, "degraded", http.StatusServiceUnavailable},
		{"all targets failing", func(h *HealthStatus) {
			h.SetSchedulerRunning(true)
			h.SetTargets(2)
			h.SetFailingTargets(2)
		}, "degraded", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus()
			tt.setup(h)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.want {
				t.Errorf("status = %q, want %q", body.Status, tt.want)
			}
		})
	}
}
