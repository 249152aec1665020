package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hw3579/trading-bot/internal/metrics"
)

func TestTrigger_Next(t *testing.T) {
	at := func(h, m, s int) time.Time { return time.Date(2026, 7, 1, h, m, s, 0, time.UTC) }
	tests := []struct {
		name string
		tr   Trigger
		now  time.Time
		want time.Time
	}{
		{"every minute at :30, before", FromLegacy(30, 1), at(10, 0, 12), at(10, 0, 30)},
		{"every minute at :30, exactly on", FromLegacy(30, 1), at(10, 0, 30), at(10, 1, 30)},
		{"every minute at :30, after", FromLegacy(30, 1), at(10, 0, 45), at(10, 1, 30)},
		{"every 5m at :10", Trigger{5 * time.Minute, 10 * time.Second}, at(10, 7, 0), at(10, 10, 10)},
		{"every 5m at :10, inside window", Trigger{5 * time.Minute, 10 * time.Second}, at(10, 5, 3), at(10, 5, 10)},
		{"hourly no offset", Trigger{time.Hour, 0}, at(23, 59, 59), at(0, 0, 0).AddDate(0, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tr.Next(tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
			if !got.After(tt.now) {
				t.Errorf("Next must be strictly after now")
			}
		})
	}
}

func TestTrigger_Validate(t *testing.T) {
	if err := FromLegacy(30, 1).Validate(); err != nil {
		t.Fatalf("legacy trigger should be valid: %v", err)
	}
	bad := []Trigger{
		{0, 0},
		{time.Minute, -time.Second},
		{time.Minute, time.Minute},
	}
	for _, tr := range bad {
		if tr.Validate() == nil {
			t.Errorf("%+v: expected validation error", tr)
		}
	}
}

func TestPool_RunsAndStops(t *testing.T) {
	p := NewPool(2, 4)
	var n atomic.Int32
	for i := 0; i < 4; i++ {
		if !p.Submit(func() { n.Add(1) }) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	p.Stop()
	if n.Load() != 4 {
		t.Fatalf("expected 4 jobs run, got %d", n.Load())
	}
	if p.Submit(func() {}) {
		t.Fatal("submit after Stop must be rejected")
	}
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewPool(1, 2)
	var ran atomic.Bool
	p.Submit(func() { panic("boom") })
	p.Submit(func() { ran.Store(true) })
	p.Stop()
	if !ran.Load() {
		t.Fatal("worker died after panic")
	}
}

type fakeTask struct {
	key     string
	release chan struct{}
	runs    atomic.Int32
	missed  atomic.Int32
	started chan struct{}
}

func newFakeTask(key string) *fakeTask {
	return &fakeTask{key: key, release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (f *fakeTask) Key() string { return f.key }
func (f *fakeTask) MissedTick() { f.missed.Add(1) }
func (f *fakeTask) RunCycle(ctx context.Context) {
	f.runs.Add(1)
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
	}
}

func TestScheduler_SkipsBusyTarget(t *testing.T) {
	slow := newFakeTask("okx:BTC:15m")
	fast := newFakeTask("binance:ETHUSDT:1m")
	close(fast.release)

	s := New(Config{Trigger: FromLegacy(0, 1), MaxWorkers: 2}, []Task{slow, fast})
	ctx := context.Background()

	s.Dispatch(ctx)
	<-slow.started
	<-fast.started
	time.Sleep(20 * time.Millisecond) // let fast release its slot

	s.Dispatch(ctx)
	<-fast.started

	if got := slow.missed.Load(); got != 1 {
		t.Errorf("slow task missed = %d, want 1", got)
	}
	if got := fast.missed.Load(); got != 0 {
		t.Errorf("fast task missed = %d, want 0", got)
	}

	close(slow.release)
	s.Wait()

	st := s.Stats()
	if st.Ticks != 2 || st.Dispatched != 3 || st.Missed != 1 {
		t.Errorf("stats = %+v, want ticks=2 dispatched=3 missed=1", st)
	}
	if slow.runs.Load() != 1 {
		t.Errorf("slow ran %d times, want 1", slow.runs.Load())
	}
}

func TestScheduler_RunOnStartAndCancel(t *testing.T) {
	task := newFakeTask("okx:BTC:15m")
	s := New(Config{Trigger: FromLegacy(0, 60), RunOnStart: true}, []Task{task})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx)
	}()

	select {
	case <-task.started:
	case <-time.After(2 * time.Second):
		t.Fatal("RunOnStart did not dispatch")
	}
	cancel() // in-flight cycle observes ctx and returns
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_PoolSizeCapped(t *testing.T) {
	tasks := make([]Task, 25)
	for i := range tasks {
		tasks[i] = newFakeTask(fmt.Sprintf("okx:T%d:1m", i))
	}

	tests := []struct {
		name       string
		n          int
		maxWorkers int
		want       int
	}{
		{"one per target", 3, 0, 3},
		{"hard ceiling", 25, 0, MaxPoolSize},
		{"ceiling beats config", 25, 64, MaxPoolSize},
		{"config below ceiling", 25, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{Trigger: FromLegacy(0, 1), MaxWorkers: tt.maxWorkers}, tasks[:tt.n])
			defer s.Wait()
			assert.Equal(t, tt.want, s.Stats().Workers)
		})
	}
}

func TestScheduler_DispatchMetrics(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	a, b, c := newFakeTask("a"), newFakeTask("b"), newFakeTask("c")
	s := New(Config{Trigger: FromLegacy(0, 1), MaxWorkers: 1, Metrics: m}, []Task{a, b, c})

	ctx := context.Background()
	s.Dispatch(ctx)
	<-a.started
	// every task is busy or queued, so this tick only refreshes the gauge
	s.Dispatch(ctx)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SchedulerTicks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SchedulerQueueDepth))
	st := s.Stats()
	assert.Equal(t, 1, st.Workers)
	assert.Equal(t, 1, st.Running)
	assert.Equal(t, 2, st.Queued)
	assert.EqualValues(t, 3, st.Missed)

	close(a.release)
	close(b.release)
	close(c.release)
	s.Wait()
	require.EqualValues(t, 3, s.Stats().Dispatched)
}
