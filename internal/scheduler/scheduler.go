package scheduler

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/hw3579/trading-bot/internal/metrics"
)

// Task is one target's unit of periodic work.
type Task interface {
	// Key identifies the task in logs.
	Key() string

	// RunCycle performs one fetch/update/evaluate cycle.
	RunCycle(ctx context.Context)

	// MissedTick is called when a tick is skipped because the previous
	// cycle is still running.
	MissedTick()
}

// Config holds scheduler settings.
type Config struct {
	Trigger    Trigger
	MaxWorkers int
	RunOnStart bool
	Metrics    *metrics.Metrics // optional
}

// MaxPoolSize caps the worker pool regardless of MaxWorkers.
const MaxPoolSize = 20

// Stats are cumulative scheduler counters.
type Stats struct {
	Ticks      int64 `json:"ticks"`
	Dispatched int64 `json:"dispatched"`
	Missed     int64 `json:"missed"`
	Workers    int   `json:"workers"`
	Queued     int   `json:"queued"`
	Running    int   `json:"running"`
}

type slot struct {
	task Task
	busy atomic.Bool
}

// Scheduler fires on Trigger and hands each idle task to the pool.
// A task whose previous cycle is still in flight is skipped for that tick.
type Scheduler struct {
	cfg   Config
	slots []*slot
	pool  *Pool
	now   func() time.Time

	ticks      atomic.Int64
	dispatched atomic.Int64
	missed     atomic.Int64
}

// New creates a scheduler over tasks. The pool holds
// min(len(tasks), MaxWorkers, MaxPoolSize) goroutines and a queue as long as
// the task list.
func New(cfg Config, tasks []Task) *Scheduler {
	size := min(len(tasks), MaxPoolSize)
	if cfg.MaxWorkers > 0 && cfg.MaxWorkers < size {
		size = cfg.MaxWorkers
	}
	s := &Scheduler{
		cfg:  cfg,
		pool: NewPool(size, len(tasks)),
		now:  time.Now,
	}
	for _, t := range tasks {
		s.slots = append(s.slots, &slot{task: t})
	}
	return s
}

// Run blocks until ctx is cancelled, dispatching tasks at every trigger.
// On return all in-flight cycles have finished.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.pool.Stop()

	log.Printf("[scheduler] %d targets, trigger %s", len(s.slots), s.cfg.Trigger)
	if s.cfg.RunOnStart {
		s.Dispatch(ctx)
	}

	for {
		now := s.now()
		next := s.cfg.Trigger.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("[scheduler] stopping, waiting for in-flight cycles")
			return
		case <-timer.C:
			s.Dispatch(ctx)
		}
	}
}

// Dispatch submits every idle task once. Busy tasks are recorded as missed.
func (s *Scheduler) Dispatch(ctx context.Context) {
	s.ticks.Add(1)
	if m := s.cfg.Metrics; m != nil {
		m.SchedulerTicks.Inc()
		defer func() { m.SchedulerQueueDepth.Set(float64(s.pool.Queued())) }()
	}
	for _, sl := range s.slots {
		if !sl.busy.CompareAndSwap(false, true) {
			s.missed.Add(1)
			sl.task.MissedTick()
			log.Printf("[scheduler] %s: previous cycle still running, tick skipped", sl.task.Key())
			continue
		}
		sl := sl
		ok := s.pool.Submit(func() {
			defer sl.busy.Store(false)
			if ctx.Err() != nil {
				return
			}
			sl.task.RunCycle(ctx)
		})
		if !ok {
			sl.busy.Store(false)
			s.missed.Add(1)
			sl.task.MissedTick()
			continue
		}
		s.dispatched.Add(1)
	}
}

// Stats returns the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:      s.ticks.Load(),
		Dispatched: s.dispatched.Load(),
		Missed:     s.missed.Load(),
		Workers:    s.pool.Size(),
		Queued:     s.pool.Queued(),
		Running:    s.pool.Running(),
	}
}

// Wait stops the pool after ctx-driven work finishes. Used when Dispatch is
// driven manually instead of through Run.
func (s *Scheduler) Wait() {
	s.pool.Stop()
}
