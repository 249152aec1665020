package gateway

import (
	"context"
	"log"
	"time"

	"github.com/hw3579/trading-bot/internal/metrics"
	"github.com/hw3579/trading-bot/internal/model"
)

// Sink is an external signal consumer (journal, broker, chat).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, sig *model.Signal) error
}

// SinkRunner drains a hub subscription into a Sink on its own goroutine.
type SinkRunner struct {
	sink    Sink
	sub     *Subscriber
	hub     *Hub
	timeout time.Duration
	metrics *metrics.Metrics
	done    chan struct{}
}

// AttachSink subscribes sink to every signal. Sinks always use DropOldest so
// a stalled sink loses old signals rather than its registration.
func (h *Hub) AttachSink(sink Sink, timeout time.Duration) *SinkRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SinkRunner{
		sink:    sink,
		sub:     h.subscribe("sink:"+sink.Name(), Filter{}, DropOldest),
		hub:     h,
		timeout: timeout,
		metrics: h.metrics,
		done:    make(chan struct{}),
	}
}

// Run delivers queued signals until ctx ends or the hub closes, then
// delivers whatever is still queued.
func (r *SinkRunner) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case msg := <-r.sub.C():
			r.deliver(ctx, msg.Signal)
		case <-r.sub.Done():
			r.drain()
			return
		case <-ctx.Done():
			r.hub.Unsubscribe(r.sub)
			r.drain()
			return
		}
	}
}

// Wait blocks until Run has returned.
func (r *SinkRunner) Wait() { <-r.done }

func (r *SinkRunner) drain() {
	n := 0
	for {
		select {
		case msg := <-r.sub.C():
			r.deliver(context.Background(), msg.Signal)
			n++
		default:
			if n > 0 {
				log.Printf("[sink] %s flushed %d queued signals", r.sink.Name(), n)
			}
			return
		}
	}
}

func (r *SinkRunner) deliver(parent context.Context, sig *model.Signal) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	start := time.Now()
	err := r.sink.Deliver(ctx, sig)
	if r.metrics != nil {
		r.metrics.SinkDeliveredDur.WithLabelValues(r.sink.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Printf("[sink] %s delivery of %s failed: %v", r.sink.Name(), sig.ID, err)
		if r.metrics != nil {
			r.metrics.SinkErrors.WithLabelValues(r.sink.Name()).Inc()
		}
	}
}
