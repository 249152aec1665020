package gateway

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hw3579/trading-bot/internal/metrics"
	"github.com/hw3579/trading-bot/internal/model"
)

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy string

const (
	// DropOldest discards the oldest queued message to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Disconnect unregisters and closes the subscriber.
	Disconnect OverflowPolicy = "disconnect"
)

// ParseOverflowPolicy maps a config string to a policy. Empty means DropOldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", DropOldest:
		return DropOldest, nil
	case Disconnect:
		return Disconnect, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q", s)
}

// Config configures the distribution hub.
type Config struct {
	BufferSize     int // per-subscriber queue length
	HistorySize    int // recent signals kept for replay and queries
	OverflowPolicy OverflowPolicy
}

// Hub fans signals out to push subscribers and sinks.
//
// Publish encodes each signal once and offers it to every subscriber without
// blocking. Each subscriber owns a bounded queue drained by its own goroutine,
// so a slow peer only ever hurts itself.
type Hub struct {
	cfg     Config
	history *ReplayBuffer

	// Latency tracks detection-to-enqueue and fan-out time per timeframe.
	Latency *LatencyTracker
	metrics *metrics.Metrics

	// pubMu orders publishes so seq order equals queue order.
	pubMu sync.Mutex
	seq   int64

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool

	started time.Time
}

// NewHub creates a hub. m may be nil.
func NewHub(cfg Config, m *metrics.Metrics) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = DropOldest
	}
	return &Hub{
		cfg:     cfg,
		history: NewReplayBuffer(cfg.HistorySize),
		Latency: NewLatencyTracker(1000),
		metrics: m,
		subs:    make(map[*Subscriber]struct{}),
		started: time.Now(),
	}
}

// Publish distributes sig to every matching subscriber and records it in the
// history buffer. It never blocks on a subscriber.
func (h *Hub) Publish(sig *model.Signal) {
	if sig == nil {
		return
	}
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	enqueued := time.Now()
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.seq++
	msg := Message{Seq: h.seq, Data: encodeSignal(h.seq, sig), Signal: sig}
	h.history.Push(msg)

	var overflowed []*Subscriber
	for sub := range h.subs {
		if !sub.Filter().Match(sig) {
			continue
		}
		switch sub.offer(msg) {
		case offerDropped:
			if h.metrics != nil {
				h.metrics.HubDropsTotal.WithLabelValues(sub.name).Inc()
			}
		case offerOverflow:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	fanout := time.Since(enqueued)
	lag := enqueued.Sub(sig.GeneratedAt)
	h.Latency.Observe(StageDetect, sig.Timeframe, lag)
	h.Latency.Observe(StageFanout, sig.Timeframe, fanout)
	if h.metrics != nil {
		if lag >= 0 {
			h.metrics.HubPublishLag.Observe(lag.Seconds())
		}
		h.metrics.HubFanoutDur.Observe(fanout.Seconds())
	}

	for _, sub := range overflowed {
		log.Printf("[hub] subscriber %s overflowed its queue, disconnecting", sub.name)
		if h.metrics != nil {
			h.metrics.HubDisconnects.Inc()
		}
		h.Unsubscribe(sub)
	}
}

// Subscribe registers a subscriber using the hub's buffer size and policy.
func (h *Hub) Subscribe(name string, filter Filter) *Subscriber {
	return h.subscribe(name, filter, h.cfg.OverflowPolicy)
}

func (h *Hub) subscribe(name string, filter Filter, policy OverflowPolicy) *Subscriber {
	sub := newSubscriber(name, filter, h.cfg.BufferSize, policy)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub
	}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.observeCount(n)
	log.Printf("[hub] subscriber %s registered (%d total)", name, n)
	return sub
}

// Unsubscribe removes sub and closes it. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	sub.close()
	if ok {
		h.observeCount(n)
		log.Printf("[hub] subscriber %s unregistered (%d total, %d dropped)", sub.name, n, sub.Drops())
	}
}

// Close unregisters and closes every subscriber. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.observeCount(0)
	log.Printf("[hub] closed %d subscribers", len(subs))
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Seq returns the sequence number of the last published signal.
func (h *Hub) Seq() int64 {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return h.seq
}

// Since returns buffered messages with seq greater than seq, oldest first.
func (h *Hub) Since(seq int64) []Message {
	return h.history.Range(seq+1, h.Seq())
}

// Recent returns up to n of the newest signals, newest first.
func (h *Hub) Recent(n int) []*model.Signal {
	msgs := h.history.Last(n)
	out := make([]*model.Signal, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i].Signal)
	}
	return out
}

func (h *Hub) observeCount(n int) {
	if h.metrics != nil {
		h.metrics.HubSubscribers.Set(float64(n))
	}
}
