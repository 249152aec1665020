package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/hw3579/trading-bot/internal/model"
)

// Message is one encoded signal envelope on its way to a subscriber.
type Message struct {
	Seq    int64
	Data   []byte // envelope JSON, shared by all subscribers
	Signal *model.Signal
}

type offerResult int

const (
	offerQueued offerResult = iota
	offerDropped
	offerOverflow
)

// Subscriber is one registered consumer of the hub: a websocket client or a
// sink runner.
type Subscriber struct {
	name   string
	policy OverflowPolicy
	queue  chan Message
	filter atomic.Pointer[Filter]

	drops atomic.Int64

	done chan struct{}
	once sync.Once
}

func newSubscriber(name string, filter Filter, size int, policy OverflowPolicy) *Subscriber {
	s := &Subscriber{
		name:   name,
		policy: policy,
		queue:  make(chan Message, size),
		done:   make(chan struct{}),
	}
	s.filter.Store(&filter)
	return s
}

func (s *Subscriber) Name() string { return s.name }

// C delivers queued messages. It is never closed; watch Done instead.
func (s *Subscriber) C() <-chan Message { return s.queue }

// Done is closed when the subscriber is unregistered.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Drops returns how many messages were discarded on overflow.
func (s *Subscriber) Drops() int64 { return s.drops.Load() }

// Filter returns the active filter.
func (s *Subscriber) Filter() Filter { return *s.filter.Load() }

// SetFilter replaces the active filter.
func (s *Subscriber) SetFilter(f Filter) { s.filter.Store(&f) }

func (s *Subscriber) offer(msg Message) offerResult {
	select {
	case <-s.done:
		return offerQueued
	default:
	}

	select {
	case s.queue <- msg:
		return offerQueued
	default:
	}

	if s.policy == Disconnect {
		s.drops.Add(1)
		return offerOverflow
	}

	// Only Publish enqueues, under the hub's publish lock, so the slot freed
	// here cannot be taken by another producer.
	select {
	case <-s.queue:
	default:
	}
	s.drops.Add(1)
	select {
	case s.queue <- msg:
	default:
		s.drops.Add(1)
	}
	return offerDropped
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}
