package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/hw3579/trading-bot/internal/model"
)

const (
	defaultStreamKey    = "stream:signals"
	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 24 * time.Hour
	defaultPendingMax   = 1000
	closeFlushTimeout   = 3 * time.Second
)

// Config configures the Redis signal publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	StreamKey    string        // default "stream:signals"
	StreamMaxLen int64         // approximate XADD trim length
	LatestTTL    time.Duration // TTL of latest:signal:<key>

	MaxFailures  int           // consecutive failures before the breaker opens
	ResetTimeout time.Duration // open duration before a trial call
	PendingMax   int           // undelivered signals held for replay
}

func (c *Config) setDefaults() {
	if c.StreamKey == "" {
		c.StreamKey = defaultStreamKey
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
	if c.PendingMax <= 0 {
		c.PendingMax = defaultPendingMax
	}
}

// PubSubChannel is the per-target channel a signal is published on.
func PubSubChannel(id model.TargetID) string {
	return "pub:signal:" + id.Key()
}

// LatestKey holds the newest signal of a target.
func LatestKey(id model.TargetID) string {
	return "latest:signal:" + id.Key()
}

// Publisher fans signals out to Redis PubSub, a latest-value key and a
// capped stream. Writes go through a circuit breaker. Any signal that could
// not be written is held in a bounded buffer and replayed once the breaker
// closes, before the next write, or on Close.
type Publisher struct {
	client *goredis.Client
	cfg    Config
	cb     *CircuitBreaker

	mu      sync.Mutex
	pending []*model.Signal
	flushMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc

	// OnStateChange mirrors breaker transitions (metrics gauge).
	OnStateChange func(from, to State)
	// OnFlush reports how many buffered signals were replayed.
	OnFlush func(count int)
}

// NewPublisher connects to Redis and pings the server.
func NewPublisher(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return newPublisher(client, cfg), nil
}

func newPublisher(client *goredis.Client, cfg Config) *Publisher {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		client: client,
		cfg:    cfg,
		cb:     NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		ctx:    ctx,
		cancel: cancel,
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if p.OnStateChange != nil {
			p.OnStateChange(from, to)
		}
		if to == StateClosed {
			go p.flush(p.ctx)
		}
	}
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker guarding writes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

func (p *Publisher) Name() string { return "redis" }

// Deliver writes one signal. A signal that fails, or is rejected by an open
// breaker, is buffered and the error is returned so the caller can count it.
// Buffered signals go out first so stream order matches detection order.
func (p *Publisher) Deliver(ctx context.Context, sig *model.Signal) error {
	if p.Pending() > 0 && p.cb.CurrentState() == StateClosed {
		p.flush(ctx)
	}
	if p.Pending() > 0 {
		p.hold(sig)
		if p.cb.CurrentState() == StateOpen {
			return ErrCircuitOpen
		}
		return fmt.Errorf("redis: %s queued behind %d buffered signals", sig.ID, p.Pending()-1)
	}
	err := p.cb.Execute(func() error { return p.write(ctx, sig) })
	if err != nil {
		p.hold(sig)
	}
	return err
}

func (p *Publisher) write(ctx context.Context, sig *model.Signal) error {
	data := string(sig.JSON())
	id := sig.Target()

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, PubSubChannel(id), data)
	pipe.Set(ctx, LatestKey(id), data, p.cfg.LatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.cfg.StreamKey,
		MaxLen: p.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"target": id.Key(), "data": data},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis signal pipeline %s: %w", sig.ID, err)
	}
	return nil
}

func (p *Publisher) hold(sig *model.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) >= p.cfg.PendingMax {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, sig)
}

// requeue puts an unsent batch back in front of anything held meanwhile.
func (p *Publisher) requeue(batch []*model.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(append([]*model.Signal(nil), batch...), p.pending...)
	if over := len(p.pending) - p.cfg.PendingMax; over > 0 {
		p.pending = p.pending[over:]
	}
}

// Pending returns the number of buffered signals.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// flush replays buffered signals in order, stopping at the first failure.
func (p *Publisher) flush(ctx context.Context) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	flushed := 0
	for i, sig := range batch {
		if err := p.cb.Execute(func() error { return p.write(ctx, sig) }); err != nil {
			log.Printf("[redis] flush stopped after %d/%d signals: %v", flushed, len(batch), err)
			p.requeue(batch[i:])
			break
		}
		flushed++
	}
	if flushed > 0 {
		log.Printf("[redis] flushed %d buffered signals", flushed)
	}
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// Latest reads the newest signal of a target, or nil when the key is absent.
func (p *Publisher) Latest(ctx context.Context, id model.TargetID) (*model.Signal, error) {
	raw, err := p.client.Get(ctx, LatestKey(id)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", LatestKey(id), err)
	}
	var sig model.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("decode latest signal: %w", err)
	}
	return &sig, nil
}

// Close makes one bounded attempt to deliver buffered signals, then closes
// the client.
func (p *Publisher) Close() error {
	if p.Pending() > 0 && p.cb.CurrentState() != StateOpen {
		ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
		p.flush(ctx)
		cancel()
	}
	p.cancel()
	if n := p.Pending(); n > 0 {
		log.Printf("[redis] closing with %d undelivered signals", n)
	}
	return p.client.Close()
}
