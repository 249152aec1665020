// Package kafka publishes signals to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hw3579/trading-bot/internal/model"
)

// ProducerConfig configures the signal producer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int // -1 all, 0 none, 1 leader
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

// Envelope is the message value written for each signal.
type Envelope struct {
	Type          string        `json:"type"`
	SchemaVersion int           `json:"schema_version"`
	Data          *model.Signal `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes one message per signal, keyed by target key. The hash
// balancer maps a key to a fixed partition, so each target stays ordered.
type Producer struct {
	w     messageWriter
	topic string
}

// NewProducer builds a synchronous kafka-go writer.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = -1
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	return &Producer{w: w, topic: cfg.Topic}, nil
}

func (p *Producer) Name() string { return "kafka" }

// Deliver writes sig and blocks until the broker acknowledges it.
func (p *Producer) Deliver(ctx context.Context, sig *model.Signal) error {
	msg, err := encode(sig)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	return nil
}

func encode(sig *model.Signal) (kafka.Message, error) {
	v, err := json.Marshal(Envelope{Type: "signal", SchemaVersion: sig.SchemaVersion, Data: sig})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal signal: %w", err)
	}
	return kafka.Message{
		Key:   []byte(sig.Target().Key()),
		Value: v,
		Time:  sig.GeneratedAt,
		Headers: []kafka.Header{
			{Key: "signal_id", Value: []byte(sig.ID)},
		},
	}, nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p.w != nil {
		return p.w.Close()
	}
	return nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}
