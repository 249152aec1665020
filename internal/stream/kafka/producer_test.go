package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hw3579/trading-bot/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testSignal() *model.Signal {
	id := model.TargetID{Source: "binance", Symbol: "BTCUSDT", Timeframe: "5m"}
	return model.NewSignal(id, model.KindSell, time.Unix(1700000000, 0), 37000.5, "utbot", nil, time.Unix(1700000300, 0))
}

func TestNewProducer_Validation(t *testing.T) {
	_, err := NewProducer(ProducerConfig{Topic: "signals"})
	assert.Error(t, err)

	_, err = NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, Topic: "signals"})
	require.NoError(t, err)
	assert.Equal(t, "kafka", p.Name())
	require.NoError(t, p.Close())
}

func TestProducer_DeliverKeysByTarget(t *testing.T) {
	fw := &fakeWriter{}
	p := &Producer{w: fw, topic: "signals"}
	sig := testSignal()

	require.NoError(t, p.Deliver(context.Background(), sig))
	require.Len(t, fw.msgs, 1)

	msg := fw.msgs[0]
	assert.Equal(t, "binance:BTCUSDT:5m", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, sig.ID, string(msg.Headers[0].Value))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, "signal", env.Type)
	assert.Equal(t, model.SchemaVersion, env.SchemaVersion)
	require.NotNil(t, env.Data)
	assert.Equal(t, model.KindSell, env.Data.Kind)
	assert.Equal(t, 37000.5, env.Data.Price)
}

func TestProducer_DeliverWrapsError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Producer{w: &fakeWriter{err: boom}, topic: "signals"}

	err := p.Deliver(context.Background(), testSignal())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "signals")
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Snappy, parseCompression("snappy"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Gzip, parseCompression(""))
}
