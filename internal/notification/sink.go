package notification

import (
	"context"

	"github.com/hw3579/trading-bot/internal/model"
)

// SignalSink forwards every signal it receives to a Notifier.
type SignalSink struct {
	name string
	n    Notifier
}

// NewSignalSink adapts n into a signal sink called name.
func NewSignalSink(name string, n Notifier) *SignalSink {
	return &SignalSink{name: name, n: n}
}

func (s *SignalSink) Name() string { return s.name }

func (s *SignalSink) Deliver(ctx context.Context, sig *model.Signal) error {
	return s.n.Send(ctx, SignalAlert(sig))
}
