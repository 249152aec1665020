package model

import "context"

// ── Storage Port Interfaces ──
// Workers and the hub depend on these, not on SQLite or Redis directly.

// CandleStore persists the raw closed-candle series of each target.
type CandleStore interface {
	// SaveCandles upserts closed candles for a target.
	SaveCandles(ctx context.Context, id TargetID, candles []Candle) error

	// ReadCandles returns the newest limit candles in ascending order.
	ReadCandles(ctx context.Context, id TargetID, limit int) ([]Candle, error)
}

// SignalJournal records emitted signals.
type SignalJournal interface {
	// SaveSignal appends a signal. Saving the same ID twice is a no-op.
	SaveSignal(ctx context.Context, sig *Signal) error

	// LastSignal returns the newest signal for a target, or nil.
	LastSignal(ctx context.Context, id TargetID) (*Signal, error)
}
