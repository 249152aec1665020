package model

import "time"

// Phase is the target worker state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseUpdating   Phase = "updating"
	PhaseEvaluating Phase = "evaluating"
)

// TargetState is an immutable status snapshot published by a worker.
// Publishers build a new value per change; readers never see partial updates.
type TargetState struct {
	Target              TargetID  `json:"target"`
	Phase               Phase     `json:"phase"`
	LastFetchTime       time.Time `json:"last_fetch_time"`
	LastAttemptTime     time.Time `json:"last_attempt_time"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorTime       time.Time `json:"last_error_time"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	Cycles              int64     `json:"cycles"`
	MissedTicks         int64     `json:"missed_ticks"`
	Gaps                int64     `json:"gaps"`
	SeriesLen           int       `json:"series_len"`
	Evicted             int64     `json:"evicted"`
	LastCandleTS        time.Time `json:"last_candle_ts"`
	LastSignal          *Signal   `json:"last_signal,omitempty"`
}
