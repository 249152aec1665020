package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever the Signal wire shape changes.
const SchemaVersion = 1

// SignalKind is the direction of a signal.
type SignalKind string

const (
	KindNone SignalKind = ""
	KindBuy  SignalKind = "BUY"
	KindSell SignalKind = "SELL"
)

// Level is one support/resistance zone near the signal price.
type Level struct {
	Price       float64  `json:"price"`
	Top         float64  `json:"top"`
	Bottom      float64  `json:"bottom"`
	Kind        string   `json:"kind"` // support, resistance, mixed
	Methods     []string `json:"methods"`
	Confluence  int      `json:"confluence"`
	Reactions   int      `json:"reactions"`
	DistancePct float64  `json:"distance_pct"`
}

// SRContext is indicator context attached to a signal.
type SRContext struct {
	NearestSupport    *Level  `json:"nearest_support,omitempty"`
	NearestResistance *Level  `json:"nearest_resistance,omitempty"`
	Levels            []Level `json:"levels,omitempty"`
	MaxConfluence     int     `json:"max_confluence"`
}

// Signal is an immutable trading event for one target and one closed candle.
type Signal struct {
	SchemaVersion int        `json:"schema_version"`
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	Symbol        string     `json:"symbol"`
	Timeframe     Timeframe  `json:"timeframe"`
	Kind          SignalKind `json:"kind"`
	Price         float64    `json:"price"`
	CandleTS      time.Time  `json:"candle_ts"`
	GeneratedAt   time.Time  `json:"generated_at"`
	Strategy      string     `json:"strategy"`
	Context       *SRContext `json:"context,omitempty"`
}

// NewSignal stamps identity and schema version onto a new signal.
func NewSignal(id TargetID, kind SignalKind, candleTS time.Time, price float64, strategy string, sr *SRContext, now time.Time) *Signal {
	return &Signal{
		SchemaVersion: SchemaVersion,
		ID:            SignalID(id, candleTS, kind),
		Source:        id.Source,
		Symbol:        id.Symbol,
		Timeframe:     id.Timeframe,
		Kind:          kind,
		Price:         price,
		CandleTS:      candleTS.UTC(),
		GeneratedAt:   now.UTC(),
		Strategy:      strategy,
		Context:       sr,
	}
}

// SignalID is "source:symbol:tf@unix:KIND".
func SignalID(id TargetID, candleTS time.Time, kind SignalKind) string {
	return fmt.Sprintf("%s@%d:%s", id.Key(), candleTS.Unix(), kind)
}

// Target returns the identity of the target that produced the signal.
func (s *Signal) Target() TargetID {
	return TargetID{Source: s.Source, Symbol: s.Symbol, Timeframe: s.Timeframe}
}

// JSON returns the JSON-encoded signal (ignoring errors for hot-path usage).
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
