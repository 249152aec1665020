package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a candle interval such as "15m" or "4h".
type Timeframe string

var timeframeUnits = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseTimeframe validates s and returns it as a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.TrimSpace(s))
	if tf.Duration() <= 0 {
		return "", fmt.Errorf("invalid timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the interval length, or 0 if the timeframe is malformed.
func (tf Timeframe) Duration() time.Duration {
	s := string(tf)
	if len(s) < 2 {
		return 0
	}
	unit, ok := timeframeUnits[s[len(s)-1]]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * unit
}

func (tf Timeframe) String() string { return string(tf) }

// Params holds free-form strategy parameters from configuration.
type Params map[string]any

// Float returns the numeric parameter key, or def when absent or not numeric.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the integer parameter key, or def.
func (p Params) Int(key string, def int) int {
	return int(p.Float(key, float64(def)))
}

// Bool returns the boolean parameter key, or def.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// String returns the string parameter key, or def.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Sub returns a nested parameter map, or nil.
func (p Params) Sub(key string) Params {
	switch v := p[key].(type) {
	case Params:
		return v
	case map[string]any:
		return Params(v)
	}
	return nil
}

// TargetID identifies one monitored (source, symbol, timeframe) combination.
type TargetID struct {
	Source    string    `json:"source"`
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
}

// Key returns "source:symbol:timeframe".
func (id TargetID) Key() string {
	return id.Source + ":" + id.Symbol + ":" + string(id.Timeframe)
}

func (id TargetID) String() string { return id.Key() }

// Target is a configured monitor target. Only Enabled may change after load.
type Target struct {
	TargetID
	Enabled  bool   `json:"enabled"`
	Strategy string `json:"strategy"`
	Params   Params `json:"params,omitempty"`
	Persist  bool   `json:"persist"`
}
