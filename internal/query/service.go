// Package query answers status, history and last-signal requests about
// monitored targets. It only reads published snapshots and never mutates
// monitoring state.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/hw3579/trading-bot/internal/model"
)

// ErrNotFound is returned for targets that are not configured.
var ErrNotFound = errors.New("target not found")

const (
	defaultSeriesCount  = 50
	defaultSignalsLimit = 20
)

// StateView is the read side of one target worker.
type StateView interface {
	Target() model.Target
	State() model.TargetState
	Series() model.Series
	Retention() int
	LastSignal() *model.Signal
}

// History exposes recently distributed signals, newest first.
type History interface {
	Recent(n int) []*model.Signal
}

// Status is the externally visible state of one target.
type Status struct {
	Target              model.TargetID `json:"target"`
	Key                 string         `json:"key"`
	Strategy            string         `json:"strategy"`
	Phase               model.Phase    `json:"phase"`
	LastFetchTime       *time.Time     `json:"last_fetch_time"`
	LastError           string         `json:"last_error,omitempty"`
	LastErrorTime       *time.Time     `json:"last_error_time,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	TotalFailures       int64          `json:"total_failures"`
	Cycles              int64          `json:"cycles"`
	MissedTicks         int64          `json:"missed_ticks"`
	Gaps                int64          `json:"gaps"`
	SeriesLen           int            `json:"series_len"`
	Evicted             int64          `json:"evicted"`
	LastCandleTS        *time.Time     `json:"last_candle_ts"`
}

// TargetInfo is one entry of ListTargets.
type TargetInfo struct {
	Key                 string      `json:"key"`
	Source              string      `json:"source"`
	Symbol              string      `json:"symbol"`
	Timeframe           string      `json:"timeframe"`
	Strategy            string      `json:"strategy"`
	Phase               model.Phase `json:"phase"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
}

// Service resolves queries against a registry fixed at construction.
type Service struct {
	views   map[string]StateView
	keys    []string
	history History
}

// NewService indexes views by target key. history may be nil.
func NewService(views []StateView, history History) *Service {
	s := &Service{
		views:   make(map[string]StateView, len(views)),
		history: history,
	}
	for _, v := range views {
		s.views[v.Target().Key()] = v
	}
	s.keys = lo.Keys(s.views)
	sort.Strings(s.keys)
	return s
}

func (s *Service) lookup(id model.TargetID) (StateView, error) {
	if v, ok := s.views[id.Key()]; ok {
		return v, nil
	}
	// Symbols arrive in whatever case the caller typed.
	key, ok := lo.Find(s.keys, func(k string) bool { return strings.EqualFold(k, id.Key()) })
	if ok {
		return s.views[key], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Key())
}

// GetStatus returns the latest status snapshot of a target.
func (s *Service) GetStatus(id model.TargetID) (Status, error) {
	v, err := s.lookup(id)
	if err != nil {
		return Status{}, err
	}
	st := v.State()
	t := v.Target()
	return Status{
		Target:              t.TargetID,
		Key:                 t.Key(),
		Strategy:            t.Strategy,
		Phase:               st.Phase,
		LastFetchTime:       timePtr(st.LastFetchTime),
		LastError:           st.LastError,
		LastErrorTime:       timePtr(st.LastErrorTime),
		ConsecutiveFailures: st.ConsecutiveFailures,
		TotalFailures:       st.TotalFailures,
		Cycles:              st.Cycles,
		MissedTicks:         st.MissedTicks,
		Gaps:                st.Gaps,
		SeriesLen:           st.SeriesLen,
		Evicted:             st.Evicted,
		LastCandleTS:        timePtr(st.LastCandleTS),
	}, nil
}

// GetRecentSeries returns up to count newest candles, oldest first.
// count <= 0 means 50; count is capped at the target's retention.
func (s *Service) GetRecentSeries(id model.TargetID, count int) ([]model.Candle, error) {
	v, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = defaultSeriesCount
	}
	if r := v.Retention(); r > 0 && count > r {
		count = r
	}
	snap := v.Series()
	if snap.Len() == 0 {
		return []model.Candle{}, nil
	}
	return snap.Tail(count), nil
}

// GetLastSignal returns the newest signal of a target, or nil.
func (s *Service) GetLastSignal(id model.TargetID) (*model.Signal, error) {
	v, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return v.LastSignal(), nil
}

// ListTargets returns every configured target in key order.
func (s *Service) ListTargets() []TargetInfo {
	return lo.Map(s.keys, func(k string, _ int) TargetInfo {
		v := s.views[k]
		t := v.Target()
		st := v.State()
		return TargetInfo{
			Key:                 k,
			Source:              t.Source,
			Symbol:              t.Symbol,
			Timeframe:           string(t.Timeframe),
			Strategy:            t.Strategy,
			Phase:               st.Phase,
			ConsecutiveFailures: st.ConsecutiveFailures,
		}
	})
}

// RecentSignals returns up to n recently distributed signals, newest first.
func (s *Service) RecentSignals(n int) []*model.Signal {
	if s.history == nil {
		return []*model.Signal{}
	}
	if n <= 0 {
		n = defaultSignalsLimit
	}
	return s.history.Recent(n)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
