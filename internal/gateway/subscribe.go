package gateway

import (
	"strings"

	"github.com/samber/lo"

	"github.com/hw3579/trading-bot/internal/model"
)

// Filter restricts which signals a subscriber receives. An empty list
// matches everything for that dimension.
type Filter struct {
	Sources    []string `json:"sources,omitempty"`
	Symbols    []string `json:"symbols,omitempty"`
	Timeframes []string `json:"timeframes,omitempty"`
}

// Match reports whether sig passes the filter.
func (f Filter) Match(sig *model.Signal) bool {
	return matchAny(f.Sources, sig.Source) &&
		matchAny(f.Symbols, sig.Symbol) &&
		matchAny(f.Timeframes, string(sig.Timeframe))
}

// Empty reports whether the filter lets everything through.
func (f Filter) Empty() bool {
	return len(f.Sources) == 0 && len(f.Symbols) == 0 && len(f.Timeframes) == 0
}

func matchAny(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	return lo.ContainsBy(allowed, func(a string) bool { return strings.EqualFold(a, v) })
}

// SubscribeMsg is sent by a push client to set its filter:
//
//	{"type":"SUBSCRIBE","req_id":"1","sources":["okx"],"symbols":["BTC-USDT"]}
//
// UNSUBSCRIBE with the same shape clears the filter.
type SubscribeMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Filter
}

// normalize trims and dedups the filter lists.
func (f Filter) normalize() Filter {
	clean := func(in []string) []string {
		out := lo.Uniq(lo.FilterMap(in, func(s string, _ int) (string, bool) {
			s = strings.TrimSpace(s)
			return s, s != ""
		}))
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return Filter{
		Sources:    clean(f.Sources),
		Symbols:    clean(f.Symbols),
		Timeframes: clean(f.Timeframes),
	}
}
