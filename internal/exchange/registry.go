package exchange

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/samber/lo"
)

// Config configures one exchange connection.
type Config struct {
	Name            string
	Enabled         bool
	BaseURL         string
	APIKey          string
	APISecret       string
	Timeout         time.Duration
	EnableRateLimit bool
	RatePerSecond   float64
	Burst           int
}

// Registry holds one Source per enabled exchange.
type Registry struct {
	sources map[string]Source
}

// NewRegistry builds sources for every enabled exchange in cfgs.
func NewRegistry(cfgs []Config) (*Registry, error) {
	r := &Registry{sources: make(map[string]Source, len(cfgs))}
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		var src Source
		switch c.Name {
		case "binance":
			src = NewBinance(c)
		case "okx":
			src = NewOKX(c)
		default:
			return nil, fmt.Errorf("unknown exchange %q", c.Name)
		}
		if c.EnableRateLimit && c.RatePerSecond > 0 {
			src = NewRateLimited(src, c.RatePerSecond, c.Burst)
		}
		r.sources[c.Name] = src
		log.Printf("[exchange] %s enabled (rate limit %v)", c.Name, c.EnableRateLimit)
	}
	return r, nil
}

// Register adds or replaces a source under its own name.
func (r *Registry) Register(src Source) {
	r.sources[src.Name()] = src
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Source, bool) {
	s, ok := r.sources[name]
	return s, ok
}

// Names returns the registered exchange names, sorted.
func (r *Registry) Names() []string {
	out := lo.Keys(r.sources)
	sort.Strings(out)
	return out
}
