package exchange

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/hw3579/trading-bot/internal/model"
)

// RateLimited throttles a Source with a token bucket shared by every target
// on that exchange.
type RateLimited struct {
	Source
	lim *rate.Limiter
}

// NewRateLimited wraps src allowing rps requests per second with the given burst.
func NewRateLimited(src Source, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Source: src, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Fetch(ctx context.Context, req FetchRequest) ([]model.Candle, error) {
	if err := r.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", r.Name(), err)
	}
	return r.Source.Fetch(ctx, req)
}
