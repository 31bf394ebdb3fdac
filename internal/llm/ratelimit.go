package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited spaces calls to the wrapped provider so that at most
// requestsPerMinute requests start per minute.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p. A non-positive rate returns p unchanged.
func NewRateLimited(p Provider, requestsPerMinute int) Provider {
	if p == nil || requestsPerMinute <= 0 {
		return p
	}
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Generate waits for a slot, then delegates.
func (r *RateLimited) Generate(ctx context.Context, req Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", &TransientAPIError{Provider: r.Name(), Err: err}
	}
	return r.Provider.Generate(ctx, req)
}
