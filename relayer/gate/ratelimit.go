package gate

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
)

// RateLimiter is a token bucket shared by every outbound ledger call
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter refilling rps tokens per second up to
// burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 || math.IsInf(rps, 1) {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Acquire blocks until a token is available or ctx is done. A wait that
// cannot finish before ctx's deadline fails immediately.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return relerrors.Transient(relerrors.ReasonCanceled, "rate limiter wait abandoned", err)
	}
	return nil
}

// Allow takes a token without waiting
func (l *RateLimiter) Allow() bool {
	return l.limiter.Allow()
}
