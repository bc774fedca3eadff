// Package ratelimiter throttles background write batches with a token
// bucket.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter issuing perSecond tokens per second with the given
// burst. perSecond = 0 disables limiting. A zero burst is raised to 1 so
// that a limited bucket can ever grant a token.
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst))}
}

// Allow consumes a token if one is available, without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// WaitN blocks until n tokens are available or ctx is done. n is capped at
// the burst size.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if b := r.limiter.Burst(); r.limiter.Limit() != rate.Inf && n > b {
		n = b
	}
	return r.limiter.WaitN(ctx, n)
}

// Unlimited reports whether the limiter never throttles.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}
