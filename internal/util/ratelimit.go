package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound API calls at a fixed per-minute rate.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows perMinute calls per minute with a burst of one.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return NewBurstLimiter(perMinute, 1)
}

// NewBurstLimiter allows up to burst calls back to back before pacing.
func NewBurstLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
}

// Wait blocks until a call is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.lim == nil {
		return ctx.Err()
	}
	return rl.lim.Wait(ctx)
}

// allowAt reports whether a call at t would go through without waiting, and
// takes the token if so.
func (rl *RateLimiter) allowAt(t time.Time) bool {
	if rl == nil || rl.lim == nil {
		return true
	}
	return rl.lim.AllowN(t, 1)
}
