// Package ratelimit token-buckets outbound calls (LLM, tracker) per task
// or per provider so a runaway replan loop can't burst a provider's API.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate.Limiter with a requests-per-minute
// constructor matching the config surface's requests_per_minute field.
type Limiter struct {
	rl *rate.Limiter
}

// NewPerMinute builds a Limiter allowing ratePerMinute requests per
// minute, with a burst of 1 (no bursting beyond the steady rate). A
// ratePerMinute of 0 or less disables limiting (Wait always returns
// immediately).
func NewPerMinute(ratePerMinute int) *Limiter {
	if ratePerMinute <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 0)}
	}
	perSecond := rate.Limit(float64(ratePerMinute) / 60.0)
	return &Limiter{rl: rate.NewLimiter(perSecond, 1)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}
