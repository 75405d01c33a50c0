// Package retry provides a bounded retry helper with jittered exponential
// backoff, used across the environment-setup transient-error path
// (spec.md §4.5) and LLM/tracker transport calls.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Config bounds a retry sequence.
type Config struct {
	MaxAttempts int           // total attempts including the first; default 3
	BackoffMin  time.Duration // default 250ms
	BackoffMax  time.Duration // default 750ms per step; doubles each attempt
}

// DefaultConfig mirrors the teacher's MCP recovery constants.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BackoffMin: 250 * time.Millisecond, BackoffMax: 750 * time.Millisecond}
}

// Classifier decides whether an error returned by fn is worth retrying.
// Returning false stops the loop immediately and surfaces err.
type Classifier func(err error) bool

// AlwaysRetry treats every non-nil error as retryable.
func AlwaysRetry(error) bool { return true }

// Do runs fn up to cfg.MaxAttempts times, sleeping a jittered,
// exponentially-doubling backoff between attempts, stopping early if
// classify reports the error isn't retryable or ctx is done. Returns the
// last error on exhaustion.
func Do(ctx context.Context, cfg Config, classify Classifier, fn func(ctx context.Context, attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 750 * time.Millisecond
	}
	if classify == nil {
		classify = AlwaysRetry
	}

	var lastErr error
	backoffMin, backoffMax := cfg.BackoffMin, cfg.BackoffMax

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !classify(err) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		backoff := backoffMin
		if backoffMax > backoffMin {
			backoff += time.Duration(rand.Int64N(int64(backoffMax - backoffMin)))
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		// Double the window for the next attempt, capped to avoid runaway waits.
		backoffMin *= 2
		backoffMax *= 2
		const cap = 20 * time.Second
		if backoffMin > cap {
			backoffMin = cap
		}
		if backoffMax > cap {
			backoffMax = cap
		}
	}

	return lastErr
}
