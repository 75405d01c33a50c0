package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastConfig(maxAttempts int) Config {
	return Config{MaxAttempts: maxAttempts, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond}
}

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), AlwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), AlwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), AlwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestDoStopsImmediatelyWhenClassifierSaysNoRetry(t *testing.T) {
	calls := 0
	noRetry := func(error) bool { return false }
	err := Do(context.Background(), fastConfig(5), noRetry, func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), AlwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoReturnsContextErrorWhenCtxDoneDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := Config{MaxAttempts: 5, BackoffMin: 50 * time.Millisecond, BackoffMax: 100 * time.Millisecond}

	err := Do(ctx, cfg, AlwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errBoom
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoAppliesDefaultsWhenConfigZeroValued(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, AlwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
