package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("device busy")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	cause := errors.New("connection refused")
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryable(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return NonRetryable(errors.New("bad credentials"))
	})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("timeout")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 5)
}

func TestDo_OnRetry(t *testing.T) {
	cfg := fastConfig(3)
	var seen []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
		assert.Error(t, err)
		assert.Positive(t, delay)
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	require.Error(t, err)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	require.Error(t, err)
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 10*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 40*time.Millisecond, cfg.Backoff(3))
	assert.Equal(t, 50*time.Millisecond, cfg.Backoff(4))
	assert.Equal(t, 50*time.Millisecond, cfg.Backoff(10))
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), fastConfig(2), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
