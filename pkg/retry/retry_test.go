package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/dateshift/dateshift/pkg/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := New(fastConfig(3)).Do(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := New(fastConfig(3)).Do(func() error {
		calls++
		if calls < 3 {
			return dserrors.New(dserrors.ErrCodeNetworkError, "reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnFatalError(t *testing.T) {
	calls := 0
	fatal := dserrors.New(dserrors.ErrCodeAccessDenied, "read-only share")
	err := New(fastConfig(3)).Do(func() error {
		calls++
		return fatal
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, stderr.Is(err, fatal))
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := New(fastConfig(3)).Do(func() error {
		calls++
		return dserrors.New(dserrors.ErrCodeNetworkError, "reset")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, dserrors.ErrCodeRetryExhausted, dserrors.GetCode(err))
	assert.True(t, stderr.Is(err, dserrors.New(dserrors.ErrCodeNetworkError, "")))
}

func TestDoWithContextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := New(Config{MaxAttempts: 5, InitialDelay: time.Hour}).DoWithContext(ctx,
		func(ctx context.Context) error {
			calls++
			cancel()
			return dserrors.New(dserrors.ErrCodeNetworkError, "reset")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOnRetryCallbackSeesEachRetry(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	cfg := fastConfig(4)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}
	err := New(cfg).Do(func() error {
		return dserrors.New(dserrors.ErrCodeNetworkError, "reset")
	})
	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestCalculateDelayBacksOffExponentially(t *testing.T) {
	r := New(Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	})
	assert.Equal(t, time.Second, r.calculateDelay(1))
	assert.Equal(t, 2*time.Second, r.calculateDelay(2))
	assert.Equal(t, 4*time.Second, r.calculateDelay(3))
}

func TestCalculateDelayRespectsCap(t *testing.T) {
	r := New(Config{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
	})
	assert.Equal(t, 3*time.Second, r.calculateDelay(5))
}

func TestNewFillsDefaults(t *testing.T) {
	r := New(Config{})
	cfg := r.Config()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
}
