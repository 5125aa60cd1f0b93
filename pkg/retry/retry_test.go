package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestMetadataBackoffSchedule(t *testing.T) {
	b := MetadataBackoff()
	for i := 0; i < 20; i++ {
		d1 := b.NextDelay(1)
		assert.GreaterOrEqual(t, d1, 2*time.Second)
		assert.Less(t, d1, 2*time.Second+100*time.Millisecond)

		d2 := b.NextDelay(2)
		assert.GreaterOrEqual(t, d2, 4*time.Second)
		assert.Less(t, d2, 4*time.Second+100*time.Millisecond)
	}
}

func TestDownloadBackoffCapped(t *testing.T) {
	b := DownloadBackoff()
	for i := 0; i < 20; i++ {
		d := b.NextDelay(3)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.Less(t, d, 10*time.Second)
		assert.Equal(t, 30*time.Second, b.NextDelay(10))
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	netErr := errs.NewNetworkError("repos/a/b", errors.New("connection reset"))
	err := Do(func() error {
		attempts++
		return netErr
	}, fastConfig(3))

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeNetwork, apiErr.Type)
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	notFound := errs.NewAPIError(404, "repos/a/b", "Not Found")

	err := Do(func() error {
		attempts++
		return notFound
	}, fastConfig(5))

	assert.Same(t, notFound, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryServerErrors(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		if attempts == 1 {
			return errs.NewAPIError(502, "x", "bad gateway")
		}
		if attempts == 2 {
			return errs.NewAPIError(429, "x", "slow down")
		}
		return nil
	}, fastConfig(3))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRateLimitErrorIsFinal(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		return errs.NewRateLimitError("x", "spent", time.Minute)
	}, fastConfig(3))

	assert.True(t, errs.IsRateLimit(err))
	assert.Equal(t, 1, attempts)
}

func TestAfterOverridesBackoff(t *testing.T) {
	cfg := fastConfig(3)
	cfg.Backoff = &ConstantBackoff{Delay: time.Hour}

	var delays []time.Duration
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	attempts := 0
	limited := errs.NewRateLimitError("x", "reset soon", 5*time.Millisecond)
	err := Do(func() error {
		attempts++
		return After(limited, 5*time.Millisecond)
	}, cfg)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, delays)
	assert.True(t, errs.IsRateLimit(err))
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	cfg := fastConfig(10)
	cfg.Backoff = &ConstantBackoff{Delay: 50 * time.Millisecond}
	cfg.Context = ctx

	err := Do(func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("flaky")
	}, cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestContextErrorsAreNotRetried(t *testing.T) {
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.False(t, DefaultRetryIf(nil))
	assert.True(t, DefaultRetryIf(errors.New("eof")))
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	}, fastConfig(3))

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 2, attempts)
}
