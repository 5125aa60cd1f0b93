package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before the next attempt. attempt is the
	// number of attempts already made, starting at 1.
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with proportional jitter
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// JitterBackoff grows as Base*Multiplier^(attempt-1) and adds a uniform random
// amount in [0, Jitter). The sum is capped at MaxDelay when set.
type JitterBackoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	Jitter     time.Duration
	MaxDelay   time.Duration
}

// NextDelay returns the jittered exponential delay.
func (jb *JitterBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	mult := jb.Multiplier
	if mult <= 0 {
		mult = 2
	}

	delay := time.Duration(float64(jb.BaseDelay) * math.Pow(mult, float64(attempt-1)))
	if jb.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jb.Jitter)))
	}
	if jb.MaxDelay > 0 && delay > jb.MaxDelay {
		delay = jb.MaxDelay
	}
	return delay
}

// MetadataBackoff waits 2^n seconds after the nth failure plus up to 100ms
// of jitter.
func MetadataBackoff() *JitterBackoff {
	return &JitterBackoff{
		BaseDelay:  2 * time.Second,
		Multiplier: 2,
		Jitter:     100 * time.Millisecond,
	}
}

// DownloadBackoff waits 2^n seconds after the nth failure plus up to 2s of
// jitter, capped at 30s.
func DownloadBackoff() *JitterBackoff {
	return &JitterBackoff{
		BaseDelay:  2 * time.Second,
		Multiplier: 2,
		Jitter:     2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
