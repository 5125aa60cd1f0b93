package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter spaces requests to the same host by a fixed delay. Hosts are
// independent of each other.
type DomainLimiter struct {
	mu       sync.Mutex
	delay    time.Duration
	limiters map[string]*rate.Limiter
}

// NewDomainLimiter creates a limiter with the given per-host delay. A zero
// delay never blocks.
func NewDomainLimiter(delay time.Duration) *DomainLimiter {
	return &DomainLimiter{
		delay:    delay,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the next request slot for domain is available.
func (d *DomainLimiter) Wait(ctx context.Context, domain string) error {
	if d.delay <= 0 {
		return ctx.Err()
	}
	return d.limiterFor(domain).Wait(ctx)
}

func (d *DomainLimiter) limiterFor(domain string) *rate.Limiter {
	key := strings.ToLower(domain)

	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.delay), 1)
		d.limiters[key] = l
	}
	return l
}

// Delay returns the configured per-host delay.
func (d *DomainLimiter) Delay() time.Duration {
	return d.delay
}
