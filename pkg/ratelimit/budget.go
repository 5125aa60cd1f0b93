package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"

	"golang.org/x/time/rate"
)

const (
	// HeaderRateRemaining is the remaining requests header.
	HeaderRateRemaining = "X-RateLimit-Remaining"
	// HeaderRateReset is the reset timestamp header (Unix seconds).
	HeaderRateReset = "X-RateLimit-Reset"
)

// BudgetConfig configures a Budget.
type BudgetConfig struct {
	// HourlyLimit is the number of requests allowed per window
	HourlyLimit int
	// Window is the budget window length
	Window time.Duration
	// MinInterval is the initial minimum spacing between request starts
	MinInterval time.Duration
	// SlowInterval replaces MinInterval once remaining quota is low
	SlowInterval time.Duration
	// LowRemaining is the remaining-quota threshold that triggers SlowInterval
	LowRemaining int
	// FailFastRatio and FailFastRemaining define when Acquire refuses outright
	FailFastRatio     float64
	FailFastRemaining int
	// MinRetryAfter is the floor for the wait hint of a fast-fail error
	MinRetryAfter time.Duration
}

// DefaultBudgetConfig matches GitHub's authenticated REST quota.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		HourlyLimit:       5000,
		Window:            time.Hour,
		MinInterval:       time.Second,
		SlowInterval:      2 * time.Second,
		LowRemaining:      100,
		FailFastRatio:     0.9,
		FailFastRemaining: 10,
		MinRetryAfter:     time.Minute,
	}
}

// Budget is the shared pacing and quota state for one API provider. Every
// client talking to that provider must hold the same *Budget.
type Budget struct {
	mu               sync.Mutex
	cfg              BudgetConfig
	limiter          *rate.Limiter
	minInterval      time.Duration
	requestsThisHour int
	windowStart      time.Time
	now              func() time.Time
	logger           logger.Logger
}

// NewBudget creates a budget. A nil logger uses the global logger.
func NewBudget(cfg BudgetConfig, log logger.Logger) *Budget {
	if log == nil {
		log = logger.GetLogger()
	}
	defaults := DefaultBudgetConfig()
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = defaults.HourlyLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.FailFastRatio <= 0 {
		cfg.FailFastRatio = defaults.FailFastRatio
	}
	if cfg.MinRetryAfter <= 0 {
		cfg.MinRetryAfter = defaults.MinRetryAfter
	}
	if cfg.SlowInterval < cfg.MinInterval {
		cfg.SlowInterval = cfg.MinInterval
	}

	return &Budget{
		cfg:         cfg,
		limiter:     rate.NewLimiter(intervalLimit(cfg.MinInterval), 1),
		minInterval: cfg.MinInterval,
		windowStart: time.Now(),
		now:         time.Now,
		logger:      log,
	}
}

func intervalLimit(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Acquire reserves one request against the hourly budget and waits for the
// pacing slot. It fails immediately with *errors.RateLimitError when the
// budget is nearly spent, without waiting.
func (b *Budget) Acquire(ctx context.Context, endpoint string) error {
	b.mu.Lock()
	now := b.now()
	if now.Sub(b.windowStart) > b.cfg.Window {
		b.windowStart = now
		b.requestsThisHour = 0
	}

	used := b.requestsThisHour
	remaining := b.cfg.HourlyLimit - used
	if float64(used) > b.cfg.FailFastRatio*float64(b.cfg.HourlyLimit) && remaining <= b.cfg.FailFastRemaining {
		wait := b.cfg.Window - now.Sub(b.windowStart)
		if wait < b.cfg.MinRetryAfter {
			wait = b.cfg.MinRetryAfter
		}
		b.mu.Unlock()

		logger.LogRateLimit(b.logger, endpoint, remaining, wait)
		return errs.NewRateLimitError(endpoint,
			fmt.Sprintf("hourly budget nearly exhausted (%d/%d used)", used, b.cfg.HourlyLimit), wait)
	}

	b.requestsThisHour++
	b.mu.Unlock()

	return b.Pace(ctx)
}

// Pace waits for the next pacing slot without touching the hourly budget.
// Downloads from raw content hosts use this.
func (b *Budget) Pace(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Observe reads rate limit headers from a response. Once the server reports
// LowRemaining or fewer requests left, the interval widens to SlowInterval
// for the lifetime of the budget.
func (b *Budget) Observe(h http.Header) {
	if h == nil {
		return
	}
	raw := h.Get(HeaderRateRemaining)
	if raw == "" {
		return
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining <= b.cfg.LowRemaining && b.minInterval < b.cfg.SlowInterval {
		b.minInterval = b.cfg.SlowInterval
		b.limiter.SetLimit(intervalLimit(b.minInterval))
		b.logger.WarnWithFields("Remaining API quota is low, slowing down", map[string]interface{}{
			"remaining":    remaining,
			"min_interval": b.minInterval.String(),
		})
	}
}

// MinInterval returns the current minimum spacing between requests.
func (b *Budget) MinInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minInterval
}

// Usage returns the requests counted in the current window and the limit.
func (b *Budget) Usage() (used, limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requestsThisHour, b.cfg.HourlyLimit
}

// ResetDelay computes how long to wait for a quota reset given the reset
// header value, plus a safety margin. It returns false when the header is
// missing or malformed.
func ResetDelay(h http.Header, now time.Time, margin time.Duration) (time.Duration, bool) {
	raw := h.Get(HeaderRateReset)
	if raw == "" {
		return 0, false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	wait := time.Unix(unix, 0).Sub(now) + margin
	if wait < 0 {
		wait = 0
	}
	return wait, true
}
