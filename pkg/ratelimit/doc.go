// Package ratelimit paces outbound requests.
//
// Two limiters live here:
//
// Budget:
//   - Shared handle for one API provider (GitHub)
//   - Enforces a minimum interval between request starts
//   - Tracks an hourly request budget and fails fast near exhaustion
//   - Widens its interval permanently when the server reports low quota
//
// DomainLimiter:
//   - Per-host politeness delay for crawling
//   - Each caller reserves the next free slot for its host
//
// Usage:
//
//	budget := ratelimit.NewBudget(ratelimit.DefaultBudgetConfig(), log)
//	if err := budget.Acquire(ctx, "repos/octo/docs"); err != nil {
//	    return err // *errors.RateLimitError when the hour is nearly spent
//	}
//	resp, err := http.DefaultClient.Do(req)
//	budget.Observe(resp.Header)
package ratelimit
