// Package retry provides backoff strategies and a retry loop for transient
// failures in remote calls.
//
// Features:
//   - Exponential, constant and additive-jitter backoff strategies
//   - Context support for cancellation during backoff sleeps
//   - Configurable retry predicates
//   - Server supplied wait hints via After, which override the backoff
//
// Basic usage:
//
//	body, err := retry.DoWithResult(func() ([]byte, error) {
//		return fetch(ctx, url)
//	}, &retry.Config{
//		MaxAttempts: 5,
//		Backoff:     retry.DownloadBackoff(),
//		RetryIf:     retry.DefaultRetryIf,
//		Context:     ctx,
//	})
//
// An operation that learns how long to wait (a rate limit reset header, say)
// returns retry.After(err, d); Do then sleeps exactly d before the next
// attempt.
package retry
