package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// APIError is returned for any non-2xx or malformed remote response, and for
// transport failures that outlived their retries.
type APIError struct {
	Type     ErrorType
	Code     int
	Message  string
	Endpoint string
}

func (e *APIError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("%s error (code %d) on %s: %s", e.Type, e.Code, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// NewAPIError classifies an HTTP status code into an APIError.
func NewAPIError(code int, endpoint, message string) *APIError {
	return &APIError{
		Type:     TypeForStatus(code),
		Code:     code,
		Message:  message,
		Endpoint: endpoint,
	}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(endpoint string, err error) *APIError {
	return &APIError{
		Type:     ErrorTypeNetwork,
		Message:  err.Error(),
		Endpoint: endpoint,
	}
}

// RateLimitError is an APIError raised when the quota is exhausted or nearly so.
type RateLimitError struct {
	APIError
	RetryAfter time.Duration
}

// NewRateLimitError builds a RateLimitError with a wait hint.
func NewRateLimitError(endpoint, message string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		APIError: APIError{
			Type:     ErrorTypeRateLimit,
			Code:     403,
			Message:  message,
			Endpoint: endpoint,
		},
		RetryAfter: retryAfter,
	}
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s: %s", e.RetryAfter.Round(time.Second), e.Message)
}

// Unwrap lets errors.As match a RateLimitError as an *APIError.
func (e *RateLimitError) Unwrap() error {
	return &e.APIError
}

// ScanError reports that a structured scan of a target could not complete.
type ScanError struct {
	Target string
	Path   string
	Err    error
}

func (e *ScanError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("scan %s failed at %q: %v", e.Target, e.Path, e.Err)
	}
	return fmt.Sprintf("scan %s failed: %v", e.Target, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// ItemError is a per-item failure that is recorded and never aborts a run.
type ItemError struct {
	Item string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Item, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeServerError:
		return true
	case ErrorTypeRateLimit, ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// TypeForStatus maps an HTTP status code to an ErrorType.
func TypeForStatus(code int) ErrorType {
	switch {
	case code == 0:
		return ErrorTypeNetwork
	case code == 401:
		return ErrorTypeAuth
	case code == 404:
		return ErrorTypeNotFound
	case code == 429:
		return ErrorTypeServerError
	case code >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// IsNotFound reports whether err is or wraps a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == ErrorTypeNotFound
}

// IsRateLimit reports whether err is or wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfter returns the wait hint carried by a RateLimitError in err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
