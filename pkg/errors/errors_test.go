package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitErrorIsAPIError(t *testing.T) {
	rl := NewRateLimitError("repos/a/b", "quota nearly exhausted", 90*time.Second)
	wrapped := fmt.Errorf("fetch contents: %w", rl)

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, ErrorTypeRateLimit, apiErr.Type)
	assert.Equal(t, "repos/a/b", apiErr.Endpoint)

	assert.True(t, IsRateLimit(wrapped))
	wait, ok := RetryAfter(wrapped)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, wait)
}

func TestPlainAPIErrorIsNotRateLimit(t *testing.T) {
	err := NewAPIError(404, "repos/a/b", "Not Found")
	assert.False(t, IsRateLimit(err))
	_, ok := RetryAfter(err)
	assert.False(t, ok)
	assert.Equal(t, ErrorTypeNotFound, err.Type)
	assert.Contains(t, err.Error(), "Not Found")
}

func TestIsNotFoundLooksThroughWrapping(t *testing.T) {
	missing := &ScanError{Target: "octo/gone", Err: NewAPIError(404, "repos/octo/gone/contents/", "Not Found")}
	assert.True(t, IsNotFound(fmt.Errorf("scan: %w", missing)))
	assert.False(t, IsNotFound(NewAPIError(502, "repos/octo/docs", "Bad Gateway")))
	assert.False(t, IsNotFound(io.EOF))
	assert.False(t, IsNotFound(nil))
}

func TestScanAndItemErrorsUnwrap(t *testing.T) {
	scan := &ScanError{Target: "octo/docs", Path: "docs", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, scan, io.ErrUnexpectedEOF)
	assert.Contains(t, scan.Error(), "octo/docs")

	item := &ItemError{Item: "docs/a.md", Err: io.EOF}
	assert.ErrorIs(t, item, io.EOF)
	assert.Equal(t, "docs/a.md: EOF", item.Error())
}

func TestIsRetryableStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, true},
		{429, true},
		{500, true},
		{503, true},
		{401, false},
		{403, false},
		{404, false},
		{422, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableStatusCode(tt.code))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrorTypeNetwork))
	assert.True(t, IsRetryable(ErrorTypeServerError))
	assert.False(t, IsRetryable(ErrorTypeRateLimit))
	assert.False(t, IsRetryable(ErrorTypeAuth))
	assert.False(t, IsRetryable(ErrorTypeUnknown))
}
