package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrRetryExhausted is returned when a retryable failure persisted through the
// whole retry budget. The last failure is wrapped alongside it.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// ErrorClass represents a classification of transport failures.
type ErrorClass string

const (
	// ErrorClassTransient represents network failures and 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassHTTPStatus represents non-retryable non-2xx responses.
	ErrorClassHTTPStatus ErrorClass = "http_status"

	// ErrorClassDecode represents malformed response bodies.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCancelled represents a caller-side cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// TransientError wraps a network-level failure.
type TransientError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure for %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// RateLimitedError is returned after the transport honored a 429 wait.
type RateLimitedError struct {
	URL        string
	RetryAfter time.Duration
	Waited     time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by %s (retry-after %s, waited %s)", e.URL, e.RetryAfter, e.Waited)
}

// StatusError represents a non-2xx, non-429 response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("http status %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
}

// Temporary reports whether the status is a server-side failure worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}

// DecodeError represents a response body that did not match the expected schema.
type DecodeError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Classify categorizes an error for observability and retry decisions.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassCancelled
	}

	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return ErrorClassRateLimit
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return ErrorClassDecode
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Temporary() {
			return ErrorClassTransient
		}
		return ErrorClassHTTPStatus
	}
	return ErrorClassTransient
}

// Retryable determines if an error should be retried based on its classification.
func Retryable(err error) bool {
	switch Classify(err) {
	case ErrorClassTransient, ErrorClassRateLimit:
		return true
	default:
		// Client errors and schema mismatches will not fix themselves.
		return false
	}
}
