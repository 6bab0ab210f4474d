package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      ErrorClass
		retryable bool
	}{
		{"nil", nil, "", false},
		{"network", &TransientError{URL: "u", Err: errors.New("connection reset")}, ErrorClassTransient, true},
		{"rate limited", &RateLimitedError{URL: "u", RetryAfter: time.Second}, ErrorClassRateLimit, true},
		{"server error", &StatusError{StatusCode: http.StatusServiceUnavailable}, ErrorClassTransient, true},
		{"client error", &StatusError{StatusCode: http.StatusNotFound}, ErrorClassHTTPStatus, false},
		{"decode", &DecodeError{URL: "u", Err: errors.New("unexpected EOF")}, ErrorClassDecode, false},
		{"cancelled", &TransientError{URL: "u", Err: context.Canceled}, ErrorClassCancelled, false},
		{"wrapped rate limit", fmt.Errorf("page 3: %w", &RateLimitedError{}), ErrorClassRateLimit, true},
		{"unknown", errors.New("boom"), ErrorClassTransient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
			if tt.err == nil {
				return
			}
			if got := Retryable(tt.err); got != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestStatusError_Error(t *testing.T) {
	err := &StatusError{URL: "https://api.example/x", StatusCode: 404, Body: []byte("missing")}
	want := "http status 404 from https://api.example/x: missing"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
