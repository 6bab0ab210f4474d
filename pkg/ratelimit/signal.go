// Package ratelimit derives rate-limit signals from HTTP responses.
// It interprets "429 Too Many Requests" and the Retry-After header so the
// transport can wait cooperatively before the retrier attempts again.
//
// There is no client-side token bucket: concurrent callers against the same
// endpoint can still collectively exceed the remote limit. The sleep-then-retry
// protocol is the only coordination mechanism.
package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderRetryAfter is the response header carrying the server's wait hint.
const HeaderRetryAfter = "Retry-After"

// SafetyMargin is added to every server-directed wait to absorb clock skew and jitter.
const SafetyMargin = time.Second

// MaxRetryAfter caps the server's wait hint.
const MaxRetryAfter = time.Hour

// Signal represents the rate-limit state derived from a single response.
// It is never persisted.
type Signal struct {
	// Limited is true when the server answered 429.
	Limited bool

	// RetryAfter is the server's wait hint. Zero when absent or unparsable.
	RetryAfter time.Duration
}

// FromResponse derives a Signal from a response.
func FromResponse(resp *http.Response) Signal {
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return Signal{}
	}
	return Signal{
		Limited:    true,
		RetryAfter: ParseRetryAfter(resp.Header.Get(HeaderRetryAfter)),
	}
}

// ParseRetryAfter parses a Retry-After value in whole seconds.
// Absent, negative or unparsable values yield zero; values above
// MaxRetryAfter yield MaxRetryAfter.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(value, "-") {
		return MaxRetryAfter
	}
	if err != nil || seconds < 0 {
		return 0
	}
	if seconds > int64(MaxRetryAfter/time.Second) {
		return MaxRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

// Wait returns how long the caller must sleep before the next attempt:
// the server hint plus SafetyMargin. Zero when not limited.
func (s Signal) Wait() time.Duration {
	if !s.Limited {
		return 0
	}
	return s.RetryAfter + SafetyMargin
}
