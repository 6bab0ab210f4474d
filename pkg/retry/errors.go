package retry

import "fmt"

// AbortedError is returned when the caller's context ends while the retrier is
// waiting for the next attempt.
type AbortedError struct {
	Attempts int
	Cause    error
	Last     error
}

// Error implements the error interface.
func (e *AbortedError) Error() string {
	return fmt.Sprintf("retry aborted after %d attempts: %v: %v", e.Attempts, e.Cause, e.Last)
}

// Unwrap exposes both the context error and the last failure to errors.Is/As.
func (e *AbortedError) Unwrap() []error {
	return []error{e.Cause, e.Last}
}
