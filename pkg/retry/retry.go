// Package retry provides the fixed-delay retrier that guards every remote call
// made by the bulk-operation pipeline.
//
// The retrier is deliberately simple: a failed attempt is repeated after a fixed
// delay until the retry budget is spent, and the last failure is handed back to
// the caller untouched. Operations passed to Do must be reads or writes guarded
// by an idempotency key; repeating them must be safe.
package retry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractooor_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractooor_retry_exhausted_total",
		Help: "Total number of times the retry budget was exhausted by operation",
	}, []string{"operation"})
)

// Config holds the configuration for one guarded call.
type Config struct {
	// Name labels metrics and log lines (e.g. "pagination", "submit").
	Name string

	// MaxRetries is the number of retries after the initial attempt.
	// An always-failing operation is attempted MaxRetries+1 times.
	MaxRetries int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Retryable reports whether a failure may be retried.
	// Nil treats every failure as retryable.
	Retryable func(error) bool

	// OnRetry is invoked before each wait.
	OnRetry func(Attempt)

	// Sleep waits between attempts. Nil uses Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Attempt describes the retry context of a guarded call at the moment a retry
// is scheduled.
type Attempt struct {
	Made  int
	Max   int
	Delay time.Duration
	Err   error
}

// Pagination is the reference configuration for paginated page fetches.
func Pagination() Config {
	return Config{Name: "pagination", MaxRetries: 5, Delay: 250 * time.Millisecond}
}

// Submission is the reference configuration for aggregate transaction submission.
func Submission() Config {
	return Config{Name: "submit", MaxRetries: 2, Delay: 750 * time.Millisecond}
}

// OwnerScan is the reference configuration for per-token ownerOf reads.
func OwnerScan() Config {
	return Config{Name: "owner_scan", MaxRetries: 10, Delay: 250 * time.Millisecond}
}

// Refresh is the reference configuration for metadata refresh requests.
func Refresh() Config {
	return Config{Name: "refresh", MaxRetries: 5, Delay: time.Second}
}

func (c Config) name() string {
	if c.Name == "" {
		return "default"
	}
	return c.Name
}

// Do runs op until it succeeds, the failure is not retryable, or the retry budget
// is exhausted. The terminal failure is returned unchanged.
//
// ctx is only consulted while waiting between attempts; an attempt already in
// flight is never interrupted. If ctx ends during a wait, Do stops and returns an
// error wrapping both ctx.Err() and the last failure.
func Do[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var zero T

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	name := cfg.name()

	for attempt := 1; ; attempt++ {
		v, err := op()
		if err == nil {
			if attempt > 1 {
				log.Debug().
					Str("operation", name).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return v, nil
		}

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}

		if attempt > cfg.MaxRetries {
			retryExhaustedTotal.WithLabelValues(name).Inc()
			log.Warn().
				Err(err).
				Str("operation", name).
				Int("attempts", attempt).
				Msg("Retry attempts exhausted")
			return zero, err
		}

		retriesTotal.WithLabelValues(name).Inc()
		log.Debug().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Dur("delay", cfg.Delay).
			Msg("Retrying after delay")

		if cfg.OnRetry != nil {
			cfg.OnRetry(Attempt{Made: attempt, Max: cfg.MaxRetries + 1, Delay: cfg.Delay, Err: err})
		}

		if serr := sleep(ctx, cfg.Delay); serr != nil {
			log.Warn().
				Str("operation", name).
				Int("attempt", attempt).
				Msg("Context ended during retry delay")
			return zero, &AbortedError{Attempts: attempt, Cause: serr, Last: err}
		}
	}
}

// DoErr is Do for operations without a result value.
func DoErr(ctx context.Context, cfg Config, op func() error) error {
	_, err := Do(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
