// Package pipeline runs a function over a stream of inputs with a hard cap on
// the number of calls in flight.
//
// Dispatch follows the input order; outputs are collected in completion order.
// A leaf failure is either isolated (logged and recorded, the run continues) or
// fatal to the run, depending on the Policy.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var (
	inFlightGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "contractooor_pipeline_in_flight",
		Help: "Number of pipeline calls currently in flight",
	}, []string{"pipeline"})

	leafFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractooor_pipeline_leaf_failures_total",
		Help: "Total number of failed pipeline leaf calls",
	}, []string{"pipeline"})
)

// Policy decides what a leaf failure does to the run.
type Policy int

const (
	// IsolateFailures records the failure and keeps dispatching.
	IsolateFailures Policy = iota

	// FailFast stops dispatch on the first failure and returns it.
	FailFast
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case IsolateFailures:
		return "isolate"
	case FailFast:
		return "fail_fast"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Options configures a pipeline run.
type Options struct {
	// Name labels metrics and log lines.
	Name string

	// Concurrency is the maximum number of calls in flight. Values below 1
	// are treated as 1.
	Concurrency int

	// Policy selects leaf failure handling.
	Policy Policy
}

func (o Options) concurrency() int {
	if o.Concurrency < 1 {
		return 1
	}
	return o.Concurrency
}

func (o Options) name() string {
	if o.Name == "" {
		return "default"
	}
	return o.Name
}

// Failure records one isolated leaf failure.
type Failure[In any] struct {
	Index int
	Item  In
	Err   error
}

// Result holds the outcome of a Map run.
type Result[In, Out any] struct {
	// Outputs in completion order.
	Outputs []Out

	// Failures in completion order. Always empty under FailFast.
	Failures []Failure[In]
}

// LeafError is returned by FailFast runs.
type LeafError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *LeafError) Error() string {
	return fmt.Sprintf("pipeline item %d failed: %v", e.Index, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *LeafError) Unwrap() error {
	return e.Err
}

// Map applies fn to every item with at most opts.Concurrency calls in flight.
//
// Cancelling ctx stops dispatch of further items. Calls already in flight run
// to completion on a context that carries ctx's values but not its
// cancellation; Map waits for them and returns the partial Result together with
// ctx.Err(). Under FailFast the first failure does the same and is returned as
// *LeafError.
func Map[In, Out any](ctx context.Context, items iter.Seq[In], fn func(context.Context, In) (Out, error), opts Options) (*Result[In, Out], error) {
	res := &Result[In, Out]{}
	var mu sync.Mutex

	failures, err := run(ctx, items, fn, opts, func(out Out) {
		mu.Lock()
		res.Outputs = append(res.Outputs, out)
		mu.Unlock()
	})
	res.Failures = failures
	return res, err
}

// ForEach is Map for side-effecting calls without an output.
func ForEach[In any](ctx context.Context, items iter.Seq[In], fn func(context.Context, In) error, opts Options) ([]Failure[In], error) {
	return run(ctx, items, func(ctx context.Context, item In) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	}, opts, func(struct{}) {})
}

func run[In, Out any](ctx context.Context, items iter.Seq[In], fn func(context.Context, In) (Out, error), opts Options, emit func(Out)) ([]Failure[In], error) {
	name := opts.name()
	logger := logging.NewLogger("pipeline").With().Str("pipeline", name).Logger()
	inFlight := inFlightGauge.WithLabelValues(name)

	sem := semaphore.NewWeighted(int64(opts.concurrency()))
	work := context.WithoutCancel(ctx)
	dispatch, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures []Failure[In]
		fatal    *LeafError
		index    int
	)

	for item := range items {
		if dispatch.Err() != nil {
			break
		}
		if err := sem.Acquire(dispatch, 1); err != nil {
			break
		}

		i := index
		index++
		wg.Add(1)
		inFlight.Inc()

		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer inFlight.Dec()

			out, err := fn(work, item)
			if err == nil {
				emit(out)
				return
			}

			leafFailuresTotal.WithLabelValues(name).Inc()
			mu.Lock()
			defer mu.Unlock()

			if opts.Policy == FailFast {
				if fatal == nil {
					fatal = &LeafError{Index: i, Err: err}
					stopDispatch()
				}
				return
			}

			logger.Warn().Err(err).Int("index", i).Msg("Pipeline item failed")
			failures = append(failures, Failure[In]{Index: i, Item: item, Err: err})
		}()
	}

	wg.Wait()

	if fatal != nil {
		logger.Error().Err(fatal.Err).Int("index", fatal.Index).Msg("Pipeline stopped on failure")
		return failures, fatal
	}
	if err := ctx.Err(); err != nil {
		logger.Warn().Err(err).Int("dispatched", index).Msg("Pipeline cancelled")
		return failures, err
	}

	logger.Debug().
		Int("dispatched", index).
		Int("failed", len(failures)).
		Msg("Pipeline complete")
	return failures, nil
}
