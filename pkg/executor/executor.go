package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/Sternrassler/contractooor/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for batch execution.
var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractooor_batches_total",
		Help: "Total batches by result (confirmed, failed, skipped)",
	}, []string{"result"})

	batchGasUsed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contractooor_batch_gas_used",
		Help:    "Gas used per confirmed batch",
		Buckets: prometheus.ExponentialBuckets(100_000, 2, 10),
	})

	operationsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contractooor_operations_submitted_total",
		Help: "Total operations confirmed on-chain",
	})
)

// Config holds the executor configuration.
type Config struct {
	// BatchSize is the number of operations per aggregate transaction.
	BatchSize int

	// Policy selects strict or best-effort aggregate calls.
	Policy FailurePolicy

	// RunID prefixes idempotency keys. Empty derives one from the operations.
	RunID string

	// Submit guards estimate, submission and confirmation of one batch.
	// Zero uses retry.Submission.
	Submit retry.Config
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize: 100,
		Policy:    Strict,
		Submit:    retry.Submission(),
	}
}

// Executor drives batches through a Ledger.
type Executor struct {
	ledger Ledger
	config Config
	sink   ProgressSink
	logger zerolog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSink sets the progress sink.
func WithSink(sink ProgressSink) Option {
	return func(e *Executor) {
		e.sink = sink
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// New creates an executor.
func New(ledger Ledger, cfg Config, opts ...Option) (*Executor, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, cfg.BatchSize)
	}
	if cfg.Submit.Name == "" && cfg.Submit.MaxRetries == 0 && cfg.Submit.Delay == 0 {
		cfg.Submit = retry.Submission()
	}
	if cfg.Submit.Retryable == nil {
		cfg.Submit.Retryable = submissionRetryable
	}

	e := &Executor{
		ledger: ledger,
		config: cfg,
		sink:   nopSink{},
		logger: logging.NewLogger("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs ops starting at batch start with zeroed counters. Batches
// before start are skipped without touching the chain.
func (e *Executor) Execute(ctx context.Context, ops []Operation, start int) (State, error) {
	if start < 1 {
		return State{}, fmt.Errorf("%w: got %d", ErrInvalidStartBatch, start)
	}
	return e.run(ctx, ops, NewState(1), start)
}

// Resume continues a halted run from prev.NextBatch(), carrying the counters
// of prev forward.
func (e *Executor) Resume(ctx context.Context, ops []Operation, prev State) (State, error) {
	start := prev.NextBatch()
	if start < 1 {
		return State{}, fmt.Errorf("%w: got %d", ErrInvalidStartBatch, start)
	}
	state := prev
	state.TotalFees = new(big.Int).Set(orZero(prev.TotalFees))
	state.TotalGas = new(big.Int).Set(orZero(prev.TotalGas))
	return e.run(ctx, ops, state, start)
}

func (e *Executor) run(ctx context.Context, ops []Operation, state State, start int) (State, error) {
	batches, err := Partition(ops, e.config.BatchSize)
	if err != nil {
		return state, err
	}

	runID := e.config.RunID
	if runID == "" {
		runID = RunID(ops, e.config.BatchSize)
	}
	logger := e.logger.With().Str("run_id", runID).Logger()

	logger.Info().
		Int("operations", len(ops)).
		Int("batches", len(batches)).
		Int("batch_size", e.config.BatchSize).
		Int("start_batch", start).
		Str("policy", e.config.Policy.String()).
		Msg("Starting batch execution")

	startTime := time.Now()
	for _, batch := range batches {
		if batch.Index < start {
			state = state.skip(batch)
			batchesTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if err := ctx.Err(); err != nil {
			return state, e.halt(ctx, batch, err)
		}

		receipt, err := e.submit(ctx, runID, batch)
		if err != nil {
			batchesTotal.WithLabelValues("failed").Inc()
			return state, e.halt(ctx, batch, err)
		}

		state = state.apply(batch, receipt)
		batchesTotal.WithLabelValues("confirmed").Inc()
		batchGasUsed.Observe(float64(receipt.GasUsed))
		operationsSubmittedTotal.Add(float64(len(batch.Operations)))

		logger.Info().
			Int("batch", batch.Index).
			Int("of", len(batches)).
			Str("tx", receipt.Hash.Hex()).
			Uint64("gas_used", receipt.GasUsed).
			Str("total_fees_wei", state.TotalFees.String()).
			Int("count", state.Count).
			Msg("Batch confirmed")

		e.sink.OnBatch(ctx, Progress{
			BatchIndex: batch.Index,
			Batches:    len(batches),
			Receipt:    receipt,
			State:      state,
		})
	}

	logger.Info().
		Int("count", state.Count).
		Str("total_gas", state.TotalGas.String()).
		Str("total_fees_wei", state.TotalFees.String()).
		Dur("duration", time.Since(startTime)).
		Msg("Batch execution complete")

	e.sink.OnComplete(ctx, state)
	return state, nil
}

// submit encodes, estimates, submits and confirms one batch under the
// submission retry budget.
func (e *Executor) submit(ctx context.Context, runID string, batch Batch) (Receipt, error) {
	calls := make([]Call, 0, len(batch.Operations))
	for _, op := range batch.Operations {
		call, err := e.ledger.EncodeCall(op)
		if err != nil {
			return Receipt{}, fmt.Errorf("encode operation %s: %w", op.Key(), err)
		}
		calls = append(calls, call)
	}

	payload, err := e.ledger.EncodeAggregate(calls, e.config.Policy)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode aggregate: %w", err)
	}

	sub := Submission{
		Key:        idempotencyKey(runID, batch.Index),
		BatchIndex: batch.Index,
		Payload:    payload,
	}

	return retry.Do(ctx, e.config.Submit, func() (Receipt, error) {
		if sub.GasLimit == 0 {
			gas, err := e.ledger.EstimateGas(ctx, payload)
			if err != nil {
				return Receipt{}, fmt.Errorf("estimate gas: %w", err)
			}
			sub.GasLimit = gas
		}

		tx, err := e.ledger.Submit(ctx, sub)
		if err != nil {
			return Receipt{}, fmt.Errorf("submit: %w", err)
		}

		e.logger.Debug().
			Int("batch", batch.Index).
			Str("tx", tx.Hash.Hex()).
			Uint64("nonce", tx.Nonce).
			Msg("Batch submitted, awaiting confirmation")

		receipt, err := e.ledger.AwaitConfirmation(ctx, tx)
		if err != nil {
			return Receipt{}, fmt.Errorf("await confirmation of %s: %w", tx.Hash.Hex(), err)
		}
		return receipt, nil
	})
}

func (e *Executor) halt(ctx context.Context, batch Batch, err error) error {
	failure := &BatchSubmissionFailedError{
		BatchIndex: batch.Index,
		ResumeFrom: batch.Index,
		Err:        err,
	}

	e.logger.Error().
		Err(err).
		Int("batch", batch.Index).
		Int("resume_from", failure.ResumeFrom).
		Msg("Batch execution halted")

	e.sink.OnError(ctx, failure)
	return failure
}

func submissionRetryable(err error) bool {
	return !errors.Is(err, ErrReverted) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
