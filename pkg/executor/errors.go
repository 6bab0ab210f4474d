package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatchSize indicates a batch size below 1.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")

	// ErrInvalidStartBatch indicates a start batch below 1.
	ErrInvalidStartBatch = errors.New("start batch must be at least 1")

	// ErrReverted indicates a confirmed transaction with a failed status.
	// Ledgers wrap it; the executor does not retry it.
	ErrReverted = errors.New("transaction reverted")
)

// BatchSubmissionFailedError halts a run. ResumeFrom is the start batch to
// pass to a new run.
type BatchSubmissionFailedError struct {
	BatchIndex int
	ResumeFrom int
	Err        error
}

// Error implements the error interface.
func (e *BatchSubmissionFailedError) Error() string {
	return fmt.Sprintf("batch %d submission failed (resume from %d): %v", e.BatchIndex, e.ResumeFrom, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BatchSubmissionFailedError) Unwrap() error {
	return e.Err
}
