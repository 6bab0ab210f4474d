package checkpoint

import (
	"fmt"
	"math/big"
	"time"

	"github.com/Sternrassler/contractooor/pkg/executor"
)

// Status is the lifecycle state of a run checkpoint.
type Status string

const (
	StatusRunning  Status = "running"
	StatusHalted   Status = "halted"
	StatusComplete Status = "complete"
)

// Run is the persisted progress of a batch run. Big integers are stored as
// decimal strings.
type Run struct {
	RunID        string    `json:"run_id"`
	Status       Status    `json:"status"`
	CurrentBatch int       `json:"current_batch"`
	Batches      int       `json:"batches,omitempty"`
	TotalFees    string    `json:"total_fees"`
	TotalGas     string    `json:"total_gas"`
	Count        int       `json:"count"`
	LastTx       string    `json:"last_tx,omitempty"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FromState captures s for runID.
func FromState(runID string, s executor.State) *Run {
	return &Run{
		RunID:        runID,
		Status:       StatusRunning,
		CurrentBatch: s.CurrentBatch,
		TotalFees:    decimal(s.TotalFees),
		TotalGas:     decimal(s.TotalGas),
		Count:        s.Count,
		UpdatedAt:    time.Now().UTC(),
	}
}

// State restores the executor state.
func (r *Run) State() (executor.State, error) {
	fees, ok := new(big.Int).SetString(orZero(r.TotalFees), 10)
	if !ok {
		return executor.State{}, fmt.Errorf("%w: total_fees %q", ErrInvalidCheckpoint, r.TotalFees)
	}
	gas, ok := new(big.Int).SetString(orZero(r.TotalGas), 10)
	if !ok {
		return executor.State{}, fmt.Errorf("%w: total_gas %q", ErrInvalidCheckpoint, r.TotalGas)
	}
	if r.CurrentBatch < 0 || r.Count < 0 {
		return executor.State{}, fmt.Errorf("%w: negative counters", ErrInvalidCheckpoint)
	}

	return executor.State{
		CurrentBatch: r.CurrentBatch,
		TotalFees:    fees,
		TotalGas:     gas,
		Count:        r.Count,
	}, nil
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
