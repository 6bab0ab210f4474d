// Package executor submits large operation lists on-chain in fixed-size
// batches, one aggregate transaction per batch, and tracks cumulative cost.
//
// Batches are processed strictly in ascending order with a single batch in
// flight. A run that halts reports how far it got and which batch to resume
// from; earlier batches are never re-submitted.
package executor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Operation is one transfer to a destination.
type Operation struct {
	Destination common.Address
	TokenID     *big.Int
	Quantity    *big.Int
}

// Key identifies the operation by destination and token.
func (o Operation) Key() string {
	return o.Destination.Hex() + ":" + bigString(o.TokenID)
}

// Batch is a 1-based slice of the operation list.
type Batch struct {
	Index      int
	Operations []Operation
}

// FailurePolicy selects the aggregate call's behavior on a single reverting call.
type FailurePolicy int

const (
	// Strict reverts the whole batch when any call reverts.
	Strict FailurePolicy = iota

	// BestEffort lets sibling calls apply when one reverts.
	BestEffort
)

// String implements fmt.Stringer.
func (p FailurePolicy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "strict"
}

// Call is one encoded operation against the target contract.
type Call struct {
	Target common.Address
	Data   []byte
}

// Payload is an encoded aggregate call.
type Payload struct {
	To    common.Address
	Data  []byte
	Calls int
}

// Submission is one aggregate transaction request. Submissions with the same
// Key must result in at most one transaction landing on-chain.
type Submission struct {
	Key        string
	BatchIndex int
	Payload    Payload
	GasLimit   uint64
}

// TxHandle references a submitted transaction.
type TxHandle struct {
	Hash  common.Hash
	Nonce uint64
}

// Receipt is the confirmed outcome of a submission.
type Receipt struct {
	Hash              common.Hash
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Confirmations     uint64
}

// Ledger is the chain client collaborator. Implementations own signing.
type Ledger interface {
	EncodeCall(op Operation) (Call, error)
	EncodeAggregate(calls []Call, policy FailurePolicy) (Payload, error)
	EstimateGas(ctx context.Context, payload Payload) (uint64, error)
	Submit(ctx context.Context, sub Submission) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, tx TxHandle) (Receipt, error)
}

// State is the accumulator folded over the batches of a run.
type State struct {
	// CurrentBatch is the index of the last batch processed or skipped.
	CurrentBatch int
	TotalFees    *big.Int
	TotalGas     *big.Int
	Count        int
}

// NewState returns the state before batch start.
func NewState(start int) State {
	return State{
		CurrentBatch: start - 1,
		TotalFees:    new(big.Int),
		TotalGas:     new(big.Int),
	}
}

// NextBatch returns the index of the next batch to process.
func (s State) NextBatch() int {
	return s.CurrentBatch + 1
}

func (s State) skip(b Batch) State {
	s.CurrentBatch = b.Index
	return s
}

func (s State) apply(b Batch, r Receipt) State {
	gas := new(big.Int).SetUint64(r.GasUsed)

	next := State{
		CurrentBatch: b.Index,
		TotalGas:     new(big.Int).Add(orZero(s.TotalGas), gas),
		TotalFees:    new(big.Int).Set(orZero(s.TotalFees)),
		Count:        s.Count + len(b.Operations),
	}
	if r.EffectiveGasPrice != nil {
		next.TotalFees.Add(next.TotalFees, new(big.Int).Mul(gas, r.EffectiveGasPrice))
	}
	return next
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
