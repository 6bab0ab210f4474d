package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const gasPerCall = 30_000

var errNodeDown = errors.New("node unavailable")

// fakeLedger confirms every submission with gas proportional to the batch
// size. failures scripts submission errors per batch index.
type fakeLedger struct {
	mu         sync.Mutex
	lastCalls  int
	submitted  map[string]int
	attempts   map[int]int
	failures   map[int]int
	revert     map[int]bool
	gasPrice   *big.Int
	policies   []FailurePolicy
	submitKeys []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		submitted: make(map[string]int),
		attempts:  make(map[int]int),
		failures:  make(map[int]int),
		revert:    make(map[int]bool),
		gasPrice:  big.NewInt(2_000_000_000),
	}
}

func (f *fakeLedger) EncodeCall(op Operation) (Call, error) {
	return Call{Target: common.HexToAddress("0x01"), Data: []byte(op.Key())}, nil
}

func (f *fakeLedger) EncodeAggregate(calls []Call, policy FailurePolicy) (Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCalls = len(calls)
	f.policies = append(f.policies, policy)
	return Payload{To: common.HexToAddress("0xca11bde05977b3631167028862be2a173976ca11"), Calls: len(calls)}, nil
}

func (f *fakeLedger) EstimateGas(ctx context.Context, p Payload) (uint64, error) {
	return uint64(p.Calls) * gasPerCall, nil
}

func (f *fakeLedger) Submit(ctx context.Context, sub Submission) (TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[sub.BatchIndex]++
	if f.failures[sub.BatchIndex] > 0 {
		f.failures[sub.BatchIndex]--
		return TxHandle{}, fmt.Errorf("send batch %d: %w", sub.BatchIndex, errNodeDown)
	}

	f.submitted[sub.Key]++
	f.submitKeys = append(f.submitKeys, sub.Key)
	hash := common.BytesToHash(crypto.Keccak256([]byte(sub.Key)))
	return TxHandle{Hash: hash, Nonce: uint64(sub.BatchIndex)}, nil
}

func (f *fakeLedger) AwaitConfirmation(ctx context.Context, tx TxHandle) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.revert[int(tx.Nonce)] {
		return Receipt{}, fmt.Errorf("%s: %w", tx.Hash.Hex(), ErrReverted)
	}
	return Receipt{
		Hash:              tx.Hash,
		GasUsed:           uint64(f.lastCalls) * gasPerCall,
		EffectiveGasPrice: f.gasPrice,
		Confirmations:     1,
	}, nil
}

type recordingSink struct {
	batches   []Progress
	errs      []error
	completes []State
}

func (r *recordingSink) OnBatch(_ context.Context, p Progress) { r.batches = append(r.batches, p) }
func (r *recordingSink) OnError(_ context.Context, err error)  { r.errs = append(r.errs, err) }
func (r *recordingSink) OnComplete(_ context.Context, s State) { r.completes = append(r.completes, s) }

func makeOps(n int) []Operation {
	ops := make([]Operation, n)
	for i := range ops {
		ops[i] = Operation{
			Destination: common.BigToAddress(big.NewInt(int64(1000 + i))),
			TokenID:     big.NewInt(int64(i % 5)),
			Quantity:    big.NewInt(1),
		}
	}
	return ops
}
