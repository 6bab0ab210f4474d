// Package evm implements the executor's Ledger on an EVM JSON-RPC node:
// ERC-1155 transfers bundled through Multicall3 aggregate3, legacy
// transactions, and receipt polling for confirmation.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/contractooor/pkg/executor"
	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// Backend is the subset of ethclient.Client the ledger needs.
type Backend interface {
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// SignerFn signs a transaction for the configured sender.
type SignerFn func(tx *types.Transaction) (*types.Transaction, error)

// Config holds the ledger configuration.
type Config struct {
	// From is the sending account and the owner of the transferred tokens.
	From common.Address

	// Token is the ERC-1155 contract the operations transfer from.
	Token common.Address

	// Multicall is the aggregate contract. Zero uses Multicall3Address.
	Multicall common.Address

	// TransferData is passed as the data argument of every safeTransferFrom.
	TransferData []byte

	// GasPriceMultiplier scales the node's suggested gas price.
	GasPriceMultiplier int64

	// GasLimitNumerator and GasLimitDenominator scale the gas estimate.
	GasLimitNumerator   uint64
	GasLimitDenominator uint64

	// MinConfirmations is the number of blocks (including the inclusion
	// block) required before a receipt is reported.
	MinConfirmations uint64

	// PollInterval is the receipt polling interval.
	PollInterval time.Duration

	// ConfirmTimeout bounds one AwaitConfirmation call. On expiry the call
	// fails with ErrConfirmTimeout, which the submission retry may repeat.
	ConfirmTimeout time.Duration
}

// ErrConfirmTimeout indicates a transaction was not confirmed within
// Config.ConfirmTimeout.
var ErrConfirmTimeout = errors.New("confirmation timed out")

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Multicall:           Multicall3Address,
		GasPriceMultiplier:  2,
		GasLimitNumerator:   8,
		GasLimitDenominator: 7,
		MinConfirmations:    1,
		PollInterval:        2 * time.Second,
		ConfirmTimeout:      5 * time.Minute,
	}
}

// Ledger submits aggregate transfer transactions.
type Ledger struct {
	backend Backend
	sign    SignerFn
	config  Config
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[string]*types.Transaction
	byHash  map[common.Hash]*types.Transaction

	// attempted holds keys whose transaction reached SendTransaction at
	// least once, whatever the outcome.
	attempted map[string]bool
}

var _ executor.Ledger = (*Ledger)(nil)

// NewLedger creates a ledger.
func NewLedger(backend Backend, sign SignerFn, cfg Config) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if sign == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Token == (common.Address{}) {
		return nil, errors.New("token contract address is required")
	}

	defaults := DefaultConfig()
	if cfg.Multicall == (common.Address{}) {
		cfg.Multicall = defaults.Multicall
	}
	if cfg.GasPriceMultiplier <= 0 {
		cfg.GasPriceMultiplier = defaults.GasPriceMultiplier
	}
	if cfg.GasLimitNumerator == 0 || cfg.GasLimitDenominator == 0 {
		cfg.GasLimitNumerator = defaults.GasLimitNumerator
		cfg.GasLimitDenominator = defaults.GasLimitDenominator
	}
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = defaults.MinConfirmations
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaults.ConfirmTimeout
	}

	return &Ledger{
		backend: backend,
		sign:    sign,
		config:  cfg,
		logger:  logging.NewLogger("evm_ledger"),
		pending:   make(map[string]*types.Transaction),
		byHash:    make(map[common.Hash]*types.Transaction),
		attempted: make(map[string]bool),
	}, nil
}

// EncodeCall encodes op as safeTransferFrom(from, destination, id, quantity, data).
func (l *Ledger) EncodeCall(op executor.Operation) (executor.Call, error) {
	if op.TokenID == nil || op.Quantity == nil {
		return executor.Call{}, fmt.Errorf("operation %s: token id and quantity are required", op.Key())
	}
	data := l.config.TransferData
	if data == nil {
		data = []byte{}
	}

	packed, err := erc1155.Pack("safeTransferFrom", l.config.From, op.Destination, op.TokenID, op.Quantity, data)
	if err != nil {
		return executor.Call{}, fmt.Errorf("pack safeTransferFrom: %w", err)
	}
	return executor.Call{Target: l.config.Token, Data: packed}, nil
}

// EncodeAggregate bundles calls into one aggregate3 call. BestEffort sets
// allowFailure on every call.
func (l *Ledger) EncodeAggregate(calls []executor.Call, policy executor.FailurePolicy) (executor.Payload, error) {
	batch := make([]call3, len(calls))
	for i, c := range calls {
		batch[i] = call3{
			Target:       c.Target,
			AllowFailure: policy == executor.BestEffort,
			CallData:     c.Data,
		}
	}

	packed, err := multicall3.Pack("aggregate3", batch)
	if err != nil {
		return executor.Payload{}, fmt.Errorf("pack aggregate3: %w", err)
	}
	return executor.Payload{To: l.config.Multicall, Data: packed, Calls: len(calls)}, nil
}

// EstimateGas estimates the aggregate call from the sending account.
func (l *Ledger) EstimateGas(ctx context.Context, payload executor.Payload) (uint64, error) {
	to := payload.To
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: l.config.From,
		To:   &to,
		Data: payload.Data,
	})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

// Submit sends the aggregate transaction for sub.Key. The first call for a key
// pins nonce, gas price and signature; later calls resend the same signed
// transaction, so a key never lands twice.
//
// A "nonce too low" answer counts as submitted only when the key was sent
// before. On the first send it means another transaction took the nonce, so
// the pinned transaction is dropped and the next call rebuilds it.
func (l *Ledger) Submit(ctx context.Context, sub executor.Submission) (executor.TxHandle, error) {
	l.mu.Lock()
	tx, ok := l.pending[sub.Key]
	resend := l.attempted[sub.Key]
	l.mu.Unlock()

	if !ok {
		built, err := l.buildTx(ctx, sub)
		if err != nil {
			return executor.TxHandle{}, err
		}
		tx = built

		l.mu.Lock()
		l.pending[sub.Key] = tx
		l.byHash[tx.Hash()] = tx
		l.mu.Unlock()
	}

	err := l.backend.SendTransaction(ctx, tx)

	l.mu.Lock()
	l.attempted[sub.Key] = true
	l.mu.Unlock()

	switch {
	case err == nil:
	case alreadyKnown(err), resend && nonceTooLow(err):
		l.logger.Debug().
			Err(err).
			Str("key", sub.Key).
			Str("tx", tx.Hash().Hex()).
			Msg("Transaction already submitted")
	case nonceTooLow(err):
		l.mu.Lock()
		delete(l.pending, sub.Key)
		delete(l.attempted, sub.Key)
		l.mu.Unlock()
		l.logger.Warn().
			Str("key", sub.Key).
			Uint64("nonce", tx.Nonce()).
			Msg("Nonce taken by another transaction, rebuilding on next attempt")
		return executor.TxHandle{}, fmt.Errorf("send transaction %s: %w", tx.Hash().Hex(), err)
	default:
		return executor.TxHandle{}, fmt.Errorf("send transaction %s: %w", tx.Hash().Hex(), err)
	}

	l.logger.Info().
		Str("key", sub.Key).
		Uint64("nonce", tx.Nonce()).
		Str("tx", tx.Hash().Hex()).
		Msg("Transaction sent")

	return executor.TxHandle{Hash: tx.Hash(), Nonce: tx.Nonce()}, nil
}

func (l *Ledger) buildTx(ctx context.Context, sub executor.Submission) (*types.Transaction, error) {
	nonce, err := l.backend.PendingNonceAt(ctx, l.config.From)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	suggested, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice := new(big.Int).Mul(suggested, big.NewInt(l.config.GasPriceMultiplier))
	gasLimit := sub.GasLimit * l.config.GasLimitNumerator / l.config.GasLimitDenominator

	to := sub.Payload.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    new(big.Int),
		Data:     sub.Payload.Data,
	})

	signed, err := l.sign(tx)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// AwaitConfirmation polls for the receipt until it has MinConfirmations. A
// receipt with failed status is reported as executor.ErrReverted; no receipt
// within ConfirmTimeout as ErrConfirmTimeout.
func (l *Ledger) AwaitConfirmation(ctx context.Context, handle executor.TxHandle) (executor.Receipt, error) {
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(l.config.ConfirmTimeout)
	defer deadline.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, handle.Hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return executor.Receipt{}, fmt.Errorf("tx %s in block %s: %w", handle.Hash.Hex(), receipt.BlockNumber, executor.ErrReverted)
			}
			confirmations, err := l.confirmations(ctx, receipt)
			if err == nil && confirmations >= l.config.MinConfirmations {
				return l.toReceipt(receipt, confirmations), nil
			}
		case errors.Is(err, ethereum.NotFound):
		default:
			l.logger.Debug().Err(err).Str("tx", handle.Hash.Hex()).Msg("Receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return executor.Receipt{}, ctx.Err()
		case <-deadline.C:
			return executor.Receipt{}, fmt.Errorf("tx %s after %s: %w", handle.Hash.Hex(), l.config.ConfirmTimeout, ErrConfirmTimeout)
		case <-ticker.C:
		}
	}
}

func (l *Ledger) confirmations(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	if receipt.BlockNumber == nil {
		return 0, nil
	}
	head, err := l.backend.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	included := receipt.BlockNumber.Uint64()
	if head < included {
		return 0, nil
	}
	return head - included + 1, nil
}

func (l *Ledger) toReceipt(r *types.Receipt, confirmations uint64) executor.Receipt {
	price := r.EffectiveGasPrice
	if price == nil {
		l.mu.Lock()
		if tx, ok := l.byHash[r.TxHash]; ok {
			price = tx.GasPrice()
		}
		l.mu.Unlock()
	}

	out := executor.Receipt{
		Hash:              r.TxHash,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: price,
		Confirmations:     confirmations,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

// alreadyKnown matches node errors for a resend of a transaction that is
// already pooled.
func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction")
}

func nonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}
