package airdrop

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/big"
	"sync"

	"github.com/Sternrassler/contractooor/pkg/chain/evm"
	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/Sternrassler/contractooor/pkg/pipeline"
	"github.com/Sternrassler/contractooor/pkg/retry"
	"github.com/ethereum/go-ethereum/common"
)

// OwnerReader reads an enumerable ERC-721 collection. OwnerOf of an unminted
// token fails with evm.ErrCallReverted.
type OwnerReader interface {
	TotalSupply(ctx context.Context) (*big.Int, error)
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
}

// ScanOptions configures a holder scan.
type ScanOptions struct {
	// Concurrency bounds in-flight ownerOf calls.
	Concurrency int

	// Retry guards every ownerOf call.
	Retry retry.Config
}

// DefaultScanOptions returns the reference configuration.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{Concurrency: 20, Retry: retry.OwnerScan()}
}

// Thresholds are the minimum holdings per tier. Relic is awarded separately.
var Thresholds = map[Tier]int{
	Bunny:       1,
	BunnyKnight: 3,
	BunnyDuke:   7,
	RoyalBunny:  12,
}

// ScanHolders counts tokens held per owner. Collections that have a token 0
// are scanned over 0..supply-1, others over 1..supply. Any ownerOf call that
// fails after its retries fails the scan; reverts are not retried.
func ScanHolders(ctx context.Context, r OwnerReader, opts ScanOptions) (map[common.Address]int, error) {
	logger := logging.NewLogger("holder_scan")
	opts.Retry = skipReverts(opts.Retry)

	supply, err := retry.Do(ctx, opts.Retry, func() (*big.Int, error) {
		return r.TotalSupply(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("total supply: %w", err)
	}

	first, err := FirstTokenID(ctx, r, opts.Retry)
	if err != nil {
		return nil, err
	}
	last := first + supply.Int64() - 1

	logger.Info().
		Str("supply", supply.String()).
		Int64("first_token", first).
		Msg("Scanning holders")

	var (
		mu      sync.Mutex
		holders = make(map[common.Address]int)
	)
	_, err = pipeline.ForEach(ctx, tokenRange(first, last), func(ctx context.Context, id int64) error {
		owner, err := retry.Do(ctx, opts.Retry, func() (common.Address, error) {
			return r.OwnerOf(ctx, big.NewInt(id))
		})
		if err != nil {
			return fmt.Errorf("owner of %d: %w", id, err)
		}
		mu.Lock()
		holders[owner]++
		mu.Unlock()
		return nil
	}, pipeline.Options{Name: "owner_scan", Concurrency: opts.Concurrency, Policy: pipeline.FailFast})
	if err != nil {
		return nil, err
	}

	logger.Info().Int("holders", len(holders)).Msg("Holder scan complete")
	return holders, nil
}

// FirstTokenID returns 0 when token 0 exists and 1 when ownerOf(0) reverts.
// Other failures are retried under cfg and returned.
func FirstTokenID(ctx context.Context, r OwnerReader, cfg retry.Config) (int64, error) {
	_, err := retry.Do(ctx, skipReverts(cfg), func() (common.Address, error) {
		return r.OwnerOf(ctx, big.NewInt(0))
	})
	switch {
	case err == nil:
		return 0, nil
	case errors.Is(err, evm.ErrCallReverted):
		return 1, nil
	default:
		return 0, fmt.Errorf("probe token 0: %w", err)
	}
}

func skipReverts(cfg retry.Config) retry.Config {
	if cfg.Retryable == nil {
		cfg.Retryable = func(err error) bool { return !errors.Is(err, evm.ErrCallReverted) }
	}
	return cfg
}

func tokenRange(first, last int64) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for id := first; id <= last; id++ {
			if !yield(id) {
				return
			}
		}
	}
}

// BucketTiers assigns holders to every tier whose threshold they meet and all
// relic holders to Relic. Addresses are sorted within each tier.
func BucketTiers(holders map[common.Address]int, relicHolders map[common.Address]int) TierList {
	list := make(TierList, len(Tiers))
	for _, tier := range Tiers {
		list[tier] = []common.Address{}
	}

	for _, addr := range sortedAddresses(holders) {
		count := holders[addr]
		for _, tier := range Tiers {
			if threshold, ok := Thresholds[tier]; ok && count >= threshold {
				list[tier] = append(list[tier], addr)
			}
		}
	}
	list[Relic] = sortedAddresses(relicHolders)
	return list
}
