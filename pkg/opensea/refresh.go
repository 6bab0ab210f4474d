package opensea

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"sync/atomic"

	"github.com/Sternrassler/contractooor/pkg/pipeline"
	"github.com/Sternrassler/contractooor/pkg/transport"
)

// RefreshMetadata asks OpenSea to re-read the metadata of each token id of
// contract. Requests are sent one at a time; failed tokens are returned and do
// not stop the run.
func (c *Client) RefreshMetadata(ctx context.Context, contract string, tokenIDs iter.Seq[string]) ([]pipeline.Failure[string], error) {
	cfg := c.config.RefreshRetry
	if cfg.Retryable == nil {
		cfg.Retryable = transport.Retryable
	}

	var refreshed atomic.Int64
	failures, err := pipeline.ForEach(ctx, tokenIDs, func(ctx context.Context, tokenID string) error {
		target := c.endpoint(c.config.BaseURL, url.Values{"force_update": {"true"}}, "asset", contract, tokenID)
		if _, err := transport.GetBytes(ctx, c.api, target, cfg); err != nil {
			assetsTotal.WithLabelValues("refresh", "error").Inc()
			return fmt.Errorf("refresh %s/%s: %w", contract, tokenID, err)
		}
		assetsTotal.WithLabelValues("refresh", "ok").Inc()
		refreshed.Add(1)
		return nil
	}, pipeline.Options{Name: "opensea_refresh", Concurrency: 1, Policy: pipeline.IsolateFailures})

	c.logger.Info().
		Str("contract", contract).
		Int64("refreshed", refreshed.Load()).
		Int("failed", len(failures)).
		Msg("Metadata refresh finished")
	return failures, err
}

// TokenIDs yields the decimal token ids in [from, to).
func TokenIDs(from, to int64) iter.Seq[string] {
	return func(yield func(string) bool) {
		for id := from; id < to; id++ {
			if !yield(fmt.Sprint(id)) {
				return
			}
		}
	}
}

// OwnerMismatch reports a stored metadata document whose owner list differs
// from the live one.
type OwnerMismatch struct {
	Name     string
	Contract string
	TokenID  string
	Stored   []Owner
	Live     []Owner
}

// VerifyOwners compares the stored owners of each document with the first page
// of live owners.
func (c *Client) VerifyOwners(ctx context.Context, metas []Metadata) ([]OwnerMismatch, error) {
	cfg := c.config.RefreshRetry
	if cfg.Retryable == nil {
		cfg.Retryable = transport.Retryable
	}

	var mismatches []OwnerMismatch
	for _, m := range metas {
		if m.OriginalContractAddress == "" || m.OriginalTokenID == "" {
			return mismatches, fmt.Errorf("%s: original token id or contract address missing", m.Name)
		}
		if m.Owners == nil {
			return mismatches, fmt.Errorf("%s: owners missing", m.Name)
		}

		target := c.endpoint(c.config.BaseURL, nil, "asset", m.OriginalContractAddress, m.OriginalTokenID, "owners")
		live, err := transport.GetJSON[ownersPage](ctx, c.api, target, cfg)
		if err != nil {
			return mismatches, fmt.Errorf("owners of %s/%s: %w", m.OriginalContractAddress, m.OriginalTokenID, err)
		}

		if !sameOwners(m.Owners, live.Owners) {
			c.logger.Warn().
				Str("name", m.Name).
				Str("token_id", m.OriginalTokenID).
				Msg("Owner data mismatch")
			mismatches = append(mismatches, OwnerMismatch{
				Name:     m.Name,
				Contract: m.OriginalContractAddress,
				TokenID:  m.OriginalTokenID,
				Stored:   m.Owners,
				Live:     live.Owners,
			})
		}
	}
	return mismatches, nil
}

func sameOwners(a, b []Owner) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Owner.Address != b[i].Owner.Address {
			return false
		}
	}
	return true
}
