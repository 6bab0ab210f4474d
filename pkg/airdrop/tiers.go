package airdrop

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"slices"

	"github.com/Sternrassler/contractooor/pkg/executor"
	"github.com/ethereum/go-ethereum/common"
)

// Tier is a season reward level.
type Tier string

const (
	Bunny       Tier = "Bunny"
	BunnyKnight Tier = "Bunny Knight"
	BunnyDuke   Tier = "Bunny Duke"
	RoyalBunny  Tier = "Royal Bunny"
	Relic       Tier = "Relic"

	// Wildcard lists addresses that receive every tier.
	Wildcard Tier = "*"
)

// Tiers in token id order: the n-th tier receives startTokenID+n.
var Tiers = []Tier{Bunny, BunnyKnight, BunnyDuke, RoyalBunny, Relic}

// TierList maps tiers to recipient addresses.
type TierList map[Tier][]common.Address

// LoadTiers decodes a JSON tier list. Unknown tiers are rejected.
func LoadTiers(r io.Reader) (TierList, error) {
	var list TierList
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode tier list: %w", err)
	}
	for tier := range list {
		if tier != Wildcard && !slices.Contains(Tiers, tier) {
			return nil, fmt.Errorf("unknown tier %q", tier)
		}
	}
	return list, nil
}

// Write encodes the list as indented JSON with every tier present.
func (l TierList) Write(w io.Writer) error {
	out := make(map[Tier][]common.Address, len(Tiers))
	for _, tier := range Tiers {
		out[tier] = append([]common.Address{}, l[tier]...)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ExpandTiers turns a tier list into one single-quantity operation per
// recipient and tier. Wildcard recipients are appended to every tier and zero
// addresses are dropped.
func ExpandTiers(list TierList, startTokenID *big.Int) []executor.Operation {
	var ops []executor.Operation
	for offset, tier := range Tiers {
		tokenID := new(big.Int).Add(startTokenID, big.NewInt(int64(offset)))

		recipients := append(slices.Clone(list[tier]), list[Wildcard]...)
		for _, addr := range recipients {
			ops = append(ops, executor.Operation{
				Destination: addr,
				TokenID:     tokenID,
				Quantity:    big.NewInt(1),
			})
		}
	}
	return DropSentinels(ops)
}

// Unique returns the distinct recipients across all tiers, sorted.
func (l TierList) Unique() []common.Address {
	seen := make(map[common.Address]struct{})
	for _, addrs := range l {
		for _, a := range addrs {
			seen[a] = struct{}{}
		}
	}
	return sortedAddresses(seen)
}

func sortedAddresses[V any](set map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}
