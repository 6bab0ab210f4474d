package opensea

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"slices"
	"strings"
)

// TokenOwner pairs a token id with its current owner.
type TokenOwner struct {
	TokenID string
	Owner   string
}

// OwnersOf takes the most recent owner of every document and returns them
// ordered by numeric token id.
func OwnersOf(metas []Metadata) ([]TokenOwner, error) {
	out := make([]TokenOwner, 0, len(metas))
	for _, m := range metas {
		if m.ID == "" {
			return nil, fmt.Errorf("token id missing for %q", m.Name)
		}
		if len(m.Owners) == 0 {
			return nil, fmt.Errorf("no owners for %q", m.Name)
		}
		out = append(out, TokenOwner{TokenID: m.ID, Owner: m.Owners[len(m.Owners)-1].Owner.Address})
	}

	slices.SortStableFunc(out, func(a, b TokenOwner) int {
		x, okA := new(big.Int).SetString(a.TokenID, 10)
		y, okB := new(big.Int).SetString(b.TokenID, 10)
		if okA && okB {
			return x.Cmp(y)
		}
		return strings.Compare(a.TokenID, b.TokenID)
	})
	return out, nil
}

// WriteOwnersCSV writes tokenId,ownerOf rows with a header.
func WriteOwnersCSV(w io.Writer, owners []TokenOwner) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"tokenId", "ownerOf"}); err != nil {
		return err
	}
	for _, o := range owners {
		if err := cw.Write([]string{o.TokenID, o.Owner}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOwnersJSON writes the owner addresses as an indented JSON array.
func WriteOwnersJSON(w io.Writer, owners []TokenOwner) error {
	addrs := make([]string, len(owners))
	for i, o := range owners {
		addrs[i] = o.Owner
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(addrs)
}
