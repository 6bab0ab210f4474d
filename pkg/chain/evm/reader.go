package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ErrCallReverted marks a read call the contract rejected, such as ownerOf
// for a token that was never minted.
var ErrCallReverted = errors.New("call reverted")

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader queries an enumerable ERC-721 collection.
type Reader struct {
	caller   Caller
	contract common.Address
}

// NewReader creates a reader for contract.
func NewReader(caller Caller, contract common.Address) *Reader {
	return &Reader{caller: caller, contract: contract}
}

// TotalSupply returns the number of minted tokens.
func (r *Reader) TotalSupply(ctx context.Context) (*big.Int, error) {
	out, err := r.call(ctx, "totalSupply")
	if err != nil {
		return nil, err
	}
	supply, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("totalSupply: unexpected result type %T", out[0])
	}
	return supply, nil
}

// OwnerOf returns the owner of tokenID.
func (r *Reader) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := r.call(ctx, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ownerOf: unexpected result type %T", out[0])
	}
	return owner, nil
}

func (r *Reader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := erc721.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := r.contract
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
			return nil, fmt.Errorf("call %s: %w: %w", method, ErrCallReverted, err)
		}
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := erc721.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}
