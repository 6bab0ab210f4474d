package evm

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner returns a SignerFn for key on chainID together with its address.
func KeySigner(key *ecdsa.PrivateKey, chainID *big.Int) (SignerFn, common.Address) {
	signer := types.LatestSignerForChainID(chainID)
	return func(tx *types.Transaction) (*types.Transaction, error) {
		return types.SignTx(tx, signer, key)
	}, crypto.PubkeyToAddress(key.PublicKey)
}

// ParsePrivateKey parses a hex private key with or without 0x prefix.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(strings.TrimPrefix(s, "0x"))
	if h == "" {
		return nil, errors.New("empty private key")
	}
	return crypto.HexToECDSA(h)
}
