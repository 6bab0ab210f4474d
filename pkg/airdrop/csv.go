// Package airdrop builds operation lists for the batch executor from CSV
// exports, season tier lists and on-chain holder scans.
package airdrop

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/Sternrassler/contractooor/pkg/executor"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidRow indicates a CSV row that cannot be turned into an operation.
var ErrInvalidRow = errors.New("invalid airdrop row")

// ParseCSV reads holder,tokenId,amount rows. The first row is a header and is
// skipped. Rows with fewer than three columns are rejected.
func ParseCSV(r io.Reader) ([]executor.Operation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var ops []executor.Operation
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 {
			continue
		}

		op, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseRow(record []string) (executor.Operation, error) {
	if len(record) < 3 {
		return executor.Operation{}, fmt.Errorf("%w: want 3 columns, got %d", ErrInvalidRow, len(record))
	}

	holder := strings.TrimSpace(record[0])
	if !common.IsHexAddress(holder) {
		return executor.Operation{}, fmt.Errorf("%w: bad address %q", ErrInvalidRow, holder)
	}
	tokenID, ok := new(big.Int).SetString(strings.TrimSpace(record[1]), 10)
	if !ok || tokenID.Sign() < 0 {
		return executor.Operation{}, fmt.Errorf("%w: bad token id %q", ErrInvalidRow, record[1])
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(record[2]), 10)
	if !ok || amount.Sign() <= 0 {
		return executor.Operation{}, fmt.Errorf("%w: bad amount %q", ErrInvalidRow, record[2])
	}

	return executor.Operation{
		Destination: common.HexToAddress(holder),
		TokenID:     tokenID,
		Quantity:    amount,
	}, nil
}

// DropSentinels removes operations addressed to the zero address.
func DropSentinels(ops []executor.Operation) []executor.Operation {
	out := make([]executor.Operation, 0, len(ops))
	for _, op := range ops {
		if op.Destination == (common.Address{}) {
			continue
		}
		out = append(out, op)
	}
	return out
}
