package executor

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Partition splits ops into consecutive batches of size, numbered from 1.
// The last batch may be shorter.
func Partition(ops []Operation, size int) ([]Batch, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, size)
	}

	batches := make([]Batch, 0, (len(ops)+size-1)/size)
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		batches = append(batches, Batch{
			Index:      len(batches) + 1,
			Operations: ops[start:end:end],
		})
	}
	return batches, nil
}

// RunID derives a stable identifier for an operation list and batch size, so a
// resumed run reuses the idempotency keys of the run it continues.
func RunID(ops []Operation, size int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "size=%d", size)
	for _, op := range ops {
		b.WriteByte('|')
		b.WriteString(op.Key())
		b.WriteByte('x')
		b.WriteString(bigString(op.Quantity))
	}
	return hexutil.Encode(crypto.Keccak256([]byte(b.String()))[:8])
}

func idempotencyKey(runID string, batch int) string {
	return fmt.Sprintf("%s/%d", runID, batch)
}
