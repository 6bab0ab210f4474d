package executor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog"
)

// Progress is emitted once per confirmed batch.
type Progress struct {
	BatchIndex int
	Batches    int
	Receipt    Receipt
	State      State
}

// ProgressSink observes a run. OnComplete is called exactly once for a run
// that finishes; OnError once for a run that halts.
type ProgressSink interface {
	OnBatch(ctx context.Context, p Progress)
	OnError(ctx context.Context, err error)
	OnComplete(ctx context.Context, s State)
}

type nopSink struct{}

func (nopSink) OnBatch(context.Context, Progress) {}
func (nopSink) OnError(context.Context, error)    {}
func (nopSink) OnComplete(context.Context, State) {}

// MultiSink fans events out to several sinks in order.
type MultiSink []ProgressSink

// OnBatch implements ProgressSink.
func (m MultiSink) OnBatch(ctx context.Context, p Progress) {
	for _, s := range m {
		s.OnBatch(ctx, p)
	}
}

// OnError implements ProgressSink.
func (m MultiSink) OnError(ctx context.Context, err error) {
	for _, s := range m {
		s.OnError(ctx, err)
	}
}

// OnComplete implements ProgressSink.
func (m MultiSink) OnComplete(ctx context.Context, st State) {
	for _, s := range m {
		s.OnComplete(ctx, st)
	}
}

// LogSink reports progress as operator-facing log lines.
type LogSink struct {
	Logger zerolog.Logger
}

// OnBatch implements ProgressSink.
func (l LogSink) OnBatch(_ context.Context, p Progress) {
	l.Logger.Info().
		Int("batch", p.BatchIndex).
		Int("batches", p.Batches).
		Int("cumulative_count", p.State.Count).
		Str("cumulative_gas", p.State.TotalGas.String()).
		Str("cumulative_fees_eth", FormatEther(p.State.TotalFees)).
		Msg("Progress")
}

// OnError implements ProgressSink.
func (l LogSink) OnError(_ context.Context, err error) {
	l.Logger.Error().Err(err).Msg("Run halted")
}

// OnComplete implements ProgressSink.
func (l LogSink) OnComplete(_ context.Context, s State) {
	l.Logger.Info().
		Int("total_count", s.Count).
		Str("total_gas", s.TotalGas.String()).
		Str("total_fees_eth", FormatEther(s.TotalFees)).
		Msg("Run complete")
}

// FormatEther renders a wei amount in ether with 18 decimals.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	f := new(big.Float).SetPrec(256).SetInt(wei)
	f.Quo(f, new(big.Float).SetPrec(256).SetInt64(params.Ether))
	return f.Text('f', 18)
}
