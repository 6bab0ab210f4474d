package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/contractooor/pkg/executor"
	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/rs/zerolog"
)

// Sink is an executor.ProgressSink that writes a run checkpoint after every
// confirmed batch, on halt and on completion. Write failures are logged and
// never stop the run.
type Sink struct {
	store  *Store
	runID  string
	logger zerolog.Logger
}

var _ executor.ProgressSink = (*Sink)(nil)

// NewSink creates a sink writing checkpoints of runID to store.
func NewSink(store *Store, runID string) *Sink {
	return &Sink{
		store:  store,
		runID:  runID,
		logger: logging.ForRun("checkpoint", runID),
	}
}

// OnBatch implements executor.ProgressSink.
func (s *Sink) OnBatch(ctx context.Context, p executor.Progress) {
	run := FromState(s.runID, p.State)
	run.Batches = p.Batches
	run.LastTx = p.Receipt.Hash.Hex()
	s.save(context.WithoutCancel(ctx), run)
}

// OnError implements executor.ProgressSink. The stored counters stay at the
// last confirmed batch.
func (s *Sink) OnError(ctx context.Context, err error) {
	ctx = context.WithoutCancel(ctx)

	run, loadErr := s.store.LoadRun(ctx, s.runID)
	if loadErr != nil {
		start := 1
		var failed *executor.BatchSubmissionFailedError
		if errors.As(err, &failed) {
			start = failed.ResumeFrom
		}
		run = FromState(s.runID, executor.NewState(start))
	}
	run.Status = StatusHalted
	run.Error = err.Error()
	run.UpdatedAt = time.Now().UTC()
	s.save(ctx, run)
}

// OnComplete implements executor.ProgressSink.
func (s *Sink) OnComplete(ctx context.Context, st executor.State) {
	run := FromState(s.runID, st)
	run.Status = StatusComplete
	s.save(context.WithoutCancel(ctx), run)
}

func (s *Sink) save(ctx context.Context, run *Run) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.store.SaveRun(ctx, run); err != nil {
		s.logger.Warn().Err(err).Int("batch", run.CurrentBatch).Msg("Failed to write checkpoint")
		return
	}
	s.logger.Debug().
		Int("batch", run.CurrentBatch).
		Str("status", string(run.Status)).
		Msg("Checkpoint written")
}
