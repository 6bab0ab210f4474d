package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound indicates no checkpoint is stored under the key
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidCheckpoint indicates the stored checkpoint is corrupted
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)

// DefaultTTL keeps checkpoints around long enough for an operator to notice a
// halted run and resume it.
const DefaultTTL = 7 * 24 * time.Hour

// Store handles checkpoint persistence with a Redis backend.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a new checkpoint store. A ttl of zero uses DefaultTTL.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis: redisClient,
		ttl:   ttl,
	}
}

// LoadRun retrieves the checkpoint of runID.
// Returns ErrNotFound if none is stored.
func (s *Store) LoadRun(ctx context.Context, runID string) (*Run, error) {
	data, err := s.get(ctx, RunKey(runID))
	if err != nil {
		return nil, err
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		CheckpointErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	return &run, nil
}

// SaveRun stores run, refreshing its TTL.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	data, err := json.Marshal(run)
	if err != nil {
		CheckpointErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return s.set(ctx, RunKey(run.RunID), data)
}

// LoadCursor returns the last cursor recorded for source.
// Returns ErrNotFound if none is stored.
func (s *Store) LoadCursor(ctx context.Context, source string) (string, error) {
	data, err := s.get(ctx, CursorKey(source))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveCursor records cursor for source.
func (s *Store) SaveCursor(ctx context.Context, source, cursor string) error {
	return s.set(ctx, CursorKey(source), []byte(cursor))
}

// Delete removes a checkpoint.
func (s *Store) Delete(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		CheckpointErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key Key) ([]byte, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CheckpointMisses.Inc()
			return nil, ErrNotFound
		}
		CheckpointErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (s *Store) set(ctx context.Context, key Key, data []byte) error {
	if err := s.redis.Set(ctx, key.String(), data, s.ttl).Err(); err != nil {
		CheckpointErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	CheckpointWrites.WithLabelValues(string(key.Kind)).Inc()
	return nil
}
