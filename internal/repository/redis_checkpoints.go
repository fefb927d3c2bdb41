package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	fieldPosition  = "position"
	fieldState     = "state"
	fieldUpdatedAt = "updated_at"
)

// RedisCheckpointRepository keeps each checkpoint in one Redis hash, so
// position and state are always written by a single command.
type RedisCheckpointRepository struct {
	rdb    *redis.Client
	prefix string
}

var _ CheckpointRepository = (*RedisCheckpointRepository)(nil)

func NewRedisCheckpointRepository(rdb *redis.Client, prefix string) *RedisCheckpointRepository {
	if prefix == "" {
		prefix = "mb:checkpoint:"
	}
	return &RedisCheckpointRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisCheckpointRepository) key(name string) string { return r.prefix + name }

func (r *RedisCheckpointRepository) LoadCheckpoint(ctx context.Context, name string) (model.Checkpoint, bool, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key(name)).Result()
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	if len(vals) == 0 {
		return model.Checkpoint{Name: name}, false, nil
	}
	pos, err := strconv.ParseInt(vals[fieldPosition], 10, 64)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("checkpoint %s: bad position %q: %w", name, vals[fieldPosition], err)
	}
	var state []byte
	if s, ok := vals[fieldState]; ok && s != "" {
		state = []byte(s)
	}
	return model.Checkpoint{Name: name, Position: pos, State: state}, true, nil
}

// SaveCheckpoint uses WATCH/MULTI so a concurrent writer makes the
// transaction fail instead of overwriting.
func (r *RedisCheckpointRepository) SaveCheckpoint(ctx context.Context, cp model.Checkpoint, expected int64) error {
	key := r.key(cp.Name)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldPosition).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read checkpoint %s: %w", cp.Name, err)
		}
		if current != expected {
			return fmt.Errorf("%w: checkpoint %s is at %d, expected %d", model.ErrConcurrency, cp.Name, current, expected)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldPosition, cp.Position,
				fieldState, cp.State,
				fieldUpdatedAt, time.Now().UnixNano(),
			)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: checkpoint %s written concurrently", model.ErrConcurrency, cp.Name)
	}
	return err
}
