package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/jmoiron/sqlx"
)

// CheckpointRepository persists the position and state of feed consumers.
type CheckpointRepository interface {
	// LoadCheckpoint returns the stored checkpoint and whether one exists.
	LoadCheckpoint(ctx context.Context, name string) (model.Checkpoint, bool, error)

	// SaveCheckpoint writes position and state together, as one unit, if the
	// stored position still equals expected (0 when none is stored).
	// Otherwise it returns model.ErrConcurrency and writes nothing.
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint, expected int64) error
}

// SQLCheckpointRepository keeps checkpoints in the event store database.
type SQLCheckpointRepository struct {
	db      *sqlx.DB
	dialect dialect
}

var _ CheckpointRepository = (*SQLCheckpointRepository)(nil)

func NewSQLCheckpointRepository(db *sqlx.DB) *SQLCheckpointRepository {
	return &SQLCheckpointRepository{db: db, dialect: dialectOf(db)}
}

func (r *SQLCheckpointRepository) LoadCheckpoint(ctx context.Context, name string) (model.Checkpoint, bool, error) {
	var cp model.Checkpoint
	err := r.db.GetContext(ctx, &cp, `SELECT name, position, state FROM checkpoints WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{Name: name}, false, nil
	}
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	return cp, true, nil
}

func (r *SQLCheckpointRepository) SaveCheckpoint(ctx context.Context, cp model.Checkpoint, expected int64) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current int64
		err := tx.GetContext(ctx, &current,
			`SELECT position FROM checkpoints WHERE name = ?`+r.dialect.forUpdate, cp.Name)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read checkpoint %s: %w", cp.Name, err)
		}
		if current != expected {
			return fmt.Errorf("%w: checkpoint %s is at %d, expected %d", model.ErrConcurrency, cp.Name, current, expected)
		}

		_, err = tx.ExecContext(ctx, r.dialect.upsertCheckpoint, cp.Name, cp.Position, cp.State, time.Now().UnixNano())
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: checkpoint %s written concurrently", model.ErrConcurrency, cp.Name)
			}
			return fmt.Errorf("write checkpoint %s: %w", cp.Name, err)
		}
		return nil
	})
}
