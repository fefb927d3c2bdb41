package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/messageboard/internal/board"
	"github.com/jmehdipour/messageboard/internal/model"
)

// BoardRepository loads boards by replaying their events and saves the
// events a command staged.
type BoardRepository interface {
	Load(ctx context.Context, boardID string) (*board.Board, error)
	Save(ctx context.Context, b *board.Board) ([]model.Event, error)
}

type BoardRepositoryImpl struct {
	events EventLog
}

var _ BoardRepository = (*BoardRepositoryImpl)(nil)

func NewBoardRepository(events EventLog) *BoardRepositoryImpl {
	return &BoardRepositoryImpl{events: events}
}

// Load returns model.ErrNotFound when the board has no events.
func (r *BoardRepositoryImpl) Load(ctx context.Context, boardID string) (*board.Board, error) {
	evs, err := r.events.Read(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, fmt.Errorf("%w: board %s", model.ErrNotFound, boardID)
	}
	return board.Replay(boardID, evs)
}

// Save appends the staged events expecting the version the board was loaded
// at. model.ErrConcurrency is returned unchanged; the caller reloads and
// retries. On success the staged list is cleared.
func (r *BoardRepositoryImpl) Save(ctx context.Context, b *board.Board) ([]model.Event, error) {
	staged := b.Staged()
	if len(staged) == 0 {
		return nil, nil
	}

	expected := b.LoadedVersion()
	batch := make([]model.NewEvent, 0, len(staged))
	for i, s := range staged {
		if want := expected + int64(i) + 1; s.Version != want {
			return nil, fmt.Errorf("%w: board %s staged version %d, expected %d", model.ErrIntegrity, b.ID(), s.Version, want)
		}
		ev, err := board.Encode(s.Payload)
		if err != nil {
			return nil, err
		}
		ev.Timestamp = s.Timestamp
		batch = append(batch, ev)
	}

	committed, err := r.events.Append(ctx, b.ID(), expected, batch)
	if err != nil {
		return nil, err
	}
	b.MarkCommitted()
	return committed, nil
}
