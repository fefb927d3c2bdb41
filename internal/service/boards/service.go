// Package boards is the application service for message boards. Every
// command loads the board, runs one command on it and saves the staged
// events; a result is only returned once the events are committed.
//
// Conflicting writes surface as model.ErrConcurrency. Retrying is up to the
// caller.
package boards

import (
	"context"
	"errors"

	"github.com/jmehdipour/messageboard/internal/board"
	"github.com/jmehdipour/messageboard/internal/metrics"
	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/jmehdipour/messageboard/internal/notify"
	"github.com/jmehdipour/messageboard/internal/repository"
	"github.com/jmehdipour/messageboard/internal/util"
	"go.uber.org/zap"
)

type Service struct {
	repo     repository.BoardRepository
	notifier notify.Notifier
	log      *zap.Logger
	newID    func() string
}

// New constructs the board service. notifier may be nil.
func New(repo repository.BoardRepository, notifier notify.Notifier, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, notifier: notifier, log: log, newID: util.NewULID}
}

// CreateBoard creates a board with a new ULID id and makes the creator its
// first administrator.
func (s *Service) CreateBoard(ctx context.Context, name, creatorID string) (string, error) {
	b, err := board.Create(s.newID(), name, creatorID)
	if err == nil {
		err = s.save(ctx, b)
	}
	s.record("create_board", err)
	if err != nil {
		return "", err
	}
	return b.ID(), nil
}

// PostMessage returns the id of the new message. replyTo, when set, must
// name a published message on the same board.
func (s *Service) PostMessage(ctx context.Context, boardID, text string, replyTo *int64, authorID string) (int64, error) {
	var id int64
	err := s.update(ctx, "post_message", boardID, func(b *board.Board) error {
		var err error
		id, err = b.PostMessage(text, replyTo, authorID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) ModerateUser(ctx context.Context, boardID, userID, actingUserID string) error {
	return s.update(ctx, "moderate_user", boardID, func(b *board.Board) error {
		return b.ModerateUser(userID, actingUserID)
	})
}

func (s *Service) ApproveMessage(ctx context.Context, boardID string, messageID int64, approverID string) error {
	return s.update(ctx, "approve_message", boardID, func(b *board.Board) error {
		return b.ApproveMessage(messageID, approverID)
	})
}

func (s *Service) RejectMessage(ctx context.Context, boardID string, messageID int64, rejecterID string) error {
	return s.update(ctx, "reject_message", boardID, func(b *board.Board) error {
		return b.RejectMessage(messageID, rejecterID)
	})
}

func (s *Service) update(ctx context.Context, command, boardID string, fn func(*board.Board) error) error {
	b, err := s.repo.Load(ctx, boardID)
	if err == nil {
		err = fn(b)
	}
	if err == nil {
		err = s.save(ctx, b)
	}
	s.record(command, err)
	return err
}

func (s *Service) save(ctx context.Context, b *board.Board) error {
	events, err := s.repo.Save(ctx, b)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	last := events[len(events)-1].NotificationID
	if err := s.notifier.Notify(context.WithoutCancel(ctx), last); err != nil {
		s.log.Warn("wake signal failed", zap.String("board", b.ID()), zap.Int64("position", last), zap.Error(err))
	}
	return nil
}

func (s *Service) record(command string, err error) {
	metrics.Commands.WithLabelValues(command, Result(err)).Inc()
	if err != nil && errors.Is(err, model.ErrIntegrity) {
		s.log.Error("event log integrity failure", zap.String("command", command), zap.Error(err))
	}
}

// Result names the outcome of a command for metrics and logs.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, model.ErrConcurrency):
		return "conflict"
	default:
		return "error"
	}
}
