// Package board holds the MessageBoard aggregate: its event variants, the
// command methods that validate and stage new events, and the replay fold
// that rebuilds it from the event log.
package board

import (
	"fmt"
	"time"

	"github.com/jmehdipour/messageboard/internal/model"
)

// FirstMessageID is the id given to the first message posted on a board.
const FirstMessageID int64 = 0

var (
	ErrMissingFieldValue = fmt.Errorf("%w: missing field value", model.ErrValidation)
	ErrMessageNotFound   = fmt.Errorf("%w: message", model.ErrNotFound)
	ErrPermissionDenied  = fmt.Errorf("%w: not an administrator", model.ErrPermissionDenied)
)

var now = func() time.Time { return time.Now().UTC() }

// Staged is an event produced by a command but not yet committed.
type Staged struct {
	Version   int64
	Payload   Payload
	Timestamp time.Time
}

// Board is rebuilt from scratch on every load and owned by a single command
// call. It must not be cached or shared.
type Board struct {
	id        string
	version   int64
	name      string
	createdBy string

	admins        map[string]struct{}
	moderated     map[string]struct{}
	pending       map[int64]struct{}
	rejected      map[int64]struct{}
	nextMessageID int64

	staged []Staged
}

// Create starts a new board. The creator becomes its first administrator in
// the same batch, so a board never exists without an admin.
func Create(id, name, createdBy string) (*Board, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: board id is required", ErrMissingFieldValue)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrMissingFieldValue)
	}
	b := &Board{id: id}
	if err := b.trigger(Created{Name: name, CreatedBy: createdBy}); err != nil {
		return nil, err
	}
	if err := b.trigger(AdministratorAdded{UserID: createdBy}); err != nil {
		return nil, err
	}
	return b, nil
}

// Replay folds committed events, in ascending version order starting at 1,
// into a fresh board.
func Replay(id string, events []model.Event) (*Board, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: board %s", model.ErrNotFound, id)
	}
	b := &Board{id: id}
	for i, ev := range events {
		if ev.OriginatorID != id {
			return nil, fmt.Errorf("%w: event %d belongs to %s, not %s", model.ErrIntegrity, ev.NotificationID, ev.OriginatorID, id)
		}
		if want := int64(i) + 1; ev.OriginatorVersion != want {
			return nil, fmt.Errorf("%w: board %s has version %d where %d was expected", model.ErrIntegrity, id, ev.OriginatorVersion, want)
		}
		p, err := Decode(ev.Type, ev.Payload)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			if _, ok := p.(Created); !ok {
				return nil, fmt.Errorf("%w: board %s starts with %s", model.ErrIntegrity, id, ev.Type)
			}
		}
		if err := b.apply(p); err != nil {
			return nil, err
		}
		b.version = ev.OriginatorVersion
	}
	return b, nil
}

func (b *Board) ID() string        { return b.id }
func (b *Board) Name() string      { return b.name }
func (b *Board) CreatedBy() string { return b.createdBy }

// Version is the highest version applied, staged events included.
func (b *Board) Version() int64 { return b.version }

func (b *Board) NextMessageID() int64 { return b.nextMessageID }

// IsAdmin reports whether the user is an administrator of the board.
func (b *Board) IsAdmin(userID string) bool {
	_, ok := b.admins[userID]
	return ok
}

// IsModerated reports whether the user's new messages need approval.
func (b *Board) IsModerated(userID string) bool {
	_, ok := b.moderated[userID]
	return ok
}

// AwaitingModeration reports whether the message is pending approval.
func (b *Board) AwaitingModeration(messageID int64) bool {
	_, ok := b.pending[messageID]
	return ok
}

// Staged returns the events produced since the board was loaded.
func (b *Board) Staged() []Staged {
	out := make([]Staged, len(b.staged))
	copy(out, b.staged)
	return out
}

// LoadedVersion is the version the board had before any staged events, i.e.
// the expected version for the next append.
func (b *Board) LoadedVersion() int64 { return b.version - int64(len(b.staged)) }

// MarkCommitted drops the staged list once the events are durable.
func (b *Board) MarkCommitted() { b.staged = nil }

// PostMessage stages a MessagePosted event and returns the new message id.
// Whether the message needs moderation is decided now, from the author's
// current status.
func (b *Board) PostMessage(text string, replyTo *int64, authorID string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: message text must be non-blank", ErrMissingFieldValue)
	}
	if replyTo != nil {
		if !b.published(*replyTo) {
			return 0, fmt.Errorf("%w: no published message with id %d", ErrMessageNotFound, *replyTo)
		}
		parent := *replyTo
		replyTo = &parent
	}
	id := b.nextMessageID
	err := b.trigger(MessagePosted{
		MessageID:          id,
		Text:               text,
		ReplyTo:            replyTo,
		AuthorID:           authorID,
		RequiresModeration: b.IsModerated(authorID),
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ModerateUser flags a user so their future messages need approval.
func (b *Board) ModerateUser(userID, actingUserID string) error {
	if !b.IsAdmin(actingUserID) {
		return fmt.Errorf("%w: only admins can flag users for moderation", ErrPermissionDenied)
	}
	return b.trigger(UserFlaggedForModeration{UserID: userID})
}

// ApproveMessage publishes a message awaiting moderation.
func (b *Board) ApproveMessage(messageID int64, approverID string) error {
	if err := b.assertCanModerate(messageID, approverID); err != nil {
		return err
	}
	return b.trigger(MessageApproved{MessageID: messageID})
}

// RejectMessage discards a message awaiting moderation.
func (b *Board) RejectMessage(messageID int64, rejecterID string) error {
	if err := b.assertCanModerate(messageID, rejecterID); err != nil {
		return err
	}
	return b.trigger(MessageRejected{MessageID: messageID})
}

func (b *Board) assertCanModerate(messageID int64, userID string) error {
	if !b.IsAdmin(userID) {
		return fmt.Errorf("%w: only admins can moderate messages", ErrPermissionDenied)
	}
	if !b.AwaitingModeration(messageID) {
		return fmt.Errorf("%w: message %d is not awaiting moderation", ErrMessageNotFound, messageID)
	}
	return nil
}

func (b *Board) published(messageID int64) bool {
	if messageID < FirstMessageID || messageID >= b.nextMessageID {
		return false
	}
	if _, ok := b.pending[messageID]; ok {
		return false
	}
	_, rejected := b.rejected[messageID]
	return !rejected
}

// trigger applies p and stages it at the next version.
func (b *Board) trigger(p Payload) error {
	if err := b.apply(p); err != nil {
		return err
	}
	b.version++
	b.staged = append(b.staged, Staged{Version: b.version, Payload: p, Timestamp: now()})
	return nil
}

func (b *Board) apply(p Payload) error {
	if _, ok := p.(Created); !ok && b.admins == nil {
		return fmt.Errorf("%w: board %s: %s before creation", model.ErrIntegrity, b.id, p.EventType())
	}

	switch e := p.(type) {
	case Created:
		if b.admins != nil {
			return fmt.Errorf("%w: board %s created twice", model.ErrIntegrity, b.id)
		}
		b.name = e.Name
		b.createdBy = e.CreatedBy
		b.admins = make(map[string]struct{})
		b.moderated = make(map[string]struct{})
		b.pending = make(map[int64]struct{})
		b.rejected = make(map[int64]struct{})
		b.nextMessageID = FirstMessageID
	case AdministratorAdded:
		b.admins[e.UserID] = struct{}{}
	case UserFlaggedForModeration:
		b.moderated[e.UserID] = struct{}{}
	case MessagePosted:
		if e.MessageID != b.nextMessageID {
			return fmt.Errorf("%w: board %s: message id %d, expected %d", model.ErrIntegrity, b.id, e.MessageID, b.nextMessageID)
		}
		b.nextMessageID++
		if e.RequiresModeration {
			b.pending[e.MessageID] = struct{}{}
		}
	case MessageApproved:
		if _, ok := b.pending[e.MessageID]; !ok {
			return fmt.Errorf("%w: board %s: approved message %d was not pending", model.ErrIntegrity, b.id, e.MessageID)
		}
		delete(b.pending, e.MessageID)
	case MessageRejected:
		if _, ok := b.pending[e.MessageID]; !ok {
			return fmt.Errorf("%w: board %s: rejected message %d was not pending", model.ErrIntegrity, b.id, e.MessageID)
		}
		delete(b.pending, e.MessageID)
		b.rejected[e.MessageID] = struct{}{}
	default:
		return fmt.Errorf("%w: board %s: unhandled event %s", model.ErrIntegrity, b.id, p.EventType())
	}
	return nil
}
