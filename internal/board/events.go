package board

import (
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/messageboard/internal/model"
)

const (
	TypeCreated                  model.EventType = "MessageBoard.Created"
	TypeAdministratorAdded       model.EventType = "MessageBoard.AdministratorAdded"
	TypeUserFlaggedForModeration model.EventType = "MessageBoard.UserFlaggedForModeration"
	TypeMessagePosted            model.EventType = "MessageBoard.MessagePosted"
	TypeMessageApproved          model.EventType = "MessageBoard.MessageApproved"
	TypeMessageRejected          model.EventType = "MessageBoard.MessageRejected"
)

// Payload is one of the board event variants below.
type Payload interface {
	EventType() model.EventType
}

type Created struct {
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
}

type AdministratorAdded struct {
	UserID string `json:"user_id"`
}

type UserFlaggedForModeration struct {
	UserID string `json:"user_id"`
}

type MessagePosted struct {
	MessageID          int64  `json:"message_id"`
	Text               string `json:"text"`
	ReplyTo            *int64 `json:"reply_to"`
	AuthorID           string `json:"author_id"`
	RequiresModeration bool   `json:"requires_moderation"`
}

type MessageApproved struct {
	MessageID int64 `json:"message_id"`
}

type MessageRejected struct {
	MessageID int64 `json:"message_id"`
}

func (Created) EventType() model.EventType                  { return TypeCreated }
func (AdministratorAdded) EventType() model.EventType       { return TypeAdministratorAdded }
func (UserFlaggedForModeration) EventType() model.EventType { return TypeUserFlaggedForModeration }
func (MessagePosted) EventType() model.EventType            { return TypeMessagePosted }
func (MessageApproved) EventType() model.EventType          { return TypeMessageApproved }
func (MessageRejected) EventType() model.EventType          { return TypeMessageRejected }

// Decode turns a stored record payload back into its variant.
func Decode(t model.EventType, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case TypeCreated:
		p = &Created{}
	case TypeAdministratorAdded:
		p = &AdministratorAdded{}
	case TypeUserFlaggedForModeration:
		p = &UserFlaggedForModeration{}
	case TypeMessagePosted:
		p = &MessagePosted{}
	case TypeMessageApproved:
		p = &MessageApproved{}
	case TypeMessageRejected:
		p = &MessageRejected{}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", model.ErrIntegrity, t)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", model.ErrIntegrity, t, err)
	}
	return deref(p), nil
}

// Encode renders a variant as a record ready for the event log.
func Encode(p Payload) (model.NewEvent, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return model.NewEvent{}, fmt.Errorf("marshal %s: %w", p.EventType(), err)
	}
	return model.NewEvent{Type: p.EventType(), Payload: b}, nil
}

// deref keeps variants as values so type switches match on T, not *T.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Created:
		return *v
	case *AdministratorAdded:
		return *v
	case *UserFlaggedForModeration:
		return *v
	case *MessagePosted:
		return *v
	case *MessageApproved:
		return *v
	case *MessageRejected:
		return *v
	}
	return p
}
