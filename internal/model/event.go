package model

import (
	"encoding/json"
	"time"
)

// EventType tags the payload shape of an event.
type EventType string

func (t EventType) String() string { return string(t) }

// Event is a committed, immutable record in the event log.
type Event struct {
	NotificationID    int64           `json:"notification_id"`
	OriginatorID      string          `json:"originator_id"`
	OriginatorVersion int64           `json:"originator_version"` // 1 for the creation event
	Type              EventType       `json:"event_type"`
	Payload           json.RawMessage `json:"payload"`
	Timestamp         time.Time       `json:"timestamp"` // informational only
}

// NewEvent is an event that has not been appended yet. Version and
// notification id are assigned by the event log.
type NewEvent struct {
	Type      EventType
	Payload   json.RawMessage
	Timestamp time.Time
}

// Checkpoint is the durable position of a feed consumer together with the
// state it built up to that position.
type Checkpoint struct {
	Name     string `db:"name"`
	Position int64  `db:"position"`
	State    []byte `db:"state"`
}
