package model

import "time"

// Envelope is the payload published to Kafka by the relay, one per notification.
type Envelope struct {
	Event
	RelayedAt time.Time `json:"relayed_at"`
}
