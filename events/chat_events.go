// Package events defines the in-process events emitted by the session
// module and consumed by the activity module.
package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageDeliveredEvent is emitted after a message was fanned out locally.
type MessageDeliveredEvent struct {
	MessageID  string    `json:"message_id"`
	RoomID     string    `json:"room_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	Relayed    bool      `json:"relayed"`
	Recipients int       `json:"recipients"`
	Timestamp  time.Time `json:"timestamp"`
}

// PresenceChangedEvent is emitted when a user comes online in a room or
// goes offline there. An empty RoomID is the global scope.
type PresenceChangedEvent struct {
	RoomID    string    `json:"room_id,omitempty"`
	UserID    string    `json:"user_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingChangedEvent is emitted when a user starts or stops typing.
type TypingChangedEvent struct {
	RoomID    string    `json:"room_id,omitempty"`
	UserID    string    `json:"user_id"`
	Typing    bool      `json:"typing"`
	Expired   bool      `json:"expired,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the session domain.
var (
	MessageDeliveredV1 = helper.EventDefinition[MessageDeliveredEvent](
		"session",
		"MessageDelivered",
		"v1",
	)

	PresenceChangedV1 = helper.EventDefinition[PresenceChangedEvent](
		"session",
		"PresenceChanged",
		"v1",
	)

	TypingChangedV1 = helper.EventDefinition[TypingChangedEvent](
		"session",
		"TypingChanged",
		"v1",
	)
)
