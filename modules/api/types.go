package api

import (
	"encoding/json"

	"github.com/example/chat-fanout/modules/activity"
	"github.com/example/chat-fanout/modules/relay"
	"github.com/example/chat-fanout/modules/session"
)

// Inbound event names.
const (
	EventJoinRoom   = "join_room"
	EventLeaveRoom  = "leave_room"
	EventSend       = "event:message"
	EventTyping     = "user:typing"
	EventStopTyping = "user:stop-typing"
)

// InboundFrame is one event received from a client. Data is decoded per
// event.
type InboundFrame struct {
	Event  string          `json:"event"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// RoomRequest is the payload of join_room and leave_room.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// TypingRequest is the payload of user:typing and user:stop-typing. The
// user is always taken from the connection; UserID is accepted for
// compatibility only.
type TypingRequest struct {
	RoomID         string `json:"roomId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Username       string `json:"username,omitempty"`
}

// OnlineResponse is the presence snapshot returned over HTTP.
type OnlineResponse struct {
	RoomID string   `json:"roomId,omitempty"`
	Users  []string `json:"users"`
	Typing []string `json:"typing"`
	Count  int      `json:"count"`
}

// StatsResponse combines session, relay and activity counters.
type StatsResponse struct {
	Session  session.Stats     `json:"session"`
	Relay    *relay.Stats      `json:"relay,omitempty"`
	Activity *activity.Summary `json:"activity,omitempty"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
