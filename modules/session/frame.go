package session

// Outbound event names.
const (
	EventJoinedRoom  = "joined_room"
	EventMessage     = "message"
	EventUsersOnline = "users:online"
	EventUserJoined  = "user:joined"
	EventUserLeft    = "user:left"
	EventTyping      = "user:typing"
	EventStopTyping  = "user:stop-typing"
	EventError       = "error"
)

// Frame is one event sent to a connection. RoomID is empty for events in
// the global scope.
type Frame struct {
	Event  string `json:"event"`
	RoomID string `json:"roomId,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// RoomPayload acknowledges a room join.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// UserPayload carries the user of presence and typing events.
type UserPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// ErrorPayload reports a rejected request back to its connection.
type ErrorPayload struct {
	Error string `json:"error"`
	Event string `json:"event,omitempty"`
	ID    string `json:"id,omitempty"`
}
