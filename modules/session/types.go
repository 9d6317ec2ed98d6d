package session

// Service names.
const (
	ServiceOnlineUsers  = "online-users"
	ServiceSessionStats = "session-stats"
)

// OnlineUsersRequest asks for the presence snapshot of a room. An empty
// RoomID asks for the global scope.
type OnlineUsersRequest struct {
	RoomID string `json:"roomId,omitempty"`
}

// OnlineUsersResponse is the presence snapshot of a room.
type OnlineUsersResponse struct {
	RoomID string   `json:"roomId,omitempty"`
	Users  []string `json:"users"`
	Typing []string `json:"typing"`
}

// SessionStatsRequest is the (empty) session-stats request.
type SessionStatsRequest struct{}

// SessionStatsResponse wraps the supervisor counters.
type SessionStatsResponse struct {
	Stats
}
