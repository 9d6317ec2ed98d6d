package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// SessionPort is the read side of the session module for other modules.
type SessionPort interface {
	OnlineUsers(ctx context.Context, roomID string) (*OnlineUsersResponse, error)
	Stats(ctx context.Context) (*SessionStatsResponse, error)
}

// SessionAdapter implements SessionPort over the service container.
type SessionAdapter struct {
	container mono.ServiceContainer
}

// NewSessionAdapter creates a new SessionAdapter.
func NewSessionAdapter(container mono.ServiceContainer) SessionPort {
	if container == nil {
		panic("session: ServiceContainer is nil")
	}
	return &SessionAdapter{container: container}
}

// OnlineUsers returns the presence snapshot of roomID.
func (a *SessionAdapter) OnlineUsers(ctx context.Context, roomID string) (*OnlineUsersResponse, error) {
	req := OnlineUsersRequest{RoomID: roomID}
	var resp OnlineUsersResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceOnlineUsers,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}
	return &resp, nil
}

// Stats returns the supervisor counters.
func (a *SessionAdapter) Stats(ctx context.Context) (*SessionStatsResponse, error) {
	req := SessionStatsRequest{}
	var resp SessionStatsResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceSessionStats,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	return &resp, nil
}
