package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ActivityPort reads the activity summary from other modules.
type ActivityPort interface {
	Summary(ctx context.Context) (*Summary, error)
}

// ActivityAdapter implements ActivityPort over the service container.
type ActivityAdapter struct {
	container mono.ServiceContainer
}

// NewActivityAdapter creates a new ActivityAdapter.
func NewActivityAdapter(container mono.ServiceContainer) ActivityPort {
	if container == nil {
		panic("activity: ServiceContainer is nil")
	}
	return &ActivityAdapter{container: container}
}

// Summary calls the activity-stats service.
func (a *ActivityAdapter) Summary(ctx context.Context) (*Summary, error) {
	var resp Summary
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceActivityStats,
		json.Marshal,
		json.Unmarshal,
		&StatsRequest{},
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get activity stats: %w", err)
	}
	return &resp, nil
}
