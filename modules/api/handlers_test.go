package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chat-fanout/modules/activity"
	"github.com/example/chat-fanout/modules/identity"
	"github.com/example/chat-fanout/modules/reconciler"
	"github.com/example/chat-fanout/modules/relay"
	"github.com/example/chat-fanout/modules/session"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

type fakeSessionPort struct {
	online map[string][]string
	stats  session.Stats
	err    error
}

func (p *fakeSessionPort) OnlineUsers(_ context.Context, roomID string) (*session.OnlineUsersResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	users := p.online[roomID]
	if users == nil {
		users = []string{}
	}
	return &session.OnlineUsersResponse{RoomID: roomID, Users: users, Typing: []string{}}, nil
}

func (p *fakeSessionPort) Stats(_ context.Context) (*session.SessionStatsResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &session.SessionStatsResponse{Stats: p.stats}, nil
}

type fakeActivityPort struct {
	summary *activity.Summary
	err     error
}

func (p *fakeActivityPort) Summary(_ context.Context) (*activity.Summary, error) {
	return p.summary, p.err
}

func newTestSupervisor(t *testing.T) *session.Supervisor {
	t.Helper()
	registry, err := identity.NewRegistry()
	require.NoError(t, err)
	sup := session.NewSupervisor(registry, reconciler.New(), nil, &mockLogger{})
	t.Cleanup(func() { sup.Shutdown(context.Background()) })
	return sup
}

func newTestAPI(t *testing.T, sessions session.SessionPort, acts activity.ActivityPort) *APIModule {
	t.Helper()
	m := NewModule(Config{})
	m.SetSupervisor(newTestSupervisor(t))
	m.sessionAdapter = sessions
	m.activityAdapter = acts
	return m
}

func TestNewModule_Defaults(t *testing.T) {
	m := NewModule(Config{})
	assert.Equal(t, "api", m.Name())
	assert.Equal(t, "3000", m.cfg.Port)
	assert.Equal(t, 64, m.cfg.SendBuffer)
	assert.Equal(t, []string{"session", "activity"}, m.Dependencies())
}

func TestStart_RequiresDependencies(t *testing.T) {
	m := NewModule(Config{})
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session adapter")

	m.sessionAdapter = &fakeSessionPort{}
	err = m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supervisor")
}

func TestHealthHandler(t *testing.T) {
	m := newTestAPI(t, &fakeSessionPort{}, nil)
	m.SetRelayStats(func() relay.Stats { return relay.Stats{Connected: true} })
	app := m.newApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, true, body.Details["relay_connected"])
	assert.EqualValues(t, 0, body.Details["connections"])
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	m := newTestAPI(t, &fakeSessionPort{}, nil)
	app := m.newApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, 426, resp.StatusCode)
}

func TestGetOnline(t *testing.T) {
	port := &fakeSessionPort{online: map[string][]string{
		"":      {"alice", "bob"},
		"lobby": {"alice"},
	}}

	tests := []struct {
		name      string
		path      string
		wantRoom  string
		wantCount int
	}{
		{name: "global", path: "/api/v1/online", wantRoom: "", wantCount: 2},
		{name: "room", path: "/api/v1/rooms/lobby/online", wantRoom: "lobby", wantCount: 1},
		{name: "empty room", path: "/api/v1/rooms/nowhere/online", wantRoom: "nowhere", wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestAPI(t, port, nil).newApp()
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)

			var body OnlineResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantRoom, body.RoomID)
			assert.Equal(t, tt.wantCount, body.Count)
			assert.Len(t, body.Users, tt.wantCount)
		})
	}
}

func TestGetOnline_Failure(t *testing.T) {
	app := newTestAPI(t, &fakeSessionPort{err: errors.New("boom")}, nil).newApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/online", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "presence_failed", body.Error)
}

func TestGetStats(t *testing.T) {
	sessions := &fakeSessionPort{stats: session.Stats{Connections: 3, LocalMessages: 7}}

	t.Run("all sources", func(t *testing.T) {
		m := newTestAPI(t, sessions, &fakeActivityPort{summary: &activity.Summary{LocalMessages: 7}})
		m.SetRelayStats(func() relay.Stats { return relay.Stats{Linked: true, Published: 7} })

		resp, err := m.newApp().Test(httptest.NewRequest("GET", "/api/v1/stats", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var body StatsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 3, body.Session.Connections)
		require.NotNil(t, body.Relay)
		assert.EqualValues(t, 7, body.Relay.Published)
		require.NotNil(t, body.Activity)
		assert.EqualValues(t, 7, body.Activity.LocalMessages)
	})

	t.Run("activity failure is tolerated", func(t *testing.T) {
		m := newTestAPI(t, sessions, &fakeActivityPort{err: errors.New("down")})

		resp, err := m.newApp().Test(httptest.NewRequest("GET", "/api/v1/stats", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var body StatsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Nil(t, body.Activity)
		assert.Nil(t, body.Relay)
	})

	t.Run("session failure", func(t *testing.T) {
		m := newTestAPI(t, &fakeSessionPort{err: errors.New("boom")}, nil)

		resp, err := m.newApp().Test(httptest.NewRequest("GET", "/api/v1/stats", nil))
		require.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)
	})
}
