package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chat-fanout/domain/chat"
	"github.com/example/chat-fanout/modules/identity"
	"github.com/example/chat-fanout/modules/presence"
	"github.com/example/chat-fanout/modules/reconciler"
	"github.com/example/chat-fanout/modules/relay"
	"github.com/example/chat-fanout/modules/typing"
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

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events(name string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []chat.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) published() []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.msgs...)
}

// recordingObserver keeps presence and typing transitions in one ordered log.
type recordingObserver struct {
	mu  sync.Mutex
	log []string
}

func (o *recordingObserver) add(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log = append(o.log, s)
}

func (o *recordingObserver) entries() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.log...)
}

func (o *recordingObserver) MessageDelivered(msg chat.Message, relayed bool, _ int) {
	if relayed {
		o.add("relayed:" + msg.ID)
		return
	}
	o.add("message:" + msg.ID)
}

func (o *recordingObserver) PresenceChanged(t presence.Transition) {
	o.add("presence:" + t.Kind.String() + ":" + t.RoomID + ":" + t.UserID)
}

func (o *recordingObserver) TypingChanged(n typing.Notification) {
	kind := "started"
	if n.Kind == typing.KindStopped {
		kind = "stopped"
	}
	o.add("typing:" + kind + ":" + n.RoomID + ":" + n.UserID)
}

func newTestSupervisor(t *testing.T, pub Publisher, opts ...Option) *Supervisor {
	t.Helper()
	registry, err := identity.NewRegistry()
	require.NoError(t, err)
	s := NewSupervisor(registry, reconciler.New(), pub, &mockLogger{}, opts...)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func connect(t *testing.T, s *Supervisor, connID, userID string) *fakeConn {
	t.Helper()
	c := newFakeConn(connID)
	_, err := s.Connect(context.Background(), c, userID, userID)
	require.NoError(t, err)
	return c
}

func join(t *testing.T, s *Supervisor, c *fakeConn, roomID string) {
	t.Helper()
	require.NoError(t, s.JoinRoom(context.Background(), c.ID(), roomID))
}

func TestSupervisor_RoomScopedDelivery(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestSupervisor(t, pub)
	ctx := context.Background()

	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")
	c := connect(t, s, "c", "carol")
	join(t, s, a, "x")
	join(t, s, b, "x")

	msg, err := s.Submit(ctx, "a", chat.Draft{ID: "tmp_1", ConversationID: "x", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "tmp_1", msg.ID)
	assert.Equal(t, "alice", msg.SenderID)

	assert.Len(t, a.events(EventMessage), 1)
	assert.Len(t, b.events(EventMessage), 1)
	assert.Empty(t, c.events(EventMessage))

	got := b.events(EventMessage)[0]
	assert.Equal(t, "x", got.RoomID)
	assert.Equal(t, msg, got.Data)

	require.Len(t, pub.published(), 1)
	assert.Equal(t, "x", pub.published()[0].ConversationID)
}

func TestSupervisor_GlobalDelivery(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestSupervisor(t, pub)

	conns := []*fakeConn{
		connect(t, s, "a", "alice"),
		connect(t, s, "b", "bob"),
		connect(t, s, "c", "carol"),
	}
	join(t, s, conns[1], "x")

	msg, err := s.Submit(context.Background(), "a", chat.Draft{SenderID: "u1", Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "u1", msg.SenderID)

	for _, c := range conns {
		assert.Len(t, c.events(EventMessage), 1, "connection %s", c.ID())
	}
	require.Len(t, pub.published(), 1)
	assert.Empty(t, pub.published()[0].ConversationID)
}

func TestSupervisor_InvalidMessageNotDelivered(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestSupervisor(t, pub)
	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")

	_, err := s.Submit(context.Background(), "a", chat.Draft{Text: "   "})
	assert.ErrorIs(t, err, chat.ErrInvalidMessage)

	assert.Empty(t, a.events(EventMessage))
	assert.Empty(t, b.events(EventMessage))
	assert.Empty(t, pub.published())
	assert.Equal(t, int64(1), s.Stats().Rejected)
}

func TestSupervisor_RelayFailureKeepsLocalDelivery(t *testing.T) {
	pub := &fakePublisher{err: chat.ErrBrokerUnavailable}
	s := newTestSupervisor(t, pub)
	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")

	_, err := s.Submit(context.Background(), "a", chat.Draft{Text: "still here"})
	require.NoError(t, err)

	assert.Len(t, a.events(EventMessage), 1)
	assert.Len(t, b.events(EventMessage), 1)
	assert.Equal(t, int64(1), s.Stats().RelayFailures)
}

func TestSupervisor_DeliverRelayedNotRepublished(t *testing.T) {
	pub := &fakePublisher{}
	obs := &recordingObserver{}
	s := newTestSupervisor(t, pub, WithObserver(obs))
	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")
	join(t, s, a, "x")

	s.DeliverRelayed(context.Background(), chat.Message{ID: "m1", ConversationID: "x", SenderID: "remote", Text: "hi"})

	assert.Len(t, a.events(EventMessage), 1)
	assert.Empty(t, b.events(EventMessage))
	assert.Empty(t, pub.published())
	assert.Contains(t, obs.entries(), "relayed:m1")
	assert.Equal(t, int64(1), s.Stats().RelayedMessages)
}

func TestSupervisor_JoinAckAndSnapshot(t *testing.T) {
	s := newTestSupervisor(t, nil)
	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")
	join(t, s, a, "x")
	join(t, s, b, "x")

	acks := b.events(EventJoinedRoom)
	require.Len(t, acks, 1)
	assert.Equal(t, RoomPayload{RoomID: "x"}, acks[0].Data)

	snapshots := b.events(EventUsersOnline)
	require.Len(t, snapshots, 2, "global snapshot on connect plus room snapshot on join")
	assert.Equal(t, "", snapshots[0].RoomID)
	assert.Equal(t, []string{"alice", "bob"}, snapshots[0].Data)
	assert.Equal(t, "x", snapshots[1].RoomID)
	assert.Equal(t, []string{"alice", "bob"}, snapshots[1].Data)

	// idempotent re-join acks again without announcing
	join(t, s, b, "x")
	assert.Len(t, b.events(EventJoinedRoom), 2)
	roomJoins := 0
	for _, f := range a.events(EventUserJoined) {
		if f.RoomID == "x" {
			roomJoins++
		}
	}
	assert.Equal(t, 1, roomJoins)
}

func TestSupervisor_PresenceTwoTabsNoDuplicateAnnouncements(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSupervisor(t, nil, WithObserver(obs))
	ctx := context.Background()

	watcher := connect(t, s, "w", "bob")
	join(t, s, watcher, "x")

	tab1 := connect(t, s, "t1", "alice")
	tab2 := connect(t, s, "t2", "alice")
	join(t, s, tab1, "x")
	join(t, s, tab2, "x")

	joined := watcher.events(EventUserJoined)
	require.Len(t, joined, 2, "one global and one room announcement")
	assert.Equal(t, UserPayload{UserID: "alice", Username: "alice"}, joined[1].Data)

	require.NoError(t, s.LeaveRoom(ctx, "t1", "x"))
	require.NoError(t, s.Disconnect(ctx, "t1", nil))
	assert.Empty(t, watcher.events(EventUserLeft), "alice still online through tab2")
	assert.Equal(t, []string{"alice", "bob"}, s.OnlineUsers("x"))

	require.NoError(t, s.Disconnect(ctx, "t2", nil))
	left := watcher.events(EventUserLeft)
	require.Len(t, left, 2)
	assert.Equal(t, "", left[0].RoomID)
	assert.Equal(t, "x", left[1].RoomID)
	assert.Equal(t, []string{"bob"}, s.OnlineUsers("x"))
	assert.Equal(t, []string{"bob"}, s.OnlineUsers(chat.GlobalRoom))
}

func TestSupervisor_LeaveRoomAnnouncesAndClearsTyping(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSupervisor(t, nil, WithObserver(obs))
	ctx := context.Background()

	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")
	join(t, s, a, "x")
	join(t, s, b, "x")
	require.NoError(t, s.Typing(ctx, "a", "x", true))

	require.NoError(t, s.LeaveRoom(ctx, "a", "x"))
	require.NoError(t, s.LeaveRoom(ctx, "a", "x"), "leaving twice is a no-op")

	require.Len(t, b.events(EventUserLeft), 1)
	require.Len(t, b.events(EventStopTyping), 1)
	assert.False(t, s.typing.IsTyping("x", "alice"))
}

func TestSupervisor_DisconnectCleanupOrder(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSupervisor(t, nil, WithObserver(obs))
	ctx := context.Background()

	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")
	join(t, s, a, "x")
	join(t, s, b, "x")
	require.NoError(t, s.Typing(ctx, "a", "x", true))

	before := len(obs.entries())
	require.NoError(t, s.Disconnect(ctx, "a", errors.Join(chat.ErrTransport, errors.New("reset by peer"))))

	assert.Equal(t, []string{
		"presence:left::alice",
		"presence:left:x:alice",
		"typing:stopped:x:alice",
	}, obs.entries()[before:])

	assert.True(t, a.closed)
	assert.Len(t, b.events(EventStopTyping), 1)
	assert.False(t, s.typing.IsTyping("x", "alice"))
	assert.Equal(t, int64(1), s.Stats().TransportErrors)
	assert.Equal(t, 1, s.Stats().Connections)
}

func TestSupervisor_TypingExcludesTypingUser(t *testing.T) {
	s := newTestSupervisor(t, nil)
	ctx := context.Background()

	tab1 := connect(t, s, "t1", "alice")
	tab2 := connect(t, s, "t2", "alice")
	bob := connect(t, s, "b", "bob")
	carol := connect(t, s, "c", "carol")
	for _, c := range []*fakeConn{tab1, tab2, bob} {
		join(t, s, c, "x")
	}

	require.NoError(t, s.Typing(ctx, "t1", "x", true))
	require.NoError(t, s.Typing(ctx, "t2", "x", true))

	require.Len(t, bob.events(EventTyping), 1, "repeated typing is coalesced")
	assert.Equal(t, UserPayload{UserID: "alice", Username: "alice"}, bob.events(EventTyping)[0].Data)
	assert.Empty(t, tab1.events(EventTyping))
	assert.Empty(t, tab2.events(EventTyping))
	assert.Empty(t, carol.events(EventTyping))

	require.NoError(t, s.Typing(ctx, "t1", "x", false))
	assert.Len(t, bob.events(EventStopTyping), 1)
}

func TestSupervisor_TypingRequiresMembership(t *testing.T) {
	s := newTestSupervisor(t, nil)
	ctx := context.Background()

	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")
	join(t, s, b, "x")

	assert.ErrorIs(t, s.Typing(ctx, "a", "x", true), chat.ErrNotMember)
	assert.Empty(t, b.events(EventTyping))
	assert.False(t, s.typing.IsTyping("x", "alice"))
	assert.NoError(t, s.Typing(ctx, "a", "x", false), "stopping outside a room is a no-op")

	require.NoError(t, s.Typing(ctx, "a", chat.GlobalRoom, true))
	require.Len(t, b.events(EventTyping), 1)
	assert.Empty(t, a.events(EventTyping))
}

func TestSupervisor_DisconnectClearsTypingWithOtherTabOpen(t *testing.T) {
	s := newTestSupervisor(t, nil)
	ctx := context.Background()

	tab1 := connect(t, s, "t1", "alice")
	tab2 := connect(t, s, "t2", "alice")
	bob := connect(t, s, "b", "bob")
	for _, c := range []*fakeConn{tab1, tab2, bob} {
		join(t, s, c, "x")
	}
	require.NoError(t, s.Typing(ctx, "t1", "x", true))

	require.NoError(t, s.Disconnect(ctx, "t1", errors.Join(chat.ErrTransport, errors.New("tab crashed"))))

	assert.Empty(t, bob.events(EventUserLeft), "alice is still online through tab2")
	require.Len(t, bob.events(EventStopTyping), 1)
	assert.False(t, s.typing.IsTyping("x", "alice"))
}

func TestSupervisor_TypingAutoClear(t *testing.T) {
	s := newTestSupervisor(t, nil, WithTypingTimeout(30*time.Millisecond))
	a := connect(t, s, "a", "alice")
	b := connect(t, s, "b", "bob")
	join(t, s, a, "x")
	join(t, s, b, "x")

	require.NoError(t, s.Typing(context.Background(), "a", "x", true))
	require.Eventually(t, func() bool {
		return len(b.events(EventStopTyping)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.TypingIn("x"))
}

func TestSupervisor_UnknownConnection(t *testing.T) {
	s := newTestSupervisor(t, nil)
	ctx := context.Background()

	_, err := s.Submit(ctx, "ghost", chat.Draft{Text: "hi"})
	assert.ErrorIs(t, err, chat.ErrUnknownConnection)
	assert.ErrorIs(t, s.JoinRoom(ctx, "ghost", "x"), chat.ErrUnknownConnection)
	assert.ErrorIs(t, s.LeaveRoom(ctx, "ghost", "x"), chat.ErrUnknownConnection)
	assert.ErrorIs(t, s.Typing(ctx, "ghost", "x", true), chat.ErrUnknownConnection)
	assert.ErrorIs(t, s.Disconnect(ctx, "ghost", nil), chat.ErrUnknownConnection)
}

func TestSupervisor_GlobalRoomCannotBeJoined(t *testing.T) {
	s := newTestSupervisor(t, nil)
	connect(t, s, "a", "alice")

	assert.ErrorIs(t, s.JoinRoom(context.Background(), "a", "  "), chat.ErrInvalidRoom)
	assert.ErrorIs(t, s.LeaveRoom(context.Background(), "a", ""), chat.ErrInvalidRoom)
}

func TestSupervisor_DuplicateConnectionID(t *testing.T) {
	s := newTestSupervisor(t, nil)
	connect(t, s, "a", "alice")

	_, err := s.Connect(context.Background(), newFakeConn("a"), "bob", "bob")
	assert.Error(t, err)
	assert.Equal(t, 1, s.Stats().Connections)
}

func TestSupervisor_GeneratedIdentity(t *testing.T) {
	s := newTestSupervisor(t, nil)
	c := newFakeConn("a")

	id, err := s.Connect(context.Background(), c, "", "")
	require.NoError(t, err)
	assert.True(t, id.Generated)

	msg, err := s.Submit(context.Background(), "a", chat.Draft{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, id.UserID, msg.SenderID)
}

func TestSupervisor_TwoInstancesOverRelay(t *testing.T) {
	broker := relay.NewMemoryBroker()
	ctx := context.Background()

	newInstance := func(name string) *Supervisor {
		adapter := relay.NewAdapter(broker, relay.Options{
			Topic:      "chat.messages",
			InstanceID: name,
			Backoff:    relay.Backoff{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		}, &mockLogger{})
		s := newTestSupervisor(t, adapter)
		adapter.SetSink(s.DeliverRelayed)
		adapter.Start()
		t.Cleanup(func() { _ = adapter.Stop(ctx) })
		require.Eventually(t, adapter.Connected, time.Second, 5*time.Millisecond)
		return s
	}

	s1 := newInstance("inst-1")
	s2 := newInstance("inst-2")

	a := connect(t, s1, "a", "alice")
	b := connect(t, s2, "b", "bob")
	c := connect(t, s2, "c", "carol")
	join(t, s1, a, "x")
	join(t, s2, b, "x")

	_, err := s1.Submit(ctx, "a", chat.Draft{ID: "tmp_1", ConversationID: "x", Text: "across"})
	require.NoError(t, err)

	assert.Len(t, a.events(EventMessage), 1)
	assert.Len(t, b.events(EventMessage), 1)
	assert.Empty(t, c.events(EventMessage))
	assert.Equal(t, 1, broker.Published("chat.messages"), "relayed copy is not published again")

	_, err = s2.Submit(ctx, "c", chat.Draft{Text: "global"})
	require.NoError(t, err)
	assert.Len(t, a.events(EventMessage), 2)
	assert.Len(t, c.events(EventMessage), 1)
	assert.Equal(t, 2, broker.Published("chat.messages"))
}
