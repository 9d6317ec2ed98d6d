// Package session owns the connection lifecycle and wires identity,
// membership, presence, typing, reconciliation and relay together.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/chat-fanout/domain/chat"
	"github.com/example/chat-fanout/modules/identity"
	"github.com/example/chat-fanout/modules/membership"
	"github.com/example/chat-fanout/modules/presence"
	"github.com/example/chat-fanout/modules/reconciler"
	"github.com/example/chat-fanout/modules/typing"
)

// Conn is one live transport session. Send must not block on the network;
// transports queue frames and write them in order.
type Conn interface {
	ID() string
	Send(frame Frame) error
	Close() error
}

// Publisher relays locally submitted messages to other instances.
type Publisher interface {
	Publish(ctx context.Context, msg chat.Message) error
}

// Observer is told about delivered messages and presence and typing
// transitions. Calls happen outside the supervisor lock.
type Observer interface {
	MessageDelivered(msg chat.Message, relayed bool, recipients int)
	PresenceChanged(t presence.Transition)
	TypingChanged(n typing.Notification)
}

type nopObserver struct{}

func (nopObserver) MessageDelivered(chat.Message, bool, int) {}
func (nopObserver) PresenceChanged(presence.Transition)      {}
func (nopObserver) TypingChanged(typing.Notification)        {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, chat.Message) error { return nil }

type connection struct {
	conn     Conn
	identity identity.Identity
}

// Stats is a snapshot of supervisor counters.
type Stats struct {
	Connections     int   `json:"connections"`
	Rooms           int   `json:"rooms"`
	Connects        int64 `json:"connects"`
	Disconnects     int64 `json:"disconnects"`
	TransportErrors int64 `json:"transportErrors"`
	LocalMessages   int64 `json:"localMessages"`
	RelayedMessages int64 `json:"relayedMessages"`
	Rejected        int64 `json:"rejected"`
	RelayFailures   int64 `json:"relayFailures"`
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTypingTimeout sets how long a typing mark lives without a refresh.
func WithTypingTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.typingTimeout = d
	}
}

// WithObserver sets the observer notified of delivered messages and
// presence and typing changes.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observer = o
		}
	}
}

// Supervisor owns every local connection. Shared tables are updated under
// one lock; frames are sent after the lock is released.
type Supervisor struct {
	registry   *identity.Registry
	reconciler *reconciler.Reconciler
	relay      Publisher
	observer   Observer
	logger     types.Logger

	members       *membership.Table
	presence      *presence.Tracker
	typing        *typing.Coordinator
	typingTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*connection

	connects        atomic.Int64
	disconnects     atomic.Int64
	transportErrors atomic.Int64
	localMessages   atomic.Int64
	relayedMessages atomic.Int64
	rejected        atomic.Int64
	relayFailures   atomic.Int64
}

// NewSupervisor creates a Supervisor. relay may be nil for local-only
// fanout.
func NewSupervisor(registry *identity.Registry, rec *reconciler.Reconciler, relay Publisher, logger types.Logger, opts ...Option) *Supervisor {
	if relay == nil {
		relay = nopPublisher{}
	}
	s := &Supervisor{
		registry:      registry,
		reconciler:    rec,
		relay:         relay,
		observer:      nopObserver{},
		logger:        logger,
		members:       membership.NewTable(),
		presence:      presence.NewTracker(),
		typingTimeout: typing.DefaultTimeout,
		conns:         make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.typing = typing.NewCoordinator(s.typingTimeout, s.onTyping)
	return s
}

type delivery struct {
	frame Frame
	to    []Conn
}

func (s *Supervisor) send(deliveries ...delivery) {
	for _, d := range deliveries {
		for _, c := range d.to {
			if err := c.Send(d.frame); err != nil {
				s.logger.Warn("Failed to send frame", "connection", c.ID(), "event", d.frame.Event, "error", err)
			}
		}
	}
}

// connsInLocked returns the connections in roomID, skipping except.
func (s *Supervisor) connsInLocked(roomID string, except func(*connection) bool) []Conn {
	ids := s.members.ConnectionsIn(roomID)
	out := make([]Conn, 0, len(ids))
	for _, id := range ids {
		c, ok := s.conns[id]
		if !ok || (except != nil && except(c)) {
			continue
		}
		out = append(out, c.conn)
	}
	return out
}

func presenceFrame(t presence.Transition, username string) Frame {
	event := EventUserJoined
	if t.Kind == presence.KindLeft {
		event = EventUserLeft
	}
	return Frame{
		Event:  event,
		RoomID: t.RoomID,
		Data:   UserPayload{UserID: t.UserID, Username: username},
	}
}

// Connect registers conn with the asserted identity and puts it in the
// global scope. The connection receives the global online snapshot; other
// connections are told if the user just came online.
func (s *Supervisor) Connect(_ context.Context, conn Conn, assertedUserID, assertedName string) (identity.Identity, error) {
	id := s.registry.Register(conn.ID(), assertedUserID, assertedName)

	s.mu.Lock()
	if _, exists := s.conns[id.ConnectionID]; exists {
		s.mu.Unlock()
		return identity.Identity{}, fmt.Errorf("connection %s already registered", id.ConnectionID)
	}
	c := &connection{conn: conn, identity: id}
	s.conns[id.ConnectionID] = c
	s.members.Join(id.ConnectionID, id.UserID, chat.GlobalRoom)
	t, announce := s.presence.Joined(chat.GlobalRoom, id.UserID)

	deliveries := []delivery{{
		frame: Frame{Event: EventUsersOnline, Data: s.presence.OnlineUsers(chat.GlobalRoom)},
		to:    []Conn{conn},
	}}
	if announce {
		deliveries = append(deliveries, delivery{
			frame: presenceFrame(t, id.DisplayName),
			to:    s.connsInLocked(chat.GlobalRoom, func(o *connection) bool { return o == c }),
		})
	}
	s.mu.Unlock()

	s.connects.Add(1)
	s.logger.Info("Connection registered",
		"connection", id.ConnectionID,
		"user", id.UserID,
		"generated", id.Generated)

	s.send(deliveries...)
	if announce {
		s.observer.PresenceChanged(t)
	}
	return id, nil
}

func normalizeRoom(roomID string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == chat.GlobalRoom {
		return "", chat.ErrInvalidRoom
	}
	return roomID, nil
}

// JoinRoom adds the connection to roomID. The connection always gets a
// joined_room ack and the room's online snapshot; other members hear
// user:joined only when the user was not yet present in the room.
func (s *Supervisor) JoinRoom(_ context.Context, connID, roomID string) error {
	roomID, err := normalizeRoom(roomID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	c, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return chat.ErrUnknownConnection
	}

	var (
		t        presence.Transition
		announce bool
	)
	if s.members.Join(connID, c.identity.UserID, roomID) {
		t, announce = s.presence.Joined(roomID, c.identity.UserID)
	}

	deliveries := []delivery{
		{frame: Frame{Event: EventJoinedRoom, RoomID: roomID, Data: RoomPayload{RoomID: roomID}}, to: []Conn{c.conn}},
		{frame: Frame{Event: EventUsersOnline, RoomID: roomID, Data: s.presence.OnlineUsers(roomID)}, to: []Conn{c.conn}},
	}
	if announce {
		deliveries = append(deliveries, delivery{
			frame: presenceFrame(t, c.identity.DisplayName),
			to:    s.connsInLocked(roomID, func(o *connection) bool { return o == c }),
		})
	}
	s.mu.Unlock()

	s.send(deliveries...)
	if announce {
		s.observer.PresenceChanged(t)
	}
	return nil
}

// LeaveRoom removes the connection from roomID. Leaving a room the
// connection is not in is a no-op. When the user has no connection left in
// the room, members hear user:left and the user's typing mark there is
// cleared.
func (s *Supervisor) LeaveRoom(_ context.Context, connID, roomID string) error {
	roomID, err := normalizeRoom(roomID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	c, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return chat.ErrUnknownConnection
	}

	var (
		t        presence.Transition
		announce bool
	)
	if userID, removed := s.members.Leave(connID, roomID); removed {
		t, announce = s.presence.Left(roomID, userID)
	}

	var deliveries []delivery
	if announce {
		deliveries = append(deliveries, delivery{
			frame: presenceFrame(t, c.identity.DisplayName),
			to:    s.connsInLocked(roomID, nil),
		})
	}
	s.mu.Unlock()

	s.send(deliveries...)
	if announce {
		s.observer.PresenceChanged(t)
		s.typing.ClearTyping(roomID, t.UserID)
	}
	return nil
}

// Submit canonicalizes a draft from connID, delivers it to every local
// connection in its scope and relays it to other instances. A relay
// failure is logged and counted; local delivery is not affected.
func (s *Supervisor) Submit(ctx context.Context, connID string, draft chat.Draft) (chat.Message, error) {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return chat.Message{}, chat.ErrUnknownConnection
	}

	if strings.TrimSpace(draft.SenderID) == "" {
		draft.SenderID = c.identity.UserID
	}
	if draft.SenderName == "" {
		draft.SenderName = c.identity.DisplayName
	}

	msg, err := s.reconciler.Submit(draft)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Debug("Message rejected", "connection", connID, "error", err)
		return chat.Message{}, err
	}

	n := s.deliver(msg)
	s.localMessages.Add(1)
	s.observer.MessageDelivered(msg, false, n)

	if err := s.relay.Publish(ctx, msg); err != nil {
		s.relayFailures.Add(1)
		s.logger.Warn("Relay publish failed, delivered locally only",
			"message", msg.ID,
			"room", msg.ConversationID,
			"error", err)
	}
	return msg, nil
}

// DeliverRelayed fans out a message received from another instance. It is
// never published again.
func (s *Supervisor) DeliverRelayed(_ context.Context, msg chat.Message) {
	n := s.deliver(msg)
	s.relayedMessages.Add(1)
	s.observer.MessageDelivered(msg, true, n)
}

func (s *Supervisor) deliver(msg chat.Message) int {
	scope := chat.ScopeOf(msg)
	roomID := chat.GlobalRoom
	if !scope.Global {
		roomID = scope.RoomID
	}

	s.mu.RLock()
	to := s.connsInLocked(roomID, nil)
	s.mu.RUnlock()

	s.send(delivery{
		frame: Frame{Event: EventMessage, RoomID: msg.ConversationID, Data: msg},
		to:    to,
	})
	return len(to)
}

// Typing marks or clears the connection's user as typing in roomID. An
// empty roomID is the global scope. Starting to type requires the
// connection to be in the room; stopping does not.
func (s *Supervisor) Typing(_ context.Context, connID, roomID string, isTyping bool) error {
	roomID = strings.TrimSpace(roomID)

	s.mu.RLock()
	c, ok := s.conns[connID]
	member := ok && s.members.IsMember(connID, roomID)
	s.mu.RUnlock()
	if !ok {
		return chat.ErrUnknownConnection
	}
	if isTyping && !member {
		return chat.ErrNotMember
	}

	if isTyping {
		s.typing.SetTyping(roomID, c.identity.UserID, c.identity.DisplayName)
	} else {
		s.typing.ClearTyping(roomID, c.identity.UserID)
	}
	return nil
}

// onTyping fans a typing notification out to the scope, skipping every
// connection of the typing user.
func (s *Supervisor) onTyping(n typing.Notification) {
	event := EventTyping
	if n.Kind == typing.KindStopped {
		event = EventStopTyping
	}

	s.mu.RLock()
	to := s.connsInLocked(n.RoomID, func(o *connection) bool { return o.identity.UserID == n.UserID })
	s.mu.RUnlock()

	s.send(delivery{
		frame: Frame{Event: event, RoomID: n.RoomID, Data: UserPayload{UserID: n.UserID, Username: n.Username}},
		to:    to,
	})
	s.observer.TypingChanged(n)
}

// Disconnect removes the connection. Memberships go first, then presence
// departures are announced, then typing marks are cleared. A cause
// wrapping chat.ErrTransport takes the same path as a clean close.
func (s *Supervisor) Disconnect(_ context.Context, connID string, cause error) error {
	s.mu.Lock()
	c, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return chat.ErrUnknownConnection
	}
	delete(s.conns, connID)

	departures := s.members.OnDisconnect(connID)
	transitions := s.presence.Departed(departures)

	deliveries := make([]delivery, 0, len(transitions))
	for _, t := range transitions {
		deliveries = append(deliveries, delivery{
			frame: presenceFrame(t, c.identity.DisplayName),
			to:    s.connsInLocked(t.RoomID, nil),
		})
	}
	s.mu.Unlock()

	s.disconnects.Add(1)
	if errors.Is(cause, chat.ErrTransport) {
		s.transportErrors.Add(1)
		s.logger.Warn("Connection lost", "connection", connID, "user", c.identity.UserID, "error", cause)
	} else {
		s.logger.Info("Connection closed", "connection", connID, "user", c.identity.UserID)
	}

	s.send(deliveries...)
	for _, t := range transitions {
		s.observer.PresenceChanged(t)
	}

	// Typing is keyed by user: every room is cleared even when another
	// connection of the user is still open.
	s.typing.ClearUser(c.identity.UserID)

	if err := c.conn.Close(); err != nil {
		s.logger.Debug("Close after disconnect", "connection", connID, "error", err)
	}
	return nil
}

// Shutdown disconnects every connection and stops typing timers.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Disconnect(ctx, id, nil)
	}
	s.typing.Close()
}

// OnlineUsers returns the users present in roomID. The empty room is the
// global scope.
func (s *Supervisor) OnlineUsers(roomID string) []string {
	return s.presence.OnlineUsers(strings.TrimSpace(roomID))
}

// TypingIn returns the users currently typing in roomID.
func (s *Supervisor) TypingIn(roomID string) []string {
	return s.typing.TypingIn(strings.TrimSpace(roomID))
}

// Identity returns the identity bound to connID.
func (s *Supervisor) Identity(connID string) (identity.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[connID]
	if !ok {
		return identity.Identity{}, false
	}
	return c.identity, true
}

// Stats returns the current counters.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	conns := len(s.conns)
	rooms := s.members.RoomCount()
	if s.members.RoomSize(chat.GlobalRoom) > 0 {
		rooms--
	}
	s.mu.RUnlock()

	return Stats{
		Connections:     conns,
		Rooms:           rooms,
		Connects:        s.connects.Load(),
		Disconnects:     s.disconnects.Load(),
		TransportErrors: s.transportErrors.Load(),
		LocalMessages:   s.localMessages.Load(),
		RelayedMessages: s.relayedMessages.Load(),
		Rejected:        s.rejected.Load(),
		RelayFailures:   s.relayFailures.Load(),
	}
}
