package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/example/chat-fanout/domain/chat"
	"github.com/example/chat-fanout/modules/identity"
	"github.com/example/chat-fanout/modules/session"
)

const writeWait = 10 * time.Second

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("send queue full")
)

// sessionService is the part of the supervisor a WebSocket connection uses.
type sessionService interface {
	Connect(ctx context.Context, conn session.Conn, userID, name string) (identity.Identity, error)
	JoinRoom(ctx context.Context, connID, roomID string) error
	LeaveRoom(ctx context.Context, connID, roomID string) error
	Submit(ctx context.Context, connID string, draft chat.Draft) (chat.Message, error)
	Typing(ctx context.Context, connID, roomID string, typing bool) error
	Disconnect(ctx context.Context, connID string, cause error) error
}

// frameWriter is satisfied by *websocket.Conn.
type frameWriter interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsConn queues outbound frames and writes them in order from a single
// goroutine. A connection whose queue overflows is closed.
type wsConn struct {
	id        string
	w         frameWriter
	queue     chan session.Frame
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(id string, w frameWriter, buffer int) *wsConn {
	return &wsConn{
		id:      id,
		w:       w,
		queue:   make(chan session.Frame, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(f session.Frame) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.queue <- f:
		return nil
	default:
		_ = c.Close()
		return errSlowConsumer
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.w.Close()
	})
	return c.closeErr
}

func (c *wsConn) writeLoop() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			return
		case f := <-c.queue:
			_ = c.w.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.w.WriteJSON(f); err != nil {
				log.Printf("[api] Write to %s failed: %v", c.id, err)
				_ = c.Close()
				return
			}
		}
	}
}

// serveConn runs one WebSocket session until the client goes away.
func serveConn(sup sessionService, ws *websocket.Conn, userID, username string, limiter *rate.Limiter, buffer int) {
	ctx := context.Background()
	conn := newWSConn(uuid.New().String(), ws, buffer)
	go conn.writeLoop()
	defer func() {
		_ = conn.Close()
		<-conn.stopped
	}()

	id, err := sup.Connect(ctx, conn, userID, username)
	if err != nil {
		log.Printf("[api] Failed to register WebSocket client: %v", err)
		return
	}
	log.Printf("[api] WebSocket client connected: %s (%s)", conn.ID(), id.UserID)

	d := &dispatcher{sup: sup, conn: conn, limiter: limiter}
	var cause error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cause = fmt.Errorf("%w: %v", chat.ErrTransport, err)
			}
			break
		}
		d.dispatch(ctx, data)
	}

	if err := sup.Disconnect(ctx, conn.ID(), cause); err != nil && !errors.Is(err, chat.ErrUnknownConnection) {
		log.Printf("[api] Disconnect %s failed: %v", conn.ID(), err)
	}
	log.Printf("[api] WebSocket client disconnected: %s (%s)", conn.ID(), id.UserID)
}

// dispatcher routes inbound frames of one connection to the supervisor.
type dispatcher struct {
	sup     sessionService
	conn    session.Conn
	limiter *rate.Limiter
}

func (d *dispatcher) dispatch(ctx context.Context, data []byte) {
	var in InboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		d.reject("", "", "", "Invalid message format")
		return
	}

	switch in.Event {
	case EventJoinRoom:
		roomID := roomOf(in)
		if err := d.sup.JoinRoom(ctx, d.conn.ID(), roomID); err != nil {
			d.reject(in.Event, roomID, "", "Failed to join room: "+err.Error())
		}
	case EventLeaveRoom:
		roomID := roomOf(in)
		if err := d.sup.LeaveRoom(ctx, d.conn.ID(), roomID); err != nil {
			d.reject(in.Event, roomID, "", "Failed to leave room: "+err.Error())
		}
	case EventSend:
		d.handleSend(ctx, in)
	case EventTyping, EventStopTyping:
		var req TypingRequest
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &req); err != nil {
				d.reject(in.Event, in.RoomID, "", "Invalid typing payload")
				return
			}
		}
		roomID := firstNonEmpty(req.RoomID, req.ConversationID, in.RoomID)
		if err := d.sup.Typing(ctx, d.conn.ID(), roomID, in.Event == EventTyping); err != nil {
			d.reject(in.Event, roomID, "", err.Error())
		}
	default:
		d.reject(in.Event, in.RoomID, "", "Unknown event: "+in.Event)
	}
}

func (d *dispatcher) handleSend(ctx context.Context, in InboundFrame) {
	var draft chat.Draft
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &draft); err != nil {
			d.reject(in.Event, in.RoomID, "", "Invalid message payload")
			return
		}
	}
	if draft.ConversationID == "" {
		draft.ConversationID = in.RoomID
	}

	if d.limiter != nil && !d.limiter.Allow() {
		d.reject(in.Event, draft.ConversationID, draft.ID, "Rate limit exceeded")
		return
	}

	if _, err := d.sup.Submit(ctx, d.conn.ID(), draft); err != nil {
		d.reject(in.Event, draft.ConversationID, draft.ID, err.Error())
	}
}

func (d *dispatcher) reject(event, roomID, id, message string) {
	_ = d.conn.Send(session.Frame{
		Event:  session.EventError,
		RoomID: roomID,
		Data:   session.ErrorPayload{Error: message, Event: event, ID: id},
	})
}

// roomOf reads the room of a join or leave request. The room may be sent
// as a bare string, as {"roomId": ...} or on the frame itself.
func roomOf(in InboundFrame) string {
	if len(in.Data) > 0 {
		var s string
		if err := json.Unmarshal(in.Data, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var req RoomRequest
		if err := json.Unmarshal(in.Data, &req); err == nil && req.RoomID != "" {
			return strings.TrimSpace(req.RoomID)
		}
	}
	return strings.TrimSpace(in.RoomID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
