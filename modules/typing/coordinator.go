// Package typing tracks who is typing in which room and clears entries
// that were not refreshed before their expiry.
package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultTimeout is how long a typing mark lives without a refresh.
const DefaultTimeout = 3 * time.Second

// Kind tells whether a user started or stopped typing.
type Kind int

const (
	KindStarted Kind = iota + 1
	KindStopped
)

// Notification is emitted once per transition into or out of typing.
type Notification struct {
	Kind     Kind
	RoomID   string
	UserID   string
	Username string
	Expired  bool
}

type key struct {
	roomID string
	userID string
}

type entry struct {
	username  string
	expiresAt time.Time
	timer     *time.Timer
}

// Coordinator holds the (room, user) typing state. Notifications are
// delivered to the notify callback outside the state lock, in the order the
// state changed. notify must not call back into the Coordinator.
type Coordinator struct {
	mu      sync.Mutex
	emit    sync.Mutex // held while notify runs; taken before mu is released
	timeout time.Duration
	entries map[key]*entry
	notify  func(Notification)
	now     func() time.Time
	closed  bool
}

// NewCoordinator creates a Coordinator. notify may be nil.
func NewCoordinator(timeout time.Duration, notify func(Notification)) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if notify == nil {
		notify = func(Notification) {}
	}
	return &Coordinator{
		timeout: timeout,
		entries: make(map[key]*entry),
		notify:  notify,
		now:     time.Now,
	}
}

// SetTyping marks userID as typing in roomID with a fresh expiry. Only the
// first call of a burst emits a Started notification.
func (c *Coordinator) SetTyping(roomID, userID, username string) bool {
	k := key{roomID: roomID, userID: userID}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	e, ok := c.entries[k]
	if ok && c.now().Before(e.expiresAt) {
		e.timer.Stop()
		c.armLocked(k, e)
		c.mu.Unlock()
		return false
	}
	if ok {
		// Expired but the timer has not fired yet: the timer will see a
		// new entry and do nothing, so report the stop here.
		e.timer.Stop()
		delete(c.entries, k)
	}
	e = &entry{username: username}
	c.entries[k] = e
	c.armLocked(k, e)
	c.emit.Lock()
	c.mu.Unlock()
	defer c.emit.Unlock()

	if ok {
		c.notify(Notification{Kind: KindStopped, RoomID: roomID, UserID: userID, Username: username, Expired: true})
	}
	c.notify(Notification{Kind: KindStarted, RoomID: roomID, UserID: userID, Username: username})
	return true
}

func (c *Coordinator) armLocked(k key, e *entry) {
	e.expiresAt = c.now().Add(c.timeout)
	e.timer = time.AfterFunc(c.timeout, func() { c.expire(k, e) })
}

func (c *Coordinator) expire(k key, e *entry) {
	c.mu.Lock()
	current, ok := c.entries[k]
	if !ok || current != e || c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return
	}
	delete(c.entries, k)
	c.emit.Lock()
	c.mu.Unlock()
	defer c.emit.Unlock()

	c.notify(Notification{Kind: KindStopped, RoomID: k.roomID, UserID: k.userID, Username: e.username, Expired: true})
}

// ClearTyping removes the typing mark immediately. It reports whether the
// user was typing.
func (c *Coordinator) ClearTyping(roomID, userID string) bool {
	k := key{roomID: roomID, userID: userID}

	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e.timer.Stop()
	delete(c.entries, k)
	c.emit.Lock()
	c.mu.Unlock()
	defer c.emit.Unlock()

	c.notify(Notification{Kind: KindStopped, RoomID: roomID, UserID: userID, Username: e.username})
	return true
}

// ClearUser removes every typing mark of userID, as if a stop event had
// arrived for each room.
func (c *Coordinator) ClearUser(userID string) int {
	c.mu.Lock()
	var cleared []Notification
	for k, e := range c.entries {
		if k.userID != userID {
			continue
		}
		e.timer.Stop()
		delete(c.entries, k)
		cleared = append(cleared, Notification{Kind: KindStopped, RoomID: k.roomID, UserID: userID, Username: e.username})
	}
	c.emit.Lock()
	c.mu.Unlock()
	defer c.emit.Unlock()

	sort.Slice(cleared, func(i, j int) bool { return cleared[i].RoomID < cleared[j].RoomID })
	for _, n := range cleared {
		c.notify(n)
	}
	return len(cleared)
}

// IsTyping reports whether userID is typing in roomID. Entries past their
// expiry count as not typing even before the timer fires.
func (c *Coordinator) IsTyping(roomID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key{roomID: roomID, userID: userID}]
	return ok && c.now().Before(e.expiresAt)
}

// TypingIn returns the users typing in roomID, sorted.
func (c *Coordinator) TypingIn(roomID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var users []string
	for k, e := range c.entries {
		if k.roomID == roomID && now.Before(e.expiresAt) {
			users = append(users, k.userID)
		}
	}
	sort.Strings(users)
	return users
}

// Close stops all timers without emitting notifications.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, k)
	}
	c.closed = true
}
