// Package presence derives online users per room from membership changes.
package presence

import (
	"sort"
	"sync"

	"github.com/example/chat-fanout/modules/membership"
)

// Kind is the direction of a presence transition.
type Kind int

const (
	KindJoined Kind = iota + 1
	KindLeft
)

func (k Kind) String() string {
	switch k {
	case KindJoined:
		return "joined"
	case KindLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Transition is a zero<->nonzero change of a user's connection count in a room.
type Transition struct {
	Kind   Kind
	RoomID string
	UserID string
}

// Tracker counts connections per (room, user) and reports only the
// transitions between zero and one-or-more.
type Tracker struct {
	mu     sync.RWMutex
	counts map[string]map[string]int // roomID -> userID -> connection count
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]map[string]int)}
}

// Joined records a new membership of userID in roomID. It returns a
// transition when this is the user's first connection in the room.
func (p *Tracker) Joined(roomID, userID string) (Transition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := p.counts[roomID]
	if users == nil {
		users = make(map[string]int)
		p.counts[roomID] = users
	}
	users[userID]++
	if users[userID] == 1 {
		return Transition{Kind: KindJoined, RoomID: roomID, UserID: userID}, true
	}
	return Transition{}, false
}

// Left records a removed membership. It returns a transition when the
// user's last connection in the room is gone.
func (p *Tracker) Left(roomID, userID string) (Transition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leftLocked(roomID, userID)
}

// Departed applies the memberships removed by a disconnect and returns the
// resulting transitions, at most one per room.
func (p *Tracker) Departed(departures []membership.Departure) []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()

	var transitions []Transition
	for _, d := range departures {
		if tr, ok := p.leftLocked(d.RoomID, d.UserID); ok {
			transitions = append(transitions, tr)
		}
	}
	return transitions
}

func (p *Tracker) leftLocked(roomID, userID string) (Transition, bool) {
	users := p.counts[roomID]
	if users[userID] == 0 {
		return Transition{}, false
	}
	users[userID]--
	if users[userID] > 0 {
		return Transition{}, false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(p.counts, roomID)
	}
	return Transition{Kind: KindLeft, RoomID: roomID, UserID: userID}, true
}

// OnlineUsers returns the users currently online in roomID, sorted.
func (p *Tracker) OnlineUsers(roomID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := make([]string, 0, len(p.counts[roomID]))
	for userID := range p.counts[roomID] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// IsOnline reports whether userID has at least one connection in roomID.
func (p *Tracker) IsOnline(roomID, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[roomID][userID] > 0
}
