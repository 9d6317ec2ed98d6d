package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/example/chat-fanout/events"
)

// ServiceActivityStats is the name of the activity summary service.
const ServiceActivityStats = "activity-stats"

// RoomActivity holds the counters of one room. An empty RoomID is the
// global scope.
type RoomActivity struct {
	RoomID          string    `json:"roomId"`
	LocalMessages   int64     `json:"localMessages"`
	RelayedMessages int64     `json:"relayedMessages"`
	Deliveries      int64     `json:"deliveries"`
	Joins           int64     `json:"joins"`
	Leaves          int64     `json:"leaves"`
	TypingStarts    int64     `json:"typingStarts"`
	LastActivity    time.Time `json:"lastActivity"`
}

// Summary is the activity across every room.
type Summary struct {
	LocalMessages   int64          `json:"localMessages"`
	RelayedMessages int64          `json:"relayedMessages"`
	Deliveries      int64          `json:"deliveries"`
	Joins           int64          `json:"joins"`
	Leaves          int64          `json:"leaves"`
	TypingStarts    int64          `json:"typingStarts"`
	TypingExpired   int64          `json:"typingExpired"`
	Rooms           []RoomActivity `json:"rooms"`
}

// StatsRequest is the (empty) activity-stats request.
type StatsRequest struct{}

// Store keeps activity counters per room.
type Store struct {
	mu            sync.RWMutex
	rooms         map[string]*RoomActivity
	typingExpired int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{rooms: make(map[string]*RoomActivity)}
}

func (s *Store) roomLocked(roomID string) *RoomActivity {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &RoomActivity{RoomID: roomID}
		s.rooms[roomID] = r
	}
	return r
}

func touch(r *RoomActivity, at time.Time) {
	if at.After(r.LastActivity) {
		r.LastActivity = at
	}
}

// RecordMessage counts a delivered message.
func (s *Store) RecordMessage(e events.MessageDeliveredEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.roomLocked(e.RoomID)
	if e.Relayed {
		r.RelayedMessages++
	} else {
		r.LocalMessages++
	}
	r.Deliveries += int64(e.Recipients)
	touch(r, e.Timestamp)
}

// RecordPresence counts a presence transition.
func (s *Store) RecordPresence(e events.PresenceChangedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.roomLocked(e.RoomID)
	if e.Online {
		r.Joins++
	} else {
		r.Leaves++
	}
	touch(r, e.Timestamp)
}

// RecordTyping counts typing starts and expired typing marks.
func (s *Store) RecordTyping(e events.TypingChangedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Expired {
		s.typingExpired++
		return
	}
	if !e.Typing {
		return
	}
	r := s.roomLocked(e.RoomID)
	r.TypingStarts++
	touch(r, e.Timestamp)
}

// Room returns a copy of the counters of roomID.
func (s *Store) Room(roomID string) (RoomActivity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return RoomActivity{}, false
	}
	return *r, true
}

// Summary returns the totals and per-room counters sorted by room id.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		TypingExpired: s.typingExpired,
		Rooms:         make([]RoomActivity, 0, len(s.rooms)),
	}
	for _, r := range s.rooms {
		sum.LocalMessages += r.LocalMessages
		sum.RelayedMessages += r.RelayedMessages
		sum.Deliveries += r.Deliveries
		sum.Joins += r.Joins
		sum.Leaves += r.Leaves
		sum.TypingStarts += r.TypingStarts
		sum.Rooms = append(sum.Rooms, *r)
	}
	sort.Slice(sum.Rooms, func(i, j int) bool {
		return sum.Rooms[i].RoomID < sum.Rooms[j].RoomID
	})
	return sum
}
