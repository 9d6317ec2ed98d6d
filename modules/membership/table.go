// Package membership tracks which connections belong to which rooms.
package membership

import (
	"sort"
	"sync"
)

// Departure records that a user's connection left a room.
type Departure struct {
	RoomID string
	UserID string
}

// Table is a thread-safe (connection, room) relation. Rooms are created on
// first join and removed when their last connection leaves.
type Table struct {
	mu    sync.RWMutex
	rooms map[string]map[string]string   // roomID -> connID -> userID
	conns map[string]map[string]struct{} // connID -> set of roomIDs
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{
		rooms: make(map[string]map[string]string),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds connID (speaking for userID) to roomID. It reports whether the
// membership was added; re-joining is a no-op.
func (t *Table) Join(connID, userID, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.conns[connID][roomID]; ok {
		return false
	}

	if t.rooms[roomID] == nil {
		t.rooms[roomID] = make(map[string]string)
	}
	t.rooms[roomID][connID] = userID

	if t.conns[connID] == nil {
		t.conns[connID] = make(map[string]struct{})
	}
	t.conns[connID][roomID] = struct{}{}
	return true
}

// Leave removes connID from roomID and returns the user the connection
// spoke for. Removing a non-member is a no-op.
func (t *Table) Leave(connID, roomID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.removeLocked(connID, roomID)
}

// OnDisconnect removes every membership of connID in one step and returns
// one Departure per affected room.
func (t *Table) OnDisconnect(connID string) []Departure {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms := t.conns[connID]
	if len(rooms) == 0 {
		return nil
	}

	departures := make([]Departure, 0, len(rooms))
	for roomID := range rooms {
		if userID, ok := t.removeLocked(connID, roomID); ok {
			departures = append(departures, Departure{RoomID: roomID, UserID: userID})
		}
	}
	sort.Slice(departures, func(i, j int) bool {
		return departures[i].RoomID < departures[j].RoomID
	})
	return departures
}

func (t *Table) removeLocked(connID, roomID string) (string, bool) {
	members, ok := t.rooms[roomID]
	if !ok {
		return "", false
	}
	userID, ok := members[connID]
	if !ok {
		return "", false
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(t.rooms, roomID)
	}
	delete(t.conns[connID], roomID)
	if len(t.conns[connID]) == 0 {
		delete(t.conns, connID)
	}
	return userID, true
}

// MembersOf returns the distinct user ids holding a membership in roomID,
// sorted.
func (t *Table) MembersOf(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	users := make([]string, 0, len(t.rooms[roomID]))
	for _, userID := range t.rooms[roomID] {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// ConnectionsIn returns the connection ids that are members of roomID.
func (t *Table) ConnectionsIn(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]string, 0, len(t.rooms[roomID]))
	for connID := range t.rooms[roomID] {
		conns = append(conns, connID)
	}
	sort.Strings(conns)
	return conns
}

// RoomsOf returns the rooms connID belongs to, sorted.
func (t *Table) RoomsOf(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := make([]string, 0, len(t.conns[connID]))
	for roomID := range t.conns[connID] {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// IsMember reports whether connID belongs to roomID.
func (t *Table) IsMember(connID, roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.conns[connID][roomID]
	return ok
}

// HasUser reports whether any connection of userID belongs to roomID.
func (t *Table) HasUser(roomID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, u := range t.rooms[roomID] {
		if u == userID {
			return true
		}
	}
	return false
}

// RoomCount returns the number of non-empty rooms.
func (t *Table) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

// RoomSize returns the number of connections in roomID.
func (t *Table) RoomSize(roomID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[roomID])
}
