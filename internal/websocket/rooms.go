package websocket

import (
	"log/slog"
	"sync"
)

// RoomStore tracks which connections are subscribed to which rooms and fans
// events out to room members. Both sides of the membership relation live under
// one lock so a connection's joined-room set and a room's member set can never
// disagree.
type RoomStore struct {
	mu      sync.RWMutex
	members map[string]map[string]*Client // roomID -> connID -> client
	joined  map[string]map[string]bool    // connID -> roomID set
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		members: make(map[string]map[string]*Client),
		joined:  make(map[string]map[string]bool),
	}
}

// Join subscribes a client to a room. Idempotent; rooms are created implicitly
// on first join.
func (rs *RoomStore) Join(client *Client, roomID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.members[roomID] == nil {
		rs.members[roomID] = make(map[string]*Client)
	}
	rs.members[roomID][client.ID()] = client

	if rs.joined[client.ID()] == nil {
		rs.joined[client.ID()] = make(map[string]bool)
	}
	rs.joined[client.ID()][roomID] = true
}

// Leave unsubscribes a connection from a room. Idempotent; empty rooms are
// deleted on the way out.
func (rs *RoomStore) Leave(connID, roomID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.leaveLocked(connID, roomID)
}

// LeaveAll unsubscribes a connection from every room it joined and returns the
// rooms it left. Invoked on disconnect.
func (rs *RoomStore) LeaveAll(connID string) []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rooms := make([]string, 0, len(rs.joined[connID]))
	for roomID := range rs.joined[connID] {
		rooms = append(rooms, roomID)
	}
	for _, roomID := range rooms {
		rs.leaveLocked(connID, roomID)
	}
	return rooms
}

func (rs *RoomStore) leaveLocked(connID, roomID string) {
	if members, ok := rs.members[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(rs.members, roomID)
		}
	}
	if rooms, ok := rs.joined[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(rs.joined, connID)
		}
	}
}

// Rooms returns the rooms a connection is currently subscribed to.
func (rs *RoomStore) Rooms(connID string) []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rooms := make([]string, 0, len(rs.joined[connID]))
	for roomID := range rs.joined[connID] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Contains reports whether a connection is subscribed to a room.
func (rs *RoomStore) Contains(connID, roomID string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	members, ok := rs.members[roomID]
	if !ok {
		return false
	}
	_, ok = members[connID]
	return ok
}

// MemberCount returns the number of connections subscribed to a room.
func (rs *RoomStore) MemberCount(roomID string) int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.members[roomID])
}

// Broadcast delivers msg to every member of the room except excludeConnID.
// The member set is snapshotted under the read lock and the lock released
// before any delivery, so a slow recipient never stalls membership mutations.
// Delivery to each member is independent and best-effort: a failed enqueue is
// logged and the remaining members still receive the event.
func (rs *RoomStore) Broadcast(roomID string, msg *Message, excludeConnID string) {
	rs.mu.RLock()
	targets := make([]*Client, 0, len(rs.members[roomID]))
	for connID, client := range rs.members[roomID] {
		if connID == excludeConnID {
			continue
		}
		targets = append(targets, client)
	}
	rs.mu.RUnlock()

	for _, client := range targets {
		if err := client.Send(msg); err != nil {
			slog.Warn("Failed to deliver event to room member",
				"roomID", roomID, "clientID", client.ID(), "type", msg.Type, "error", err)
		}
	}
}
