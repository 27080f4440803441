package websocket

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultTypingCooldown = 1 * time.Second
	defaultTypingExpiry   = 3 * time.Second
)

// typingEntry tracks one (room, user) pair currently marked as typing
type typingEntry struct {
	connID        string
	lastBroadcast time.Time
	timer         *time.Timer
}

// TypingTracker computes the room-level "someone is typing" aggregate.
// A "typing" broadcast for a pair is suppressed while within the cooldown of
// the previous one, and every renewal rearms the expiry timer. The room-wide
// "typing.stopped" event fires exactly when a room's typing set transitions
// from non-empty to empty, whether by explicit stop, expiry, or disconnect.
type TypingTracker struct {
	mu       sync.Mutex
	rooms    *RoomStore
	cooldown time.Duration
	expiry   time.Duration
	typing   map[string]map[string]*typingEntry // roomID -> userID -> entry
}

func NewTypingTracker(rooms *RoomStore, cooldown, expiry time.Duration) *TypingTracker {
	if cooldown <= 0 {
		cooldown = defaultTypingCooldown
	}
	if expiry <= 0 {
		expiry = defaultTypingExpiry
	}
	return &TypingTracker{
		rooms:    rooms,
		cooldown: cooldown,
		expiry:   expiry,
		typing:   make(map[string]map[string]*typingEntry),
	}
}

// Start marks userID as typing in roomID and broadcasts "typing" to the other
// room members unless a broadcast for this pair already went out within the
// cooldown. The expiry timer is rearmed on every call.
func (t *TypingTracker) Start(roomID, userID, connID string) {
	t.mu.Lock()

	if t.typing[roomID] == nil {
		t.typing[roomID] = make(map[string]*typingEntry)
	}

	now := time.Now()
	broadcast := false

	entry, ok := t.typing[roomID][userID]
	if !ok {
		entry = &typingEntry{connID: connID, lastBroadcast: now}
		t.typing[roomID][userID] = entry
		broadcast = true
	} else {
		entry.connID = connID
		if now.Sub(entry.lastBroadcast) >= t.cooldown {
			entry.lastBroadcast = now
			broadcast = true
		}
	}
	t.rearmLocked(entry, roomID, userID)

	t.mu.Unlock()

	if broadcast {
		t.rooms.Broadcast(roomID, NewTypingMessage(roomID, userID), connID)
	}
}

// Stop clears userID's typing state in roomID. Stopping a pair that is not
// typing is a no-op, not an error. Broadcasts "typing.stopped" when the room's
// typing set became empty as a result.
func (t *TypingTracker) Stop(roomID, userID string) {
	t.mu.Lock()
	emptied := t.removeLocked(roomID, userID)
	t.mu.Unlock()

	if emptied {
		t.rooms.Broadcast(roomID, NewTypingStoppedMessage(roomID), "")
	}
}

// StopAll clears userID's typing state in every room, applying the same
// empty-set broadcast rule per room. Invoked on disconnect. Entries owned by
// a different connection are left alone: a superseded connection's terminal
// disconnect must not wipe the typing state the user re-established on its
// newer connection.
func (t *TypingTracker) StopAll(userID, connID string) {
	t.mu.Lock()
	emptiedRooms := make([]string, 0)
	for roomID, users := range t.typing {
		entry, ok := users[userID]
		if !ok || entry.connID != connID {
			continue
		}
		if t.removeLocked(roomID, userID) {
			emptiedRooms = append(emptiedRooms, roomID)
		}
	}
	t.mu.Unlock()

	for _, roomID := range emptiedRooms {
		t.rooms.Broadcast(roomID, NewTypingStoppedMessage(roomID), "")
	}
}

// TypingUsers returns the users currently marked typing in a room.
func (t *TypingTracker) TypingUsers(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0, len(t.typing[roomID]))
	for userID := range t.typing[roomID] {
		users = append(users, userID)
	}
	return users
}

// removeLocked deletes the pair and reports whether the room's typing set
// transitioned to empty. Caller holds t.mu.
func (t *TypingTracker) removeLocked(roomID, userID string) bool {
	users, ok := t.typing[roomID]
	if !ok {
		return false
	}
	entry, ok := users[userID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.typing, roomID)
		return true
	}
	return false
}

// rearmLocked replaces the pair's expiry timer. The expiry callback compares
// the entry's current timer against its own to discard fires that lost the
// race with a renewal. Caller holds t.mu.
func (t *TypingTracker) rearmLocked(entry *typingEntry, roomID, userID string) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.expiry, func() {
		t.expire(roomID, userID, timer)
	})
	entry.timer = timer
}

func (t *TypingTracker) expire(roomID, userID string, timer *time.Timer) {
	t.mu.Lock()
	entry, ok := t.typing[roomID][userID]
	if !ok || entry.timer != timer {
		// Renewed or already stopped while this fire was pending
		t.mu.Unlock()
		return
	}
	emptied := t.removeLocked(roomID, userID)
	t.mu.Unlock()

	slog.Debug("Typing state expired", "roomID", roomID, "userID", userID)

	if emptied {
		t.rooms.Broadcast(roomID, NewTypingStoppedMessage(roomID), "")
	}
}
