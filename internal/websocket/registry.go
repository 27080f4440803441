package websocket

import (
	"sync"
)

// Registry maps a user identity to its currently active connection ID.
// A user has at most one live connection at any instant; a newer setup for the
// same identity supersedes the older entry rather than coexisting with it.
type Registry struct {
	mu    sync.RWMutex
	users map[string]string // userID -> connection ID
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]string),
	}
}

// Register binds userID to connID, unconditionally overwriting any prior mapping.
func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = connID
}

// Lookup returns the connection ID currently bound to userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.users[userID]
	return connID, ok
}

// RemoveIfCurrent removes the mapping for userID only if it still points to
// connID. A disconnect of a superseded connection must not evict the newer
// session's mapping.
func (r *Registry) RemoveIfCurrent(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.users[userID]; ok && current == connID {
		delete(r.users, userID)
		return true
	}
	return false
}

// RemoveByConnection scans for and removes whichever user mapping currently
// points at connID. Used when the identity bound to a disconnecting connection
// is not known by the caller. Returns the removed user identity, if any.
func (r *Registry) RemoveByConnection(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, current := range r.users {
		if current == connID {
			delete(r.users, userID)
			return userID, true
		}
	}
	return "", false
}

// OnlineUsers returns all user identities with a registered connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.users))
	for userID := range r.users {
		users = append(users, userID)
	}
	return users
}

// Len returns the number of registered user identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
