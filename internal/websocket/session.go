package websocket

import (
	"log/slog"
	"sync"
	"time"
)

const defaultRecoveryWindow = 30 * time.Second

// suspendedSession is the state parked for a disconnected client while its
// recovery window is open: the identity binding and room memberships it can
// reclaim without replaying setup and joins.
type suspendedSession struct {
	userID string
	rooms  []string
	timer  *time.Timer
}

// SessionStore holds suspended sessions keyed by resume token. Expiry is
// irreversible: once the window elapses the token is discarded and the client
// must rebuild its state from scratch.
type SessionStore struct {
	mu       sync.Mutex
	window   time.Duration
	sessions map[string]*suspendedSession
}

func NewSessionStore(window time.Duration) *SessionStore {
	if window <= 0 {
		window = defaultRecoveryWindow
	}
	return &SessionStore{
		window:   window,
		sessions: make(map[string]*suspendedSession),
	}
}

// Suspend parks a disconnected client's state under its resume token and arms
// the recovery window. A second suspend for the same token replaces the first.
func (s *SessionStore) Suspend(token, userID string, rooms []string) {
	if token == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sessions[token]; ok {
		prev.timer.Stop()
	}
	s.sessions[token] = &suspendedSession{
		userID: userID,
		rooms:  rooms,
		timer: time.AfterFunc(s.window, func() {
			s.expire(token)
		}),
	}
}

// Resume claims the session for token, if its window is still open. The
// session is consumed either way it is found.
func (s *SessionStore) Resume(token string) (userID string, rooms []string, ok bool) {
	if token == "" {
		return "", nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, found := s.sessions[token]
	if !found {
		return "", nil, false
	}
	session.timer.Stop()
	delete(s.sessions, token)
	return session.userID, session.rooms, true
}

// Len returns the number of sessions currently suspended.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) expire(token string) {
	s.mu.Lock()
	session, ok := s.sessions[token]
	if ok {
		delete(s.sessions, token)
	}
	s.mu.Unlock()

	if ok {
		slog.Debug("Recovery window elapsed, session discarded", "userID", session.userID)
	}
}
