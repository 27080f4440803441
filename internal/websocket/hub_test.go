package websocket

import (
	"testing"
	"time"
)

func setupMessage(userID string) *Message {
	return NewMessage("ev-setup", MessageTypeSetup, "", map[string]interface{}{
		"user_id": userID,
	})
}

func joinMessage(roomID string) *Message {
	return NewMessage("ev-join", MessageTypeJoinRoom, "", map[string]interface{}{
		"room_id": roomID,
	})
}

func typingMessage(roomID string) *Message {
	return NewMessage("ev-typing", MessageTypeTypingStart, "", map[string]interface{}{
		"room_id": roomID,
	})
}

// connect registers a client and completes setup.
func connect(t *testing.T, hub *Hub, connID, userID string) *Client {
	t.Helper()
	c := newTestClient(hub, connID)
	hub.registerClient(c)
	hub.dispatch(c, setupMessage(userID))

	connected := recvMessage(t, c)
	if connected.Type != MessageTypeConnected {
		t.Fatalf("Expected connected ack, got %s", connected.Type)
	}
	return c
}

func TestSetupBindsIdentityAndAcks(t *testing.T) {
	hub := newTestHub()
	c := newTestClient(hub, "conn-1")

	hub.registerClient(c)
	if c.State() != StateAwaitingSetup {
		t.Errorf("Expected awaiting_setup after registration, got %s", c.State())
	}

	hub.dispatch(c, setupMessage("user-1"))

	if c.State() != StateActive {
		t.Errorf("Expected active after setup, got %s", c.State())
	}
	if connID, ok := hub.Registry().Lookup("user-1"); !ok || connID != "conn-1" {
		t.Errorf("Expected registry binding user-1 -> conn-1, got %q (ok=%v)", connID, ok)
	}

	connected := recvMessage(t, c)
	if connected.Type != MessageTypeConnected {
		t.Fatalf("Expected connected event, got %s", connected.Type)
	}
	if connected.StringField("client_id") != "conn-1" {
		t.Errorf("Expected client_id in ack, got %v", connected.Data)
	}
	if connected.StringField("resume_token") == "" {
		t.Error("Expected a resume token in the setup ack")
	}
}

func TestSetupWithEmptyIdentityIsIgnored(t *testing.T) {
	hub := newTestHub()
	c := newTestClient(hub, "conn-1")
	hub.registerClient(c)

	hub.dispatch(c, setupMessage(""))

	if c.State() != StateAwaitingSetup {
		t.Errorf("State should not change on invalid setup, got %s", c.State())
	}
	if hub.Registry().Len() != 0 {
		t.Error("No registry binding should exist")
	}
	if msgs := drainMessages(t, c); len(msgs) != 0 {
		t.Errorf("No ack expected, got %d events", len(msgs))
	}
}

func TestNewerSetupSupersedesOlderConnection(t *testing.T) {
	hub := newTestHub()
	c1 := connect(t, hub, "conn-1", "user-1")
	c2 := connect(t, hub, "conn-2", "user-1")
	_ = c2

	if connID, _ := hub.Registry().Lookup("user-1"); connID != "conn-2" {
		t.Fatalf("Expected newer connection to own the mapping, got %s", connID)
	}

	// Disconnect of the superseded connection must not evict the new mapping
	hub.unregisterClient(c1)

	if connID, ok := hub.Registry().Lookup("user-1"); !ok || connID != "conn-2" {
		t.Errorf("Stale disconnect evicted the newer mapping: %q (ok=%v)", connID, ok)
	}
}

func TestJoinRequiresActiveState(t *testing.T) {
	hub := newTestHub()
	c := newTestClient(hub, "conn-1")
	hub.registerClient(c)

	// Not set up yet
	hub.dispatch(c, joinMessage("room-1"))
	if hub.Rooms().MemberCount("room-1") != 0 {
		t.Error("Join before setup should be ignored")
	}

	hub.dispatch(c, setupMessage("user-1"))
	drainMessages(t, c)

	// Empty room identifier
	hub.dispatch(c, joinMessage(""))

	hub.dispatch(c, joinMessage("room-1"))
	if hub.Rooms().MemberCount("room-1") != 1 {
		t.Error("Join after setup should subscribe the connection")
	}
}

func TestUnknownEventTypeIsDropped(t *testing.T) {
	hub := newTestHub()
	c := connect(t, hub, "conn-1", "user-1")

	hub.dispatch(c, NewMessage("ev-x", MessageType("bogus"), "", nil))
	hub.dispatch(c, NewMessage("ev-y", MessageTypeConnected, "", nil)) // outbound-only type

	if msgs := drainMessages(t, c); len(msgs) != 0 {
		t.Errorf("Unknown events should produce nothing, got %d", len(msgs))
	}
}

func TestDisconnectCleanup(t *testing.T) {
	hub := newTestHub()
	alice := connect(t, hub, "conn-alice", "alice")
	bob := connect(t, hub, "conn-bob", "bob")

	hub.dispatch(alice, joinMessage("room-1"))
	hub.dispatch(alice, joinMessage("room-2"))
	hub.dispatch(bob, joinMessage("room-1"))
	hub.dispatch(bob, joinMessage("room-2"))

	hub.dispatch(alice, typingMessage("room-1"))
	hub.dispatch(alice, typingMessage("room-2"))
	drainMessages(t, bob)

	hub.unregisterClient(alice)

	// Typing sets lose alice; she was the last typer in both rooms
	bobMsgs := drainMessages(t, bob)
	if n := countByType(bobMsgs, MessageTypeTypingStopped); n != 2 {
		t.Errorf("Expected stopped-typing in both rooms, got %d", n)
	}

	// Membership gone on both sides
	if hub.Rooms().MemberCount("room-1") != 1 || hub.Rooms().MemberCount("room-2") != 1 {
		t.Error("Rooms should only contain bob after cleanup")
	}
	if len(hub.Rooms().Rooms("conn-alice")) != 0 {
		t.Error("Joined-room set should be empty after cleanup")
	}

	// Presence mapping removed
	if _, ok := hub.Registry().Lookup("alice"); ok {
		t.Error("Presence mapping should be removed on disconnect")
	}

	if hub.ConnectionCount() != 1 {
		t.Errorf("Expected 1 live connection, got %d", hub.ConnectionCount())
	}
	if alice.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", alice.State())
	}
}

func TestStaleDisconnectKeepsNewerTypingState(t *testing.T) {
	hub := newTestHub()
	c1 := connect(t, hub, "conn-1", "user-1")
	observer := connect(t, hub, "conn-obs", "observer")

	hub.dispatch(c1, joinMessage("room-1"))
	hub.dispatch(observer, joinMessage("room-1"))

	// The user reconnects and resumes typing on the newer connection
	c2 := connect(t, hub, "conn-2", "user-1")
	hub.dispatch(c2, joinMessage("room-1"))
	hub.dispatch(c2, typingMessage("room-1"))
	drainMessages(t, observer)

	// The superseded connection finally times out
	hub.unregisterClient(c1)

	if users := hub.typing.TypingUsers("room-1"); len(users) != 1 || users[0] != "user-1" {
		t.Errorf("Newer connection's typing state should survive, got %v", users)
	}
	if msgs := drainMessages(t, observer); countByType(msgs, MessageTypeTypingStopped) != 0 {
		t.Error("No stopped-typing broadcast expected for a stale disconnect")
	}
}

func TestResumeMirrorsRestoredRooms(t *testing.T) {
	presence := &mockPresence{}
	hub := NewHub(presence, nil, DefaultHubConfig())

	c1 := connect(t, hub, "conn-1", "user-1")
	hub.dispatch(c1, joinMessage("room-1"))
	token := c1.ResumeToken()

	hub.unregisterClient(c1)

	c2 := newTestClient(hub, "conn-2")
	c2.setResumeToken(token)
	hub.registerClient(c2)
	recvMessage(t, c2) // connected ack

	presence.mu.Lock()
	defer presence.mu.Unlock()
	// join, leave on disconnect, join again on resume
	if len(presence.joins) != 2 || presence.joins[1] != "user-1:room-1" {
		t.Errorf("Expected restored membership mirrored back, got joins=%v", presence.joins)
	}
	if len(presence.leaves) != 1 {
		t.Errorf("Expected a single leave mirror from the disconnect, got %v", presence.leaves)
	}
}

func TestRelayedMessageCarriesBoundIdentity(t *testing.T) {
	hub := newTestHub()
	alice := connect(t, hub, "conn-alice", "alice")
	bob := connect(t, hub, "conn-bob", "bob")
	hub.dispatch(alice, joinMessage("room-1"))
	hub.dispatch(bob, joinMessage("room-1"))

	// The envelope claims another user's identity
	spoofed := NewMessage("msg-1", MessageTypeNewMessage, "mallory", map[string]interface{}{
		"room_id": "room-1",
		"text":    "hi",
	})
	hub.dispatch(alice, spoofed)

	got := recvMessage(t, bob)
	if got.Type != MessageTypeMessageReceived {
		t.Fatalf("Expected message.received, got %s", got.Type)
	}
	if got.UserID != "alice" {
		t.Errorf("Relayed message must carry the sender's bound identity, got %q", got.UserID)
	}
}

func TestDisconnectCleanupIsIdempotent(t *testing.T) {
	hub := newTestHub()
	c := connect(t, hub, "conn-1", "user-1")

	hub.unregisterClient(c)
	hub.unregisterClient(c)

	if hub.ConnectionCount() != 0 {
		t.Errorf("Expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestReconnectionWithinWindowRestoresState(t *testing.T) {
	hub := newTestHubWithConfig(HubConfig{RecoveryWindow: time.Minute})
	c1 := connect(t, hub, "conn-1", "user-1")
	hub.dispatch(c1, joinMessage("room-1"))
	hub.dispatch(c1, joinMessage("room-2"))
	token := c1.ResumeToken()

	hub.unregisterClient(c1)

	// Resume on a fresh connection without replaying setup or joins
	c2 := newTestClient(hub, "conn-2")
	c2.setResumeToken(token)
	hub.registerClient(c2)

	connected := recvMessage(t, c2)
	if connected.Type != MessageTypeConnected {
		t.Fatalf("Expected connected event, got %s", connected.Type)
	}
	if resumed, _ := connected.Data["resumed"].(bool); !resumed {
		t.Error("Expected resumed=true in the ack")
	}

	if c2.State() != StateActive {
		t.Errorf("Expected active state after resume, got %s", c2.State())
	}
	if c2.UserID() != "user-1" {
		t.Errorf("Expected restored identity, got %q", c2.UserID())
	}
	if connID, _ := hub.Registry().Lookup("user-1"); connID != "conn-2" {
		t.Errorf("Expected registry rebound to conn-2, got %s", connID)
	}
	if !hub.Rooms().Contains("conn-2", "room-1") || !hub.Rooms().Contains("conn-2", "room-2") {
		t.Error("Expected room memberships restored without replaying joins")
	}
}

func TestReconnectionAfterWindowRequiresReplay(t *testing.T) {
	hub := newTestHubWithConfig(HubConfig{RecoveryWindow: 20 * time.Millisecond})
	c1 := connect(t, hub, "conn-1", "user-1")
	hub.dispatch(c1, joinMessage("room-1"))
	token := c1.ResumeToken()

	hub.unregisterClient(c1)
	time.Sleep(60 * time.Millisecond)

	c2 := newTestClient(hub, "conn-2")
	c2.setResumeToken(token)
	hub.registerClient(c2)

	if c2.State() != StateAwaitingSetup {
		t.Errorf("Expected awaiting_setup after expired resume, got %s", c2.State())
	}
	if msgs := drainMessages(t, c2); len(msgs) != 0 {
		t.Errorf("No connected ack expected for expired token, got %d events", len(msgs))
	}
	if _, ok := hub.Registry().Lookup("user-1"); ok {
		t.Error("No registry binding should exist until setup is replayed")
	}

	// Client replays setup and join explicitly
	hub.dispatch(c2, setupMessage("user-1"))
	drainMessages(t, c2)
	hub.dispatch(c2, joinMessage("room-1"))
	if !hub.Rooms().Contains("conn-2", "room-1") {
		t.Error("Replayed join should restore membership")
	}
}

func TestStaleDisconnectDoesNotSuspendSession(t *testing.T) {
	hub := newTestHub()
	c1 := connect(t, hub, "conn-1", "user-1")
	token1 := c1.ResumeToken()
	connect(t, hub, "conn-2", "user-1")

	// conn-1 was superseded; its disconnect must not park a resumable session
	hub.unregisterClient(c1)

	c3 := newTestClient(hub, "conn-3")
	c3.setResumeToken(token1)
	hub.registerClient(c3)

	if c3.State() != StateAwaitingSetup {
		t.Error("Superseded connection's token must not resume")
	}
}

func TestPresenceMirrorTransitions(t *testing.T) {
	presence := &mockPresence{}
	hub := NewHub(presence, nil, DefaultHubConfig())

	c := connect(t, hub, "conn-1", "user-1")
	hub.dispatch(c, joinMessage("room-1"))
	hub.unregisterClient(c)

	presence.mu.Lock()
	defer presence.mu.Unlock()
	if len(presence.online) != 1 || presence.online[0] != "user-1" {
		t.Errorf("Expected online transition, got %v", presence.online)
	}
	if len(presence.joins) != 1 || presence.joins[0] != "user-1:room-1" {
		t.Errorf("Expected join mirror, got %v", presence.joins)
	}
	if len(presence.leaves) != 1 || presence.leaves[0] != "user-1:room-1" {
		t.Errorf("Expected leave mirror, got %v", presence.leaves)
	}
	if len(presence.offline) != 1 || presence.offline[0] != "user-1" {
		t.Errorf("Expected offline transition, got %v", presence.offline)
	}
}

func TestHubRunProcessesLifecycle(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	c := newTestClient(hub, "conn-1")
	hub.register <- c

	hub.inbound <- &clientMessage{client: c, message: setupMessage("user-1")}

	connected := recvMessage(t, c)
	if connected.Type != MessageTypeConnected {
		t.Fatalf("Expected connected event, got %s", connected.Type)
	}

	hub.unregister <- c

	deadline := time.After(2 * time.Second)
	for hub.ConnectionCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("Expected connection removed by the event loop")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
