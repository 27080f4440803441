package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
)

var ErrClientDisconnected = fmt.Errorf("client disconnected")

// PresenceStore mirrors live presence into an external store so other service
// instances can answer "who is online" queries. All methods are best-effort
// from the hub's point of view; failures are logged and never affect
// connection processing.
type PresenceStore interface {
	UserOnline(ctx context.Context, userID string) error
	UserOffline(ctx context.Context, userID string) error
	UserJoinedRoom(ctx context.Context, userID, roomID string) error
	UserLeftRoom(ctx context.Context, userID, roomID string) error
}

type clientMessage struct {
	client  *Client
	message *Message
}

// HubConfig carries the tunables of the coordination engine.
type HubConfig struct {
	RecoveryWindow time.Duration
	TypingCooldown time.Duration
	TypingExpiry   time.Duration
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		RecoveryWindow: defaultRecoveryWindow,
		TypingCooldown: defaultTypingCooldown,
		TypingExpiry:   defaultTypingExpiry,
	}
}

// Hub orchestrates connection lifecycle: setup, room joins, typing signals,
// message relay, reconnection recovery, and disconnect cleanup. Inbound events
// from a connection are processed in arrival order on the hub's single event
// loop; no ordering is guaranteed across connections.
type Hub struct {
	// Live connections by connection ID
	clients map[string]*Client

	// Core coordination services
	registry *Registry
	rooms    *RoomStore
	typing   *TypingTracker
	relay    *Relay
	sessions *SessionStore

	// Register requests from new connections
	register chan *Client

	// Unregister requests from disconnecting connections
	unregister chan *Client

	// Inbound events from connections
	inbound chan *clientMessage

	// Dispatch table keyed by event type
	handlers map[MessageType]func(*Client, *Message)

	// External presence mirror; may be nil
	presence PresenceStore

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	// Guards the clients map against readers off the event loop
	mu sync.RWMutex

	startedAt time.Time
}

// NewHub wires the coordination services together. presence and sink may be
// nil when no Redis or Kafka backend is configured.
func NewHub(presence PresenceStore, sink MessageSink, cfg HubConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	rooms := NewRoomStore()
	hub := &Hub{
		clients:    make(map[string]*Client),
		registry:   NewRegistry(),
		rooms:      rooms,
		typing:     NewTypingTracker(rooms, cfg.TypingCooldown, cfg.TypingExpiry),
		relay:      NewRelay(rooms, sink),
		sessions:   NewSessionStore(cfg.RecoveryWindow),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *clientMessage),
		presence:   presence,
		ctx:        ctx,
		cancel:     cancel,
		startedAt:  time.Now(),
	}

	hub.handlers = map[MessageType]func(*Client, *Message){
		MessageTypeSetup:       hub.handleSetup,
		MessageTypeJoinRoom:    hub.handleJoinRoom,
		MessageTypeTypingStart: hub.handleTypingStart,
		MessageTypeTypingStop:  hub.handleTypingStop,
		MessageTypeNewMessage:  hub.handleNewMessage,
	}

	return hub
}

// Run drives the hub's event loop until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case cm := <-h.inbound:
			h.dispatch(cm.client, cm.message)

		case <-h.ctx.Done():
			slog.Info("WebSocket hub shutting down")
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Uptime reports how long the hub has been running.
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// Registry exposes the presence binding for introspection.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Rooms exposes room membership for introspection.
func (h *Hub) Rooms() *RoomStore {
	return h.rooms
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID()] = client
	h.mu.Unlock()

	client.setState(StateAwaitingSetup)
	slog.Info("Client registered", "clientID", client.ID())

	if token := client.ResumeToken(); token != "" {
		h.resumeSession(client, token)
	}
}

// resumeSession restores a suspended session's identity binding and room
// memberships onto a fresh connection, when its recovery window is still open.
func (h *Hub) resumeSession(client *Client, token string) {
	userID, rooms, ok := h.sessions.Resume(token)
	if !ok {
		// Window elapsed or token unknown; the client must replay setup and joins
		slog.Info("Session resume rejected", "clientID", client.ID())
		client.setResumeToken("")
		return
	}

	client.setUserID(userID)
	h.registry.Register(userID, client.ID())
	for _, roomID := range rooms {
		h.rooms.Join(client, roomID)
		if h.presence != nil {
			// Disconnect mirrored the user out of these rooms; restore the mirror
			if err := h.presence.UserJoinedRoom(h.ctx, userID, roomID); err != nil {
				slog.Error("Failed to mirror room join", "userID", userID, "roomID", roomID, "error", err)
			}
		}
	}
	client.setState(StateActive)

	h.markOnline(userID)
	slog.Info("Session resumed", "clientID", client.ID(), "userID", userID, "rooms", len(rooms))

	connected := NewConnectedMessage(newEventID(), client.ID(), userID, token, true)
	if err := client.Send(connected); err != nil {
		slog.Warn("Failed to ack resumed session", "clientID", client.ID(), "error", err)
	}
}

// unregisterClient runs the disconnect cleanup path. Every step executes even
// when an earlier one had nothing to remove; steps never propagate errors to
// other connections.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID())
	h.mu.Unlock()

	client.close()

	userID := client.UserID()

	// Implicit stop-typing for every room this connection marked the user
	// typing in; state owned by a newer connection stays intact
	if userID != "" {
		h.typing.StopAll(userID, client.ID())
	}

	rooms := h.rooms.LeaveAll(client.ID())

	// A stale disconnect must not evict a newer session's presence mapping
	removed := false
	if userID != "" {
		removed = h.registry.RemoveIfCurrent(userID, client.ID())
	} else {
		userID, removed = h.registry.RemoveByConnection(client.ID())
	}

	if removed {
		if h.presence != nil {
			for _, roomID := range rooms {
				if err := h.presence.UserLeftRoom(h.ctx, userID, roomID); err != nil {
					slog.Error("Failed to mirror room leave", "userID", userID, "roomID", roomID, "error", err)
				}
			}
		}
		h.markOffline(userID)
	}

	// Park the session for the recovery window so a prompt reconnect can
	// reclaim its memberships without replaying setup and joins
	if removed && client.ResumeToken() != "" {
		h.sessions.Suspend(client.ResumeToken(), userID, rooms)
	}

	slog.Info("Client unregistered",
		"clientID", client.ID(), "userID", userID, "rooms", len(rooms), "state", client.State().String())
}

// dispatch routes one inbound event to its handler. Unknown or malformed
// events are dropped; the connection stays open.
func (h *Hub) dispatch(client *Client, msg *Message) {
	if err := msg.Validate(); err != nil {
		slog.Warn("Dropped invalid event", "clientID", client.ID(), "error", err)
		return
	}

	handler, ok := h.handlers[msg.Type]
	if !ok {
		slog.Warn("No handler for event type", "clientID", client.ID(), "type", msg.Type)
		return
	}
	handler(client, msg)
}

func (h *Hub) handleSetup(client *Client, msg *Message) {
	userID := msg.StringField("user_id")
	if userID == "" {
		slog.Warn("Setup with empty user identity ignored", "clientID", client.ID())
		return
	}

	h.registry.Register(userID, client.ID())
	client.setUserID(userID)
	if client.ResumeToken() == "" {
		client.setResumeToken(uuid.New().String())
	}
	client.setState(StateActive)

	h.markOnline(userID)
	slog.Info("Client setup complete", "clientID", client.ID(), "userID", userID)

	connected := NewConnectedMessage(msg.ID, client.ID(), userID, client.ResumeToken(), false)
	if err := client.Send(connected); err != nil {
		slog.Warn("Failed to ack setup", "clientID", client.ID(), "error", err)
	}
}

func (h *Hub) handleJoinRoom(client *Client, msg *Message) {
	roomID := msg.StringField("room_id")
	if roomID == "" || client.State() != StateActive {
		slog.Warn("Join room ignored",
			"clientID", client.ID(), "roomID", roomID, "state", client.State().String())
		return
	}

	h.rooms.Join(client, roomID)
	slog.Info("Client joined room", "clientID", client.ID(), "userID", client.UserID(), "roomID", roomID)

	if h.presence != nil {
		if err := h.presence.UserJoinedRoom(h.ctx, client.UserID(), roomID); err != nil {
			slog.Error("Failed to mirror room join", "userID", client.UserID(), "roomID", roomID, "error", err)
		}
	}
}

func (h *Hub) handleTypingStart(client *Client, msg *Message) {
	roomID := msg.StringField("room_id")
	userID := client.UserID()
	if roomID == "" || userID == "" || client.State() != StateActive {
		slog.Warn("Typing event ignored", "clientID", client.ID(), "roomID", roomID)
		return
	}
	h.typing.Start(roomID, userID, client.ID())
}

func (h *Hub) handleTypingStop(client *Client, msg *Message) {
	roomID := msg.StringField("room_id")
	if roomID == "" {
		return
	}
	// Stop-typing for an unknown room or pair is a no-op
	h.typing.Stop(roomID, client.UserID())
}

func (h *Hub) handleNewMessage(client *Client, msg *Message) {
	// The bound identity, never the one the client put on the envelope
	msg.UserID = client.UserID()
	h.relay.Send(client, msg)
}

func (h *Hub) markOnline(userID string) {
	if h.presence == nil {
		return
	}
	if err := h.presence.UserOnline(h.ctx, userID); err != nil {
		slog.Error("Failed to set user online", "userID", userID, "error", err)
	}
}

func (h *Hub) markOffline(userID string) {
	if h.presence == nil {
		return
	}
	if err := h.presence.UserOffline(h.ctx, userID); err != nil {
		slog.Error("Failed to set user offline", "userID", userID, "error", err)
	}
}
