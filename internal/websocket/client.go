package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// ClientState tracks where a connection is in its lifecycle
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateAwaitingSetup
	StateActive
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetup:
		return "awaiting_setup"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one live bidirectional transport session. It is owned by the hub:
// all state transitions happen on the hub's event loop, while the read and
// write pumps run as the connection's own goroutines.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu          sync.RWMutex
	userID      string // unset until setup completes
	resumeToken string
	state       int32 // atomic ClientState

	// Connection state management
	closed int32 // atomic flag to track if client is closed
	done   chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:    uuid.New().String(),
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, 256),
		state: int32(StateConnecting),
		done:  make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *Client) ResumeToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resumeToken
}

func (c *Client) setResumeToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeToken = token
}

func (c *Client) State() ClientState {
	return ClientState(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(state ClientState) {
	atomic.StoreInt32(&c.state, int32(state))
}

// isClosed returns true if the client is closed
func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// close marks the client as closed; safe to call more than once
func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.setState(StateClosed)
		close(c.done)
		slog.Debug("Client marked as closed", "clientID", c.id, "userID", c.UserID())
	}
}

// Send enqueues a message on the client's outbound buffer. A full buffer means
// a slow consumer; the client is closed rather than letting the delivering
// task block beyond the bounded attempt.
func (c *Client) Send(msg *Message) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientDisconnected
	default:
		slog.Warn("Send buffer full, closing client", "clientID", c.id, "userID", c.UserID())
		c.close()
		return ErrClientDisconnected
	}
}

func (c *Client) sendError(code, message string) {
	errorMsg := NewErrorMessage(newEventID(), c.UserID(), code, message)
	if err := c.Send(errorMsg); err != nil {
		slog.Debug("Failed to send error event", "clientID", c.id, "error", err)
	}
}

// readPump reads events off the connection in arrival order and hands them to
// the hub. One goroutine per connection; errors here are isolated to this
// connection's cleanup path.
func (c *Client) readPump() {
	defer func() {
		c.close()

		select {
		case c.hub.unregister <- c:
		case <-time.After(5 * time.Second):
			slog.Warn("Timeout sending unregister request", "clientID", c.id, "userID", c.UserID())
		}

		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "clientID", c.id, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "clientID", c.id, "userID", c.UserID(), "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.id, "userID", c.UserID(), "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Warn("Failed to unmarshal event", "clientID", c.id, "error", err)
			c.sendError(CodeInvalidMessage, "Invalid event format")
			continue
		}
		if msg.ID == "" {
			msg.ID = newEventID()
		}

		select {
		case c.hub.inbound <- &clientMessage{client: c, message: &msg}:
		case <-time.After(5 * time.Second):
			slog.Warn("Timeout handing event to hub", "clientID", c.id, "type", msg.Type)
		case <-c.done:
			return
		}
	}
}

// writePump drains the outbound buffer onto the connection and keeps the peer
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		slog.Debug("WritePump finished", "clientID", c.id, "userID", c.UserID())
	}()

	for {
		select {
		case message, ok := <-c.send:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message", "clientID", c.id, "error", err)
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "clientID", c.id, "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// ServeWS registers an upgraded connection with the hub and starts its pumps.
// resumeToken, when non-empty, asks the hub to restore a suspended session.
func ServeWS(hub *Hub, conn *websocket.Conn, resumeToken string) {
	client := NewClient(hub, conn)
	client.setResumeToken(resumeToken)

	slog.Info("New WebSocket connection established", "clientID", client.id)

	select {
	case hub.register <- client:
	case <-time.After(5 * time.Second):
		slog.Error("Timeout sending registration request", "clientID", client.id)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Upgrade upgrades an HTTP request and hands the connection to the hub.
func Upgrade(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	ServeWS(hub, conn, r.URL.Query().Get("resume"))
	return nil
}
