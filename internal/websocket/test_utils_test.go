package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// newTestHub builds a hub without presence or sink backends. The event loop is
// not started; tests drive handlers directly for determinism.
func newTestHub() *Hub {
	return NewHub(nil, nil, DefaultHubConfig())
}

func newTestHubWithConfig(cfg HubConfig) *Hub {
	return NewHub(nil, nil, cfg)
}

// newTestClient builds a client with no underlying connection. Outbound events
// land in the send buffer where tests can inspect them.
func newTestClient(hub *Hub, id string) *Client {
	return &Client{
		id:    id,
		hub:   hub,
		send:  make(chan []byte, 256),
		state: int32(StateConnecting),
		done:  make(chan struct{}),
	}
}

// recvMessage pops the next outbound event from a client's send buffer.
func recvMessage(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal outbound event: %v", err)
		}
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for outbound event")
		return nil
	}
}

// tryRecvMessage returns the next outbound event if one is already buffered.
func tryRecvMessage(t *testing.T, c *Client) (*Message, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal outbound event: %v", err)
		}
		return &msg, true
	default:
		return nil, false
	}
}

// drainMessages empties a client's send buffer and returns everything found.
func drainMessages(t *testing.T, c *Client) []*Message {
	t.Helper()
	var msgs []*Message
	for {
		msg, ok := tryRecvMessage(t, c)
		if !ok {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func countByType(msgs []*Message, msgType MessageType) int {
	n := 0
	for _, m := range msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

// mockSink records published payloads for assertions
type mockSink struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newMockSink() *mockSink {
	return &mockSink{payloads: make(map[string][][]byte)}
}

func (m *mockSink) Publish(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[key] = append(m.payloads[key], payload)
	return nil
}

func (m *mockSink) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads[key])
}

// mockPresence records presence transitions for assertions
type mockPresence struct {
	mu      sync.Mutex
	online  []string
	offline []string
	joins   []string
	leaves  []string
}

func (m *mockPresence) UserOnline(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, userID)
	return nil
}

func (m *mockPresence) UserOffline(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, userID)
	return nil
}

func (m *mockPresence) UserJoinedRoom(ctx context.Context, userID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins = append(m.joins, userID+":"+roomID)
	return nil
}

func (m *mockPresence) UserLeftRoom(ctx context.Context, userID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves = append(m.leaves, userID+":"+roomID)
	return nil
}
