package websocket

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// newEventID generates an identifier for server-originated events
func newEventID() string {
	return uuid.New().String()
}

// MessageType represents the type of WebSocket event using a custom enum type for better type safety
type MessageType string

const (
	// Inbound events
	MessageTypeSetup       MessageType = "setup"
	MessageTypeJoinRoom    MessageType = "room.join"
	MessageTypeTypingStart MessageType = "typing.start"
	MessageTypeTypingStop  MessageType = "typing.stop"
	MessageTypeNewMessage  MessageType = "message.new"

	// Outbound events
	MessageTypeConnected       MessageType = "connected"
	MessageTypeTyping          MessageType = "typing"
	MessageTypeTypingStopped   MessageType = "typing.stopped"
	MessageTypeMessageReceived MessageType = "message.received"
	MessageTypeAck             MessageType = "ack"
	MessageTypeError           MessageType = "error"
)

// Error codes carried in error and ack events
const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeInvalidPayload = "INVALID_PAYLOAD"
)

// Ack statuses for message.new submissions
const (
	AckStatusReceived = "received"
	AckStatusError    = "error"
)

// String returns the string representation of the MessageType
func (mt MessageType) String() string {
	return string(mt)
}

// IsInbound checks if the MessageType is one a client is allowed to send
func (mt MessageType) IsInbound() bool {
	switch mt {
	case MessageTypeSetup, MessageTypeJoinRoom, MessageTypeTypingStart,
		MessageTypeTypingStop, MessageTypeNewMessage:
		return true
	default:
		return false
	}
}

// Message is the wire envelope exchanged with every connection
type Message struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
	UserID    string                 `json:"user_id,omitempty"`
}

// Validate validates the message structure and type
func (m *Message) Validate() error {
	if !m.Type.IsInbound() {
		return fmt.Errorf("unknown event type: %s", m.Type)
	}
	if m.Data == nil {
		m.Data = make(map[string]interface{})
	}
	return nil
}

// StringField extracts a string value from the message data, returning ""
// when the key is absent or not a string.
func (m *Message) StringField(key string) string {
	if m.Data == nil {
		return ""
	}
	v, _ := m.Data[key].(string)
	return v
}

// NewMessage creates a new message with the specified type and data
func NewMessage(id string, msgType MessageType, userID string, data map[string]interface{}) *Message {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().Unix(),
		UserID:    userID,
	}
}

// NewConnectedMessage acknowledges a completed setup or a resumed session
func NewConnectedMessage(id, clientID, userID, resumeToken string, resumed bool) *Message {
	return NewMessage(id, MessageTypeConnected, userID, map[string]interface{}{
		"client_id":    clientID,
		"resume_token": resumeToken,
		"resumed":      resumed,
	})
}

// NewErrorMessage creates an error event
func NewErrorMessage(id, userID, code, message string) *Message {
	return NewMessage(id, MessageTypeError, userID, map[string]interface{}{
		"code":    code,
		"message": message,
	})
}

// NewAckMessage acknowledges a message.new submission back to its sender.
// code is empty for successful acks.
func NewAckMessage(id, messageID, status, code string) *Message {
	data := map[string]interface{}{
		"message_id": messageID,
		"status":     status,
	}
	if code != "" {
		data["code"] = code
	}
	return NewMessage(id, MessageTypeAck, "", data)
}

// NewTypingMessage announces that userID started typing in a room
func NewTypingMessage(roomID, userID string) *Message {
	return NewMessage(newEventID(), MessageTypeTyping, userID, map[string]interface{}{
		"room_id": roomID,
		"user_id": userID,
	})
}

// NewTypingStoppedMessage announces that nobody is typing in a room anymore
func NewTypingStoppedMessage(roomID string) *Message {
	return NewMessage(newEventID(), MessageTypeTypingStopped, "", map[string]interface{}{
		"room_id": roomID,
	})
}
