package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const sinkPublishTimeout = 5 * time.Second

// MessageSink receives a copy of every successfully relayed message, keyed by
// room, for the external persistence pipeline. Implementations must be safe
// for concurrent use.
type MessageSink interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// DeliveryResult reports the outcome of a message.new submission to its sender.
type DeliveryResult struct {
	Status string
	Code   string
}

// Relay validates new-message events and fans them out to the sender's room.
// The sender is acknowledged synchronously before fan-out starts, so perceived
// send latency is decoupled from fan-out completion. Messages are never stored
// here; durable history belongs to the external persistence consumer fed by
// the sink.
type Relay struct {
	rooms *RoomStore
	sink  MessageSink // may be nil
}

func NewRelay(rooms *RoomStore, sink MessageSink) *Relay {
	return &Relay{
		rooms: rooms,
		sink:  sink,
	}
}

// Send validates msg, acknowledges sender, and fans the message out to every
// other member of the room. Fan-out failures to individual recipients are
// logged, never surfaced to the sender.
func (r *Relay) Send(sender *Client, msg *Message) DeliveryResult {
	roomID := msg.StringField("room_id")

	if roomID == "" || msg.UserID == "" || r.rooms.MemberCount(roomID) == 0 {
		slog.Warn("Rejected message with invalid payload",
			"clientID", sender.ID(), "roomID", roomID, "sender", msg.UserID)
		result := DeliveryResult{Status: AckStatusError, Code: CodeInvalidPayload}
		r.ack(sender, msg.ID, result)
		return result
	}

	// Ack before fan-out
	result := DeliveryResult{Status: AckStatusReceived}
	r.ack(sender, msg.ID, result)

	out := NewMessage(msg.ID, MessageTypeMessageReceived, msg.UserID, msg.Data)
	r.rooms.Broadcast(roomID, out, sender.ID())

	if r.sink != nil {
		go r.publish(roomID, out)
	}

	return result
}

func (r *Relay) ack(sender *Client, messageID string, result DeliveryResult) {
	ack := NewAckMessage(newEventID(), messageID, result.Status, result.Code)
	if err := sender.Send(ack); err != nil {
		slog.Warn("Failed to ack sender", "clientID", sender.ID(), "error", err)
	}
}

func (r *Relay) publish(roomID string, msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal message for sink", "roomID", roomID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkPublishTimeout)
	defer cancel()

	if err := r.sink.Publish(ctx, roomID, payload); err != nil {
		slog.Error("Failed to publish message to sink", "roomID", roomID, "error", err)
	}
}
