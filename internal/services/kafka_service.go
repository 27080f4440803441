package services

import (
	"context"
	"time"

	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaService publishes relayed messages to the topic consumed by the
// external message-persistence service. Delivery here is best-effort; clients
// re-fetch history from the persistence tier, not from this service.
type KafkaService struct {
	writer *kafka.Writer
}

func NewKafkaService(brokers []string, topic string) *KafkaService {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaService{writer: writer}
}

// Publish writes one message keyed by room so a room's messages land on one
// partition in order.
func (k *KafkaService) Publish(ctx context.Context, key string, payload []byte) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return err
	}

	slog.Debug("Message published to Kafka", "key", key, "bytes", len(payload))
	return nil
}

func (k *KafkaService) Close() error {
	return k.writer.Close()
}
