package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSender publishes messages to a topic for a downstream mailer. Messages
// are keyed by address so one recipient's notifications stay ordered.
type KafkaSender struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSender builds a sender for the given brokers and topic.
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sender requires at least one broker")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("kafka sender requires a topic")
	}
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

// Send publishes one message.
func (k *KafkaSender) Send(ctx context.Context, address string, msg Message) error {
	now := time.Now().UTC()
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = now
	}
	value, err := json.Marshal(webhookPayload{Address: address, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(address),
		Value: value,
		Time:  now,
	})
}

// Close flushes and closes the writer.
func (k *KafkaSender) Close() error {
	return k.writer.Close()
}
