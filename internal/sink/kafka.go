package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/johnwards/hubsync/internal/domain"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per action. Messages are keyed by identity so
// all actions of one contact land on the same partition; actions without an
// identity get a random key.
type Kafka struct {
	writer MessageWriter
}

// NewKafka creates a Kafka sink writing to topic on brokers.
func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
	}
	return NewKafkaWithWriter(w)
}

// NewKafkaWithWriter creates a Kafka sink around an existing writer.
func NewKafkaWithWriter(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

// Ingest writes the batch in one WriteMessages call.
func (k *Kafka) Ingest(ctx context.Context, d *domain.Domain, actions []domain.Action) error {
	msgs := make([]kafka.Message, 0, len(actions))
	for _, a := range actions {
		value, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal action: %w", err)
		}
		key := strings.ToLower(a.Identity)
		if key == "" {
			key = uuid.NewString()
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  a.Date,
			Headers: []kafka.Header{
				{Key: "apiKey", Value: []byte(d.APIKey)},
				{Key: "actionName", Value: []byte(a.Name)},
			},
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
