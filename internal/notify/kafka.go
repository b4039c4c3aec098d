package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes notification events to a Kafka topic for the
// downstream delivery pipeline (email, in-app) to consume.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// event is the wire format for one notification.
type event struct {
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Data      map[string]string `json:"data,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
}

// NewKafkaNotifier constructs a notifier over the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
	return &KafkaNotifier{writer: w}
}

func (n *KafkaNotifier) Send(ctx context.Context, recipient, template string, data map[string]string) error {
	payload, err := json.Marshal(event{
		Recipient: recipient,
		Template:  template,
		Data:      data,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(recipient),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
