package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/spin-wheel/internal/service"
)

// EventTypeSpinCompleted is the event name carried in every published payload.
const EventTypeSpinCompleted = "spin_wheel_result"

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// spinMessage is the JSON value written for each completed spin.
type spinMessage struct {
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	service.SpinCompleted
}

// KafkaPublisher forwards SpinCompleted events to a Kafka topic, keyed by user id
// so one user's spins stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher creates a KafkaPublisher writing through writer.
func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Name implements service.Subscriber.
func (p *KafkaPublisher) Name() string { return "kafka" }

// HandleSpinCompleted implements service.Subscriber.
func (p *KafkaPublisher) HandleSpinCompleted(ctx context.Context, evt service.SpinCompleted) error {
	value, err := json.Marshal(spinMessage{
		Event:         EventTypeSpinCompleted,
		Timestamp:     evt.OccurredAt.Unix(),
		SpinCompleted: evt,
	})
	if err != nil {
		return fmt.Errorf("marshal spin event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.UserID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(evt.EventID)},
			{Key: "event-type", Value: []byte(EventTypeSpinCompleted)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write spin event %s: %w", evt.EventID, err)
	}
	return nil
}

// headerCarrier adapts Kafka headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(*c.headers))
	for i, h := range *c.headers {
		keys[i] = h.Key
	}
	return keys
}
