package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

const writerBatchTimeout = 10 * time.Millisecond

const (
	StateChangedTopic        = "payment.intent.state_changed"
	OrderConfirmationSubject = "order.confirmation.requested"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaStatePublisher streams intent transitions keyed by intent id, so one
// intent's changes stay ordered within a partition.
type KafkaStatePublisher struct {
	writer messageWriter
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  StateChangedTopic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           writerBatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaStatePublisher(writer messageWriter) *KafkaStatePublisher {
	return &KafkaStatePublisher{writer: writer}
}

func (p *KafkaStatePublisher) PublishStateChange(ctx context.Context, change models.IntentStateChange) error {
	value, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode state change: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.IntentID),
		Value: value,
	})
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NatsNotifier asks the mail service to send order confirmations.
type NatsNotifier struct {
	conn publisher
}

func NewNatsNotifier(conn *nats.Conn) *NatsNotifier {
	return &NatsNotifier{conn: conn}
}

func (n *NatsNotifier) NotifyOrderConfirmed(ctx context.Context, msg models.OrderConfirmation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode order confirmation: %w", err)
	}
	return n.conn.Publish(OrderConfirmationSubject, data)
}

// Noop satisfies both publisher interfaces when a broker is not configured.
type Noop struct{}

func (Noop) PublishStateChange(context.Context, models.IntentStateChange) error { return nil }

func (Noop) NotifyOrderConfirmed(context.Context, models.OrderConfirmation) error { return nil }
