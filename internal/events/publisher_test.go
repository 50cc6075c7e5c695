package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

type recordingConn struct {
	subject string
	data    []byte
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	c.subject = subject
	c.data = data
	return nil
}

func TestKafkaStatePublisherKeysByIntent(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaStatePublisher(w)

	err := p.PublishStateChange(context.Background(), models.IntentStateChange{
		IntentID:  "INT-1",
		From:      models.IntentPending,
		To:        models.IntentPaid,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "INT-1", string(w.msgs[0].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, "pending", body["previous_state"])
	assert.Equal(t, "paid", body["state"])
}

func TestNewKafkaWriterFlushesPromptly(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"})
	defer w.Close()

	assert.Equal(t, StateChangedTopic, w.Topic)
	assert.Equal(t, 10*time.Millisecond, w.BatchTimeout)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestKafkaStatePublisherPropagatesError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	err := NewKafkaStatePublisher(w).PublishStateChange(context.Background(), models.IntentStateChange{IntentID: "INT-1"})
	assert.Error(t, err)
}

func TestNatsNotifierPublishesConfirmation(t *testing.T) {
	conn := &recordingConn{}
	n := &NatsNotifier{conn: conn}

	err := n.NotifyOrderConfirmed(context.Background(), models.OrderConfirmation{OrderID: "ORD-1", IntentID: "INT-1"})
	require.NoError(t, err)
	assert.Equal(t, OrderConfirmationSubject, conn.subject)
	assert.Contains(t, string(conn.data), `"order_id":"ORD-1"`)
}

func TestNatsNotifierHonorsCanceledContext(t *testing.T) {
	conn := &recordingConn{}
	n := &NatsNotifier{conn: conn}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.NotifyOrderConfirmed(ctx, models.OrderConfirmation{}), context.Canceled)
	assert.Empty(t, conn.subject)
}
