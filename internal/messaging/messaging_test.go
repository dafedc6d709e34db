package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

type recordingBroker struct {
	messages []domain.Message
	err      error
}

func (b *recordingBroker) Publish(_ context.Context, msg domain.Message) error {
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, msg)
	return nil
}

func TestOutboxPublisher_WrapsPayloadInEnvelope(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	publisher := NewOutboxPublisher(broker, Route{Exchange: "orders", RoutingKey: "orderCreated"})

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"order_id":"order-123"}`),
	})
	require.NoError(t, err)
	require.Len(t, broker.messages, 1)

	msg := broker.messages[0]
	assert.Equal(t, "orders", msg.Exchange)
	assert.Equal(t, "orderCreated", msg.RoutingKey)
	assert.Equal(t, "order-123", msg.Key)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Body, &envelope))
	assert.JSONEq(t, `{"order_id":"order-123"}`, string(envelope["payload"]))
	assert.JSONEq(t, `"OrderCreated"`, string(envelope["event_type"]))
}

func TestOutboxPublisher_KeyFallsBackToMessageID(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	publisher := NewOutboxPublisher(broker, Route{Exchange: "orders"})

	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2", Payload: []byte(`{}`)}))
	assert.Equal(t, "outbox-2", broker.messages[0].Key)
}

func TestOutboxPublisher_BrokerError(t *testing.T) {
	t.Parallel()

	brokerErr := errors.New("broker down")
	publisher := NewOutboxPublisher(&recordingBroker{err: brokerErr}, Route{Exchange: "orders"})

	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, brokerErr)

	var nilPublisher *OutboxPublisher
	assert.Error(t, nilPublisher.Publish(context.Background(), domain.OutboxMessage{}))
}

func TestLogBroker_DropsMessage(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	broker := NewLogBroker(log.NewEntry(logger))

	require.NoError(t, broker.Publish(context.Background(), domain.Message{Exchange: "orders", RoutingKey: "orderCreated"}))
	assert.True(t, broker.Discards())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, "broker not configured, message dropped", entry.Message)
	assert.Equal(t, "orders", entry.Data["exchange"])
}
