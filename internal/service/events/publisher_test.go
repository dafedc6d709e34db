package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
	"github.com/vladislavdragonenkov/tableorders/internal/storage/memory"
)

// flakyBroker падает failures раз, затем принимает сообщения.
type flakyBroker struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	delivered []domain.Message
}

func (b *flakyBroker) Publish(_ context.Context, msg domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	if b.failures < 0 || b.attempts <= b.failures {
		return errors.New("exchange unavailable")
	}
	b.delivered = append(b.delivered, msg)
	return nil
}

func sampleEvent() domain.OrderCreated {
	return domain.OrderCreated{
		OrderID:      "order-1",
		Description:  "pizza",
		TotalValue:   decimal.RequireFromString("25.50"),
		TableID:      "table-1",
		RestaurantID: "rest-1",
		OccurredAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestPublisher(broker domain.Broker) *RetryPublisher {
	return NewRetryPublisher(broker, Config{MaxAttempts: 3, Delay: time.Millisecond}, nil,
		metrics.NewWithRegisterer(prometheus.NewRegistry()))
}

func TestRetryPublisher_SucceedsOnThirdAttempt(t *testing.T) {
	broker := &flakyBroker{failures: 2}

	ok := newTestPublisher(broker).PublishCreated(context.Background(), sampleEvent())

	require.True(t, ok)
	assert.Equal(t, 3, broker.attempts)
	require.Len(t, broker.delivered, 1)

	msg := broker.delivered[0]
	assert.Equal(t, DefaultExchange, msg.Exchange)
	assert.Equal(t, domain.RoutingKeyOrderCreated, msg.RoutingKey)
	assert.Equal(t, "order-1", msg.Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "order-1", decoded["order_id"])
	assert.Equal(t, "table-1", decoded["table_id"])
	assert.Equal(t, "rest-1", decoded["restaurant_id"])
}

func TestRetryPublisher_GivesUpAfterMaxAttempts(t *testing.T) {
	broker := &flakyBroker{failures: -1}

	ok := newTestPublisher(broker).PublishCreated(context.Background(), sampleEvent())

	assert.False(t, ok)
	assert.Equal(t, 3, broker.attempts)
	assert.Empty(t, broker.delivered)
}

func TestRetryPublisher_FirstAttemptSuccess(t *testing.T) {
	broker := &flakyBroker{}

	assert.True(t, newTestPublisher(broker).PublishCreated(context.Background(), sampleEvent()))
	assert.Equal(t, 1, broker.attempts)
}

// discardingBroker принимает сообщения, но никуда их не отправляет.
type discardingBroker struct{ flakyBroker }

func (*discardingBroker) Discards() bool { return true }

func TestRetryPublisher_DiscardingBrokerIsNotDelivery(t *testing.T) {
	broker := &discardingBroker{}
	logger, hook := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	p := NewRetryPublisher(broker, Config{MaxAttempts: 3, Delay: time.Millisecond},
		log.NewEntry(logger), metrics.NewWithRegisterer(reg))

	assert.False(t, p.PublishCreated(context.Background(), sampleEvent()))
	assert.Equal(t, 1, broker.attempts)

	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, "OrderCreated event published", entry.Message)
	}
	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, log.WarnLevel, last.Level)
	assert.Equal(t, "OrderCreated event discarded: broker not configured", last.Message)

	dropped, err := testutil.GatherAndCount(reg, "orders_events_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
}

func TestRetryPublisher_WaitsBetweenAttempts(t *testing.T) {
	broker := &flakyBroker{failures: -1}
	p := NewRetryPublisher(broker, Config{MaxAttempts: 3, Delay: 20 * time.Millisecond}, nil, nil)

	started := time.Now()
	p.PublishCreated(context.Background(), sampleEvent())

	// Две паузы между тремя попытками, после последней паузы нет.
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
}

func TestRetryPublisher_StopsWhenContextCanceled(t *testing.T) {
	broker := &flakyBroker{failures: -1}
	p := NewRetryPublisher(broker, Config{MaxAttempts: 3, Delay: time.Hour}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.False(t, p.PublishCreated(ctx, sampleEvent()))
	assert.Equal(t, 1, broker.attempts)
}

func TestNewRetryPublisher_Defaults(t *testing.T) {
	p := NewRetryPublisher(&flakyBroker{}, Config{}, nil, nil)

	assert.Equal(t, DefaultExchange, p.cfg.Exchange)
	assert.Equal(t, domain.RoutingKeyOrderCreated, p.cfg.RoutingKey)
	assert.Equal(t, DefaultMaxAttempts, p.cfg.MaxAttempts)
	assert.Equal(t, DefaultDelay, p.cfg.Delay)

	noPause := NewRetryPublisher(&flakyBroker{}, Config{Delay: -1}, nil, nil)
	assert.Equal(t, time.Duration(0), noPause.cfg.Delay)
}

func TestOutboxPublisher_EnqueuesEvent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	p := NewOutboxPublisher(repo, nil)

	require.True(t, p.PublishCreated(context.Background(), sampleEvent()))

	pending, err := repo.PullPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "order-1", pending[0].AggregateID)
	assert.Equal(t, domain.EventTypeOrderCreated, pending[0].EventType)
	assert.Contains(t, string(pending[0].Payload), `"order_id":"order-1"`)
}
