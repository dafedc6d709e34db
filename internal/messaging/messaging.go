// Package messaging содержит брокеро-независимые обвязки: no-op брокер
// и публикацию outbox-сообщений через domain.Broker.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

// LogBroker ничего не отправляет, только пишет сообщение в лог.
// Используется, когда брокер не сконфигурирован.
type LogBroker struct {
	logger *log.Entry
}

// NewLogBroker создаёт no-op брокер.
func NewLogBroker(logger *log.Entry) *LogBroker {
	if logger == nil {
		logger = log.WithField("component", "log-broker")
	}
	return &LogBroker{logger: logger}
}

func (b *LogBroker) Publish(_ context.Context, msg domain.Message) error {
	b.logger.WithFields(log.Fields{
		"exchange":     msg.Exchange,
		"routing_key":  msg.RoutingKey,
		"key":          msg.Key,
		"message_size": len(msg.Body),
	}).Warn("broker not configured, message dropped")
	return nil
}

// Discards всегда true: сообщения не покидают процесс.
func (b *LogBroker) Discards() bool { return true }

// Route — куда уходят события: exchange (topic для Kafka) и routing key.
type Route struct {
	Exchange   string
	RoutingKey string
}

// OutboxPublisher публикует outbox-сообщения через брокер в конверте с метаданными.
type OutboxPublisher struct {
	broker domain.Broker
	route  Route
}

// NewOutboxPublisher создаёт паблишер для outbox worker'а.
func NewOutboxPublisher(broker domain.Broker, route Route) *OutboxPublisher {
	return &OutboxPublisher{broker: broker, route: route}
}

type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.broker == nil {
		return fmt.Errorf("outbox publisher is not initialized")
	}

	body, err := json.Marshal(outboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.broker.Publish(ctx, domain.Message{
		Exchange:   p.route.Exchange,
		RoutingKey: p.route.RoutingKey,
		Key:        key,
		Body:       body,
	})
}

var (
	_ domain.DiscardingBroker = (*LogBroker)(nil)
	_ domain.OutboxPublisher  = (*OutboxPublisher)(nil)
)
