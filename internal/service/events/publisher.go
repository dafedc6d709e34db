// Package events доставляет доменные события во внешний брокер.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
	"github.com/vladislavdragonenkov/tableorders/internal/service/dispatch"
	"github.com/vladislavdragonenkov/tableorders/internal/tracing"
)

const (
	DefaultExchange    = "orders"
	DefaultMaxAttempts = 3
	DefaultDelay       = 2 * time.Second
)

// Config задаёт маршрут и политику повторов.
type Config struct {
	Exchange    string
	RoutingKey  string
	MaxAttempts int
	Delay       time.Duration
}

// RetryPublisher публикует событие с фиксированной паузой между попытками.
// Все ошибки брокера повторяются одинаково; после последней неудачи событие отбрасывается.
type RetryPublisher struct {
	broker  domain.Broker
	discard bool
	cfg     Config
	logger  *log.Entry
	metrics *metrics.Metrics
}

// NewRetryPublisher создаёт паблишер. Нулевые поля cfg заменяются значениями по умолчанию,
// отрицательный Delay означает повтор без паузы.
func NewRetryPublisher(broker domain.Broker, cfg Config, logger *log.Entry, m *metrics.Metrics) *RetryPublisher {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = domain.RoutingKeyOrderCreated
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	switch {
	case cfg.Delay == 0:
		cfg.Delay = DefaultDelay
	case cfg.Delay < 0:
		cfg.Delay = 0
	}
	if logger == nil {
		logger = log.WithField("component", "event-publisher")
	}
	p := &RetryPublisher{broker: broker, cfg: cfg, logger: logger, metrics: m}
	if d, ok := broker.(domain.DiscardingBroker); ok {
		p.discard = d.Discards()
	}
	return p
}

// PublishCreated пытается доставить OrderCreated не более MaxAttempts раз.
// Возвращает true, если брокер подтвердил одну из попыток. Брокер-заглушка
// доставкой не считается.
func (p *RetryPublisher) PublishCreated(ctx context.Context, event domain.OrderCreated) (delivered bool) {
	ctx, span := tracing.Start(ctx, "events.publish_created", trace.WithAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.String("messaging.destination.name", p.cfg.Exchange),
	))
	defer func() {
		var err error
		if !delivered {
			err = domain.ErrDeliveryFailure
		}
		tracing.End(span, err)
	}()

	logger := p.logger.WithFields(log.Fields{
		"order_id":    event.OrderID,
		"exchange":    p.cfg.Exchange,
		"routing_key": p.cfg.RoutingKey,
	})

	body, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Error("failed to encode OrderCreated event")
		p.metrics.RecordEventDropped()
		return false
	}
	msg := domain.Message{
		Exchange:   p.cfg.Exchange,
		RoutingKey: p.cfg.RoutingKey,
		Key:        event.OrderID,
		Body:       body,
	}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := p.broker.Publish(ctx, msg)
		if err == nil && p.discard {
			p.metrics.RecordEventDropped()
			logger.Warn("OrderCreated event discarded: broker not configured")
			return false
		}
		if err == nil {
			p.metrics.RecordPublishAttempt("success")
			span.SetAttributes(attribute.Int("messaging.attempts", attempt))
			logger.WithField("attempt", attempt).Info("OrderCreated event published")
			return true
		}

		p.metrics.RecordPublishAttempt("failure")
		logger.WithError(err).WithField("attempt", attempt).Error("failed to publish OrderCreated event")

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if dispatch.Sleep(ctx, p.cfg.Delay) != nil {
			logger.WithError(ctx.Err()).Warn("publish retries interrupted")
			break
		}
	}

	p.metrics.RecordEventDropped()
	logger.WithError(domain.ErrDeliveryFailure).
		WithField("max_attempts", p.cfg.MaxAttempts).
		Error("OrderCreated event dropped after all attempts")
	return false
}

// OutboxPublisher сохраняет событие в outbox; доставкой занимается outbox.Worker.
type OutboxPublisher struct {
	repo   domain.OutboxRepository
	logger *log.Entry
}

// NewOutboxPublisher создаёт паблишер поверх outbox-репозитория.
func NewOutboxPublisher(repo domain.OutboxRepository, logger *log.Entry) *OutboxPublisher {
	if logger == nil {
		logger = log.WithField("component", "event-outbox")
	}
	return &OutboxPublisher{repo: repo, logger: logger}
}

// PublishCreated ставит событие в очередь outbox. Возвращает false, если запись не удалась.
func (p *OutboxPublisher) PublishCreated(ctx context.Context, event domain.OrderCreated) bool {
	if err := p.enqueue(ctx, event); err != nil {
		p.logger.WithError(err).WithField("order_id", event.OrderID).Error("failed to enqueue OrderCreated event")
		return false
	}
	return true
}

func (p *OutboxPublisher) enqueue(ctx context.Context, event domain.OrderCreated) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg, err := p.repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   event.OrderID,
		EventType:     domain.EventTypeOrderCreated,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"order_id":  event.OrderID,
		"outbox_id": msg.ID,
	}).Debug("OrderCreated event enqueued")
	return nil
}

var (
	_ domain.EventPublisher = (*RetryPublisher)(nil)
	_ domain.EventPublisher = (*OutboxPublisher)(nil)
)
