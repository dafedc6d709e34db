// Package outbox доставляет события, сохранённые в outbox, до брокера.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
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

// Settings управляет циклом доставки. Нулевые поля заменяются значениями по умолчанию.
type Settings struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// RetryDelay — фиксированная пауза между попытками одного сообщения; отрицательная отключает паузу.
	RetryDelay time.Duration
}

// DefaultSettings повторяет поведение исходного сервиса: три попытки с паузой 2s.
func DefaultSettings() Settings {
	return Settings{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxAttempts:  3,
		RetryDelay:   2 * time.Second,
	}
}

func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.PollInterval <= 0 {
		s.PollInterval = def.PollInterval
	}
	if s.BatchSize <= 0 {
		s.BatchSize = def.BatchSize
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = def.MaxAttempts
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = def.RetryDelay
	}
	if s.RetryDelay < 0 {
		s.RetryDelay = 0
	}
	return s
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics задаёт prometheus-метрики воркера.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithDeadLetter задаёт получателя сообщений, которые так и не удалось доставить.
func WithDeadLetter(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.deadLetter = publisher
	}
}

// Report — итог одного прохода по outbox.
type Report struct {
	Sent   int
	Failed int
	// Left — сколько сообщений осталось pending после прохода.
	Left int
}

// Worker забирает pending-сообщения пачками и публикует их через OutboxPublisher.
// Недоставленное после MaxAttempts попыток сообщение помечается failed
// и, если задан dead letter, копируется туда вместе с текстом ошибки.
type Worker struct {
	repo       domain.OutboxRepository
	publisher  domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	settings   Settings
	logger     *log.Entry
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, settings Settings, opts ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		settings:  settings.normalized(),
		logger:    log.WithField("component", "outbox-worker"),
		sleep:     dispatch.Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx. Полная пачка обрабатывается
// повторно без ожидания, чтобы backlog разбирался быстрее интервала опроса.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	w.logger.WithFields(log.Fields{
		"poll_interval": w.settings.PollInterval,
		"batch_size":    w.settings.BatchSize,
		"max_attempts":  w.settings.MaxAttempts,
	}).Info("outbox worker started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-timer.C:
		}

		report, err := w.ProcessOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Warn("outbox cycle failed")
		}

		next := w.settings.PollInterval
		if err == nil && report.Sent+report.Failed >= w.settings.BatchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// ProcessOnce выполняет один проход: забирает пачку и доставляет её по порядку.
// При отмене ctx необработанные сообщения остаются pending.
func (w *Worker) ProcessOnce(ctx context.Context) (Report, error) {
	var report Report
	if err := ctx.Err(); err != nil {
		return report, err
	}

	batch, err := w.repo.PullPending(ctx, w.settings.BatchSize)
	if err != nil {
		return report, fmt.Errorf("pull pending outbox messages: %w", err)
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}

		deliverErr := w.deliver(ctx, msg)
		switch {
		case deliverErr == nil:
			report.Sent++
			if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
				w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox message as sent")
			}
		case errors.Is(deliverErr, context.Canceled), errors.Is(deliverErr, context.DeadlineExceeded):
			w.logger.WithField("outbox_id", msg.ID).Info("delivery interrupted, message left pending")
		default:
			report.Failed++
			w.bury(ctx, msg, deliverErr)
		}
	}

	report.Left = w.updateBacklog(ctx)
	return report, nil
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) (err error) {
	ctx, span := tracing.Start(ctx, "outbox.deliver", trace.WithAttributes(
		attribute.String("outbox.id", msg.ID),
		attribute.String("outbox.event_type", msg.EventType),
		attribute.String("outbox.aggregate_id", msg.AggregateID),
	))
	defer func() { tracing.End(span, err) }()

	for attempt := 1; ; attempt++ {
		err = w.publisher.Publish(ctx, msg)
		if err == nil {
			w.metrics.RecordOutboxAttempt("sent")
			span.SetAttributes(attribute.Int("outbox.attempts", attempt))
			return nil
		}

		w.metrics.RecordOutboxAttempt("retry_error")
		w.logger.WithError(err).WithFields(log.Fields{
			"outbox_id": msg.ID,
			"attempt":   attempt,
		}).Warn("outbox publish attempt failed")

		if attempt >= w.settings.MaxAttempts {
			return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, attempt, err)
		}
		if sleepErr := w.sleep(ctx, w.settings.RetryDelay); sleepErr != nil {
			return sleepErr
		}
	}
}

// deadLetterRecord — тело сообщения в dead letter.
type deadLetterRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) bury(ctx context.Context, msg domain.OutboxMessage, cause error) {
	entry := w.logger.WithError(cause).WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
	})
	entry.Error("outbox message dropped after retries")
	w.metrics.RecordOutboxAttempt("failed")

	if w.deadLetter != nil {
		if err := w.sendDeadLetter(ctx, msg, cause); err != nil {
			entry.WithField("dlq_error", err.Error()).Warn("failed to publish to dead letter")
			w.metrics.RecordOutboxAttempt("dlq_failed")
		}
	}

	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithField("mark_error", err.Error()).Warn("failed to mark outbox message as failed")
	}
}

func (w *Worker) sendDeadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return fmt.Errorf("quote payload: %w", err)
		}
		payload = quoted
	}

	body, err := json.Marshal(deadLetterRecord{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		Error:         cause.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := msg
	dead.Payload = body
	return w.deadLetter.Publish(ctx, dead)
}

// updateBacklog обновляет метрики backlog и возвращает число pending-сообщений.
func (w *Worker) updateBacklog(ctx context.Context) int {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("outbox stats unavailable")
		return 0
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = time.Since(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
	return stats.PendingCount
}
