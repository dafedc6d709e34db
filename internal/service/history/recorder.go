// Package history пишет аудиторский журнал мутаций заказов.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
)

// Recorder добавляет запись истории на каждую мутацию заказа.
type Recorder struct {
	repo    domain.HistoryRepository
	now     func() time.Time
	logger  *log.Entry
	metrics *metrics.Metrics
}

// Option настраивает Recorder.
type Option func(*Recorder)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// NewRecorder создаёт Recorder поверх репозитория истории.
func NewRecorder(repo domain.HistoryRepository, opts ...Option) *Recorder {
	r := &Recorder{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "history-recorder")
	}
	return r
}

// Record сохраняет снимок заказа с типом операции и текущим временем.
func (r *Recorder) Record(ctx context.Context, order domain.Order, op domain.Operation) error {
	if !op.Valid() {
		return fmt.Errorf("record history: unsupported operation %q", op)
	}

	entry := domain.OrderHistory{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Description: order.Description,
		TotalValue:  order.TotalValue,
		Timestamp:   r.now().UTC(),
		Operation:   op,
	}
	if err := r.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("record %s history for order %s: %w", op, order.ID, err)
	}

	r.metrics.RecordHistoryEntry(string(op))
	r.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"operation": op,
	}).Debug("history entry recorded")
	return nil
}

// List возвращает записи истории по фильтру в порядке записи.
func (r *Recorder) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.OrderHistory, error) {
	entries, err := r.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}
