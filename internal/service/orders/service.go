// Package orders реализует сценарии создания и изменения заказов за столом.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
	"github.com/vladislavdragonenkov/tableorders/internal/tracing"
)

const (
	defaultReconcileAttempts = 3
	defaultReconcileDelay    = time.Second
)

// HistoryRecorder пишет и читает журнал мутаций.
type HistoryRecorder interface {
	Record(ctx context.Context, order domain.Order, op domain.Operation) error
	List(ctx context.Context, filter domain.HistoryFilter) ([]domain.OrderHistory, error)
}

// Deps — обязательные зависимости сервиса.
type Deps struct {
	Orders    domain.OrderRepository
	History   HistoryRecorder
	Peers     domain.PeerGateway
	Publisher domain.EventPublisher
	Runner    domain.TaskRunner
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics задаёт prometheus-метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTableLocker включает сериализацию создания заказов для одного стола внутри процесса.
func WithTableLocker(locker domain.TableLocker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

// WithDurablePublish переключает публикацию на синхронную запись (outbox)
// вместо фоновой задачи.
func WithDurablePublish() Option {
	return func(s *Service) {
		s.durablePublish = true
	}
}

// WithReconcile задаёт число попыток и паузу фоновой привязки заказа к столу.
// attempts == 0 выключает привязку.
func WithReconcile(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		s.reconcileAttempts = attempts
		s.reconcileDelay = delay
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service — оркестратор заказов. Синхронно проверяет ресторан и стол,
// сохраняет заказ, пишет историю, привязывает заказ к столу и отдаёт
// событие о создании в фоновую доставку, не дожидаясь её результата.
type Service struct {
	orders    domain.OrderRepository
	history   HistoryRecorder
	peers     domain.PeerGateway
	publisher domain.EventPublisher
	runner    domain.TaskRunner

	locker            domain.TableLocker
	durablePublish    bool
	reconcileAttempts int
	reconcileDelay    time.Duration
	now               func() time.Time
	logger            *log.Entry
	metrics           *metrics.Metrics
}

// NewService собирает оркестратор.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("orders service: order repository is required")
	case deps.History == nil:
		return nil, errors.New("orders service: history recorder is required")
	case deps.Peers == nil:
		return nil, errors.New("orders service: peer gateway is required")
	case deps.Publisher == nil:
		return nil, errors.New("orders service: event publisher is required")
	case deps.Runner == nil:
		return nil, errors.New("orders service: task runner is required")
	}

	s := &Service{
		orders:            deps.Orders,
		history:           deps.History,
		peers:             deps.Peers,
		publisher:         deps.Publisher,
		runner:            deps.Runner,
		reconcileAttempts: defaultReconcileAttempts,
		reconcileDelay:    defaultReconcileDelay,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "orders-service")
	}
	if s.reconcileAttempts < 0 {
		s.reconcileAttempts = 0
	}
	return s, nil
}

// CreateOrder проверяет ресторан и стол, сохраняет заказ и объявляет о нём.
// Ошибка привязки к столу не отменяет создание: заказ возвращается,
// а привязка повторяется в фоне.
func (s *Service) CreateOrder(ctx context.Context, in domain.OrderInput) (order domain.Order, err error) {
	ctx, span := tracing.Start(ctx, "orders.create", trace.WithAttributes(
		attribute.String("table.id", in.TableID),
		attribute.String("restaurant.id", in.RestaurantID),
	))
	started := time.Now()
	defer func() {
		s.metrics.ObserveCreateDuration(time.Since(started))
		tracing.End(span, err)
	}()

	if err := domain.JoinValidation(in.ValidateForCreate()); err != nil {
		s.metrics.RecordValidationFailure("invalid_input")
		return domain.Order{}, err
	}

	if s.locker != nil {
		unlock := s.locker.Lock(in.TableID)
		defer unlock()
	}

	table, err := s.checkPlacement(ctx, in)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now().UTC()
	order = domain.Order{
		ID:           uuid.NewString(),
		Description:  in.Description,
		TotalValue:   in.TotalValue,
		TableID:      in.TableID,
		RestaurantID: in.RestaurantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}
	if err := s.history.Record(ctx, order, domain.OperationCreate); err != nil {
		return domain.Order{}, err
	}

	s.attachToTable(ctx, table, order)
	s.announce(ctx, order)

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(tracing.LogFields(ctx)).WithFields(log.Fields{
		"order_id":      order.ID,
		"table_id":      order.TableID,
		"restaurant_id": order.RestaurantID,
	}).Info("order created")

	return order, nil
}

// checkPlacement убеждается, что ресторан и стол существуют и стол свободен.
// Проверка не атомарна: между чтением стола и его обновлением другой запрос может занять стол.
func (s *Service) checkPlacement(ctx context.Context, in domain.OrderInput) (domain.Table, error) {
	if _, err := s.peers.GetRestaurant(ctx, in.RestaurantID); err != nil {
		if errors.Is(err, domain.ErrPeerNotFound) {
			s.metrics.RecordValidationFailure("restaurant_not_found")
			return domain.Table{}, fmt.Errorf("%w: %s", domain.ErrRestaurantNotFound, in.RestaurantID)
		}
		return domain.Table{}, fmt.Errorf("get restaurant %s: %w", in.RestaurantID, err)
	}

	table, err := s.peers.GetTable(ctx, in.TableID)
	if err != nil {
		if errors.Is(err, domain.ErrPeerNotFound) {
			s.metrics.RecordValidationFailure("table_not_found")
			return domain.Table{}, fmt.Errorf("%w: %s", domain.ErrTableNotFound, in.TableID)
		}
		return domain.Table{}, fmt.Errorf("get table %s: %w", in.TableID, err)
	}

	if table.Occupied() {
		s.metrics.RecordValidationFailure("table_occupied")
		return domain.Table{}, fmt.Errorf("%w: %s", domain.ErrTableOccupied, in.TableID)
	}
	return table, nil
}

// announce отдаёт событие о создании на доставку.
func (s *Service) announce(ctx context.Context, order domain.Order) {
	event := domain.NewOrderCreated(order)
	logger := s.logger.WithField("order_id", order.ID)

	if s.durablePublish {
		if !s.publisher.PublishCreated(ctx, event) {
			logger.Error("OrderCreated event was not stored for delivery")
		}
		return
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	err := s.runner.Go("publish-order-created", func(taskCtx context.Context) {
		taskCtx = trace.ContextWithSpanContext(taskCtx, spanCtx)
		s.publisher.PublishCreated(taskCtx, event)
	})
	if err != nil {
		logger.WithError(err).Error("OrderCreated event dropped: background delivery unavailable")
	}
}

// UpdateOrder перезаписывает описание и сумму заказа. Внешние сервисы не вызываются.
func (s *Service) UpdateOrder(ctx context.Context, id string, in domain.OrderInput) (order domain.Order, err error) {
	ctx, span := tracing.Start(ctx, "orders.update", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { tracing.End(span, err) }()

	order, err = s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := domain.JoinValidation(in.ValidateForUpdate()); err != nil {
		return domain.Order{}, err
	}

	order.Description = in.Description
	order.TotalValue = in.TotalValue
	order.UpdatedAt = s.now().UTC()

	if err := s.orders.Save(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("save order: %w", err)
	}
	if err := s.history.Record(ctx, order, domain.OperationUpdate); err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordOrderUpdated()
	s.logger.WithField("order_id", order.ID).Info("order updated")
	return order, nil
}

// DeleteOrder удаляет заказ, предварительно записав в историю его последние значения.
// Стол не обновляется.
func (s *Service) DeleteOrder(ctx context.Context, id string) (err error) {
	ctx, span := tracing.Start(ctx, "orders.delete", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { tracing.End(span, err) }()

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	// Запись DELETE делается только после удаления: из двух конкурентных
	// удалений журнал получает запись лишь от успешного.
	if err := s.orders.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if err := s.history.Record(ctx, order, domain.OperationDelete); err != nil {
		return err
	}

	s.metrics.RecordOrderDeleted()
	s.logger.WithField("order_id", id).Info("order deleted")
	return nil
}

// ListOrders возвращает все заказы.
func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetOrder возвращает заказ или ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.Get(ctx, id)
}

// ListHistory возвращает весь журнал мутаций.
func (s *Service) ListHistory(ctx context.Context) ([]domain.OrderHistory, error) {
	return s.history.List(ctx, domain.HistoryFilter{})
}

// QueryHistory возвращает записи журнала по фильтру.
func (s *Service) QueryHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.OrderHistory, error) {
	if filter.Operation != "" && !filter.Operation.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidInput, filter.Operation)
	}
	return s.history.List(ctx, filter)
}

// ListOrderHistory возвращает историю одного заказа, в том числе удалённого.
func (s *Service) ListOrderHistory(ctx context.Context, orderID string) ([]domain.OrderHistory, error) {
	return s.history.List(ctx, domain.HistoryFilter{OrderID: orderID})
}
