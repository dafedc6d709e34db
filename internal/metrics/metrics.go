package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orders"

// Metrics содержит prometheus-метрики сервиса заказов.
// Nil *Metrics допустим: все методы становятся no-op.
type Metrics struct {
	// Мутации заказов
	ordersCreated      prometheus.Counter
	ordersUpdated      prometheus.Counter
	ordersDeleted      prometheus.Counter
	validationFailures *prometheus.CounterVec
	createDuration     prometheus.Histogram
	historyEntries     *prometheus.CounterVec

	// Привязка заказа к столу
	tableAttachFailures prometheus.Counter
	reconcileResults    *prometheus.CounterVec

	// Внешние вызовы
	peerRequests    *prometheus.CounterVec
	publishAttempts *prometheus.CounterVec
	publishDropped  prometheus.Counter

	// Фоновые задачи
	tasksInFlight prometheus.Gauge
	tasksRejected prometheus.Counter

	// Outbox
	outboxAttempts         *prometheus.CounterVec
	outboxPendingRecords   prometheus.Gauge
	outboxOldestPendingAge prometheus.Gauge

	// HTTP API
	httpRequests *prometheus.HistogramVec
}

// New регистрирует метрики в prometheus.DefaultRegisterer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer регистрирует метрики в заданном registerer.
// Повторная регистрация переиспользует уже существующие коллекторы.
func NewWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "created_total",
			Help: "Total number of orders created",
		})),
		ordersUpdated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "updated_total",
			Help: "Total number of orders updated",
		})),
		ordersDeleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deleted_total",
			Help: "Total number of orders deleted",
		})),
		validationFailures: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "validation_failures_total",
			Help: "Order creations rejected by validation, by reason",
		}, []string{"reason"})),
		createDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "create_duration_seconds",
			Help:    "Duration of the synchronous part of order creation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		})),
		historyEntries: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "history_entries_total",
			Help: "History entries recorded, by operation",
		}, []string{"operation"})),
		tableAttachFailures: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "table_attach_failures_total",
			Help: "Persisted orders that could not be attached to their table",
		})),
		reconcileResults: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "table_reconcile_total",
			Help: "Background table reconciliation outcomes",
		}, []string{"result"})),
		peerRequests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "peer_requests_total",
			Help: "Requests to restaurant and table services, by operation and result",
		}, []string{"operation", "result"})),
		publishAttempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_publish_attempts_total",
			Help: "Event publish attempts, by result",
		}, []string{"result"})),
		publishDropped: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Events dropped without reaching a broker",
		})),
		tasksInFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "background_tasks_in_flight",
			Help: "Background tasks currently running or waiting for a slot",
		})),
		tasksRejected: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "background_tasks_rejected_total",
			Help: "Background tasks rejected because the dispatcher is stopped",
		})),
		outboxAttempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"})),
		outboxPendingRecords: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_pending_records",
			Help: "Current number of pending records in the outbox",
		})),
		outboxOldestPendingAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		})),
		httpRequests: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP API request duration, by method, route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *Metrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *Metrics) RecordOrderUpdated() {
	if m == nil {
		return
	}
	m.ordersUpdated.Inc()
}

func (m *Metrics) RecordOrderDeleted() {
	if m == nil {
		return
	}
	m.ordersDeleted.Inc()
}

// RecordValidationFailure учитывает отказ в создании заказа.
func (m *Metrics) RecordValidationFailure(reason string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(reason).Inc()
}

// ObserveCreateDuration записывает время синхронной части CreateOrder.
func (m *Metrics) ObserveCreateDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.createDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordHistoryEntry(operation string) {
	if m == nil {
		return
	}
	m.historyEntries.WithLabelValues(operation).Inc()
}

// RecordTableAttachFailure учитывает заказ, который сохранён, но не попал в стол.
func (m *Metrics) RecordTableAttachFailure() {
	if m == nil {
		return
	}
	m.tableAttachFailures.Inc()
}

// RecordReconcile учитывает исход фоновой привязки заказа к столу.
func (m *Metrics) RecordReconcile(result string) {
	if m == nil {
		return
	}
	m.reconcileResults.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPeerRequest(operation, result string) {
	if m == nil {
		return
	}
	m.peerRequests.WithLabelValues(operation, result).Inc()
}

// RecordPublishAttempt учитывает одну попытку доставки события.
func (m *Metrics) RecordPublishAttempt(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.publishDropped.Inc()
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksInFlight.Inc()
}

func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.tasksInFlight.Dec()
}

func (m *Metrics) RecordTaskRejected() {
	if m == nil {
		return
	}
	m.tasksRejected.Inc()
}

func (m *Metrics) RecordOutboxAttempt(result string) {
	if m == nil {
		return
	}
	m.outboxAttempts.WithLabelValues(result).Inc()
}

// SetOutboxBacklog выставляет размер backlog и возраст самого старого сообщения.
func (m *Metrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPendingRecords.Set(float64(pending))
	m.outboxOldestPendingAge.Set(oldestAge.Seconds())
}

// ObserveHTTPRequest записывает длительность обработанного HTTP-запроса.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
