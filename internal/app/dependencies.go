package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/health"
	"github.com/vladislavdragonenkov/tableorders/internal/messaging"
	"github.com/vladislavdragonenkov/tableorders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/tableorders/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
	"github.com/vladislavdragonenkov/tableorders/internal/peer"
	"github.com/vladislavdragonenkov/tableorders/internal/service/dispatch"
	"github.com/vladislavdragonenkov/tableorders/internal/service/events"
	"github.com/vladislavdragonenkov/tableorders/internal/service/history"
	"github.com/vladislavdragonenkov/tableorders/internal/service/orders"
	"github.com/vladislavdragonenkov/tableorders/internal/service/outbox"
	"github.com/vladislavdragonenkov/tableorders/internal/storage/memory"
	"github.com/vladislavdragonenkov/tableorders/internal/storage/postgres"
)

// closer — ресурс, который нужно освободить при остановке.
type closer struct {
	name string
	fn   func() error
}

// Dependencies содержит собранные компоненты приложения.
type Dependencies struct {
	Service    *orders.Service
	Dispatcher *dispatch.Dispatcher
	Worker     *outbox.Worker
	Health     *health.Handler
	Peers      domain.PeerGateway
	Outbox     domain.OutboxRepository

	closers []closer
	logger  *log.Entry
}

type storage struct {
	orders  domain.OrderRepository
	history domain.HistoryRepository
	outbox  domain.OutboxRepository
	store   *postgres.Store
}

// NewDependencies собирает граф зависимостей по конфигурации.
// При ошибке уже открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, healthHandler *health.Handler, m *metrics.Metrics, logger *log.Entry) (deps *Dependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps = &Dependencies{Health: healthHandler, logger: logger}
	defer func() {
		if err != nil {
			deps.Close()
			deps = nil
		}
	}()

	st, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return deps, err
	}
	if st.store != nil {
		deps.addCloser("postgres", st.store.Close)
		healthHandler.Register("postgres", st.store, true)
	}

	peers, err := initPeers(cfg, m, logger)
	if err != nil {
		return deps, err
	}
	deps.Peers = peers
	deps.Outbox = st.outbox

	broker, err := initBroker(cfg, healthHandler, deps, logger)
	if err != nil {
		return deps, err
	}

	deps.Dispatcher = dispatch.New(cfg.DispatcherConcurrency, logger.WithField("component", "dispatcher"), m)

	route := messaging.Route{Exchange: cfg.EventExchange, RoutingKey: cfg.EventRoutingKey}
	var (
		publisher   domain.EventPublisher
		serviceOpts = []orders.Option{
			orders.WithLogger(logger.WithField("component", "orders-service")),
			orders.WithMetrics(m),
			orders.WithReconcile(cfg.ReconcileAttempts, cfg.ReconcileDelay),
		}
	)
	if cfg.OutboxEnabled {
		publisher = events.NewOutboxPublisher(st.outbox, logger.WithField("component", "event-outbox"))
		serviceOpts = append(serviceOpts, orders.WithDurablePublish())

		workerOpts := []outbox.Option{
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(m),
		}
		if cfg.OutboxDLQExchange != "" {
			workerOpts = append(workerOpts, outbox.WithDeadLetter(messaging.NewOutboxPublisher(broker, messaging.Route{
				Exchange:   cfg.OutboxDLQExchange,
				RoutingKey: cfg.EventRoutingKey,
			})))
		}
		deps.Worker = outbox.NewWorker(st.outbox, messaging.NewOutboxPublisher(broker, route), outbox.Settings{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
			RetryDelay:   retryDelay(cfg.OutboxRetryDelay),
		}, workerOpts...)
	} else {
		publisher = events.NewRetryPublisher(broker, events.Config{
			Exchange:    route.Exchange,
			RoutingKey:  route.RoutingKey,
			MaxAttempts: cfg.PublishMaxAttempts,
			Delay:       retryDelay(cfg.PublishRetryDelay),
		}, logger.WithField("component", "event-publisher"), m)
	}
	if cfg.TableLockEnabled {
		serviceOpts = append(serviceOpts, orders.WithTableLocker(orders.NewKeyedLocker()))
	}

	recorder := history.NewRecorder(st.history,
		history.WithLogger(logger.WithField("component", "history-recorder")),
		history.WithMetrics(m),
	)
	deps.Service, err = orders.NewService(orders.Deps{
		Orders:    st.orders,
		History:   recorder,
		Peers:     peers,
		Publisher: publisher,
		Runner:    deps.Dispatcher,
	}, serviceOpts...)
	if err != nil {
		return deps, fmt.Errorf("build orders service: %w", err)
	}
	return deps, nil
}

// retryDelay переводит 0 из конфигурации в "без паузы" для events.Config.
func retryDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func (d *Dependencies) addCloser(name string, fn func() error) {
	d.closers = append(d.closers, closer{name: name, fn: fn})
}

// Close освобождает ресурсы в порядке, обратном открытию.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.fn(); err != nil {
			d.logger.WithError(err).WithField("resource", c.name).Warn("failed to close resource")
			continue
		}
		d.logger.WithField("resource", c.name).Info("resource closed")
	}
	d.closers = nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return storage{
			orders:  memory.NewOrderRepository(),
			history: memory.NewHistoryRepository(),
			outbox:  memory.NewOutboxRepository(),
		}, nil
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithPool(cfg.PostgresMaxOpenConns, cfg.PostgresMaxIdleConns, cfg.PostgresConnMaxLife),
			postgres.WithApplicationName(cfg.ServiceName),
			postgres.WithSlowQueryLog(logger.WithField("component", "postgres"), cfg.PostgresSlowQuery),
		)
		if err != nil {
			return storage{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return storage{}, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return storage{
			orders:  postgres.NewOrderRepository(store),
			history: postgres.NewHistoryRepository(store),
			outbox:  postgres.NewOutboxRepository(store),
			store:   store,
		}, nil
	default:
		return storage{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPeers(cfg Config, m *metrics.Metrics, logger *log.Entry) (domain.PeerGateway, error) {
	switch cfg.PeerMode {
	case PeerModeMemory:
		dir := peer.NewDirectory()
		for _, id := range cfg.MemoryRestaurants {
			if id = strings.TrimSpace(id); id != "" {
				dir.PutRestaurant(domain.Restaurant{ID: id})
			}
		}
		for _, id := range cfg.MemoryTables {
			if id = strings.TrimSpace(id); id != "" {
				dir.PutTable(domain.Table{ID: id})
			}
		}
		logger.WithFields(log.Fields{
			"restaurants": len(cfg.MemoryRestaurants),
			"tables":      len(cfg.MemoryTables),
		}).Warn("using in-memory peer directory")
		return dir, nil
	case PeerModeHTTP:
		peerLogger := logger.WithField("component", "peer-client")
		restaurantsCB := peer.NewBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, peerLogger.WithField("peer", "restaurants"))
		tablesCB := peer.NewBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, peerLogger.WithField("peer", "tables"))
		client, err := peer.NewClient(peer.Options{
			RestaurantsURL:     cfg.RestaurantsURL,
			TablesURL:          cfg.TablesURL,
			Timeout:            cfg.PeerTimeout,
			RestaurantsBreaker: restaurantsCB,
			TablesBreaker:      tablesCB,
			Metrics:            m,
			Logger:             peerLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("build peer client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported peer mode %q", cfg.PeerMode)
	}
}

// initBroker подключает брокер событий. Брокер не критичен для готовности:
// его отказ переводит сервис в degraded.
func initBroker(cfg Config, healthHandler *health.Handler, deps *Dependencies, logger *log.Entry) (domain.Broker, error) {
	switch cfg.Broker {
	case BrokerNone:
		return messaging.NewLogBroker(logger.WithField("component", "log-broker")), nil
	case BrokerRabbitMQ:
		broker, err := rabbitmq.Dial(cfg.RabbitURL, logger.WithField("component", "rabbitmq"))
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		deps.addCloser("rabbitmq", broker.Close)
		healthHandler.Register("rabbitmq", broker, false)
		return broker, nil
	case BrokerKafka:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, logger.WithField("component", "kafka-producer"))
		if err != nil {
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		deps.addCloser("kafka", producer.Close)
		healthHandler.Register("kafka", producer, false)
		return producer, nil
	default:
		return nil, fmt.Errorf("unsupported broker %q", cfg.Broker)
	}
}
