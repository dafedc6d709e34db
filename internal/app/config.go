package app

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	PeerModeHTTP   = "http"
	PeerModeMemory = "memory"

	BrokerNone     = "none"
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"

	envPrefix = "ORDERS_"
)

// Config описывает настройки запуска сервиса заказов. Значения читаются из
// переменных окружения с префиксом ORDERS_.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090" validate:"required"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn warning error"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`

	StorageDriver        string        `env:"STORAGE_DRIVER" envDefault:"memory" validate:"oneof=memory postgres"`
	PostgresDSN          string        `env:"POSTGRES_DSN" validate:"required_if=StorageDriver postgres"`
	PostgresAutoMigrate  bool          `env:"POSTGRES_AUTO_MIGRATE" envDefault:"true"`
	PostgresMaxOpenConns int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"10" validate:"gte=0"`
	PostgresMaxIdleConns int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"5" validate:"gte=0"`
	PostgresConnMaxLife  time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m" validate:"gte=0"`
	PostgresSlowQuery    time.Duration `env:"POSTGRES_SLOW_QUERY" envDefault:"500ms" validate:"gte=0"`

	PeerMode            string        `env:"PEER_MODE" envDefault:"http" validate:"oneof=http memory"`
	RestaurantsURL      string        `env:"RESTAURANTS_URL" envDefault:"http://localhost:8081" validate:"required_if=PeerMode http"`
	TablesURL           string        `env:"TABLES_URL" envDefault:"http://localhost:8082" validate:"required_if=PeerMode http"`
	PeerTimeout         time.Duration `env:"PEER_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	BreakerMaxFailures  int           `env:"PEER_BREAKER_MAX_FAILURES" envDefault:"5" validate:"gte=0"`
	BreakerResetTimeout time.Duration `env:"PEER_BREAKER_RESET_TIMEOUT" envDefault:"30s" validate:"gte=0"`
	MemoryRestaurants   []string      `env:"PEER_MEMORY_RESTAURANTS" envSeparator:","`
	MemoryTables        []string      `env:"PEER_MEMORY_TABLES" envSeparator:","`

	Broker             string        `env:"BROKER" envDefault:"none" validate:"oneof=none rabbitmq kafka"`
	RabbitURL          string        `env:"RABBITMQ_URL" validate:"required_if=Broker rabbitmq"`
	KafkaBrokers       []string      `env:"KAFKA_BROKERS" envSeparator:"," validate:"required_if=Broker kafka"`
	EventExchange      string        `env:"EVENT_EXCHANGE" envDefault:"orders" validate:"required"`
	EventRoutingKey    string        `env:"EVENT_ROUTING_KEY" envDefault:"orderCreated" validate:"required"`
	PublishMaxAttempts int           `env:"PUBLISH_MAX_ATTEMPTS" envDefault:"3" validate:"gte=1"`
	PublishRetryDelay  time.Duration `env:"PUBLISH_RETRY_DELAY" envDefault:"2s" validate:"gte=0"`

	DispatcherConcurrency int           `env:"DISPATCHER_CONCURRENCY" envDefault:"16" validate:"gte=1"`
	TableLockEnabled      bool          `env:"TABLE_LOCK_ENABLED" envDefault:"true"`
	ReconcileAttempts     int           `env:"RECONCILE_ATTEMPTS" envDefault:"3" validate:"gte=0"`
	ReconcileDelay        time.Duration `env:"RECONCILE_DELAY" envDefault:"1s" validate:"gte=0"`

	OutboxEnabled      bool          `env:"OUTBOX_ENABLED" envDefault:"false"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s" validate:"gt=0"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100" validate:"gte=1"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"3" validate:"gte=1"`
	OutboxRetryDelay   time.Duration `env:"OUTBOX_RETRY_DELAY" envDefault:"100ms" validate:"gte=0"`
	OutboxDLQExchange  string        `env:"OUTBOX_DLQ_EXCHANGE"`

	TracingEndpoint string `env:"TRACING_ENDPOINT"`
	ServiceName     string `env:"SERVICE_NAME" envDefault:"table-orders" validate:"required"`
}

// LoadConfig читает конфигурацию из окружения процесса.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(env.ToMap(os.Environ()))
}

// LoadConfigFrom читает конфигурацию из переданного набора переменных.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig возвращает конфигурацию со значениями по умолчанию.
func DefaultConfig() Config {
	cfg, err := LoadConfigFrom(map[string]string{})
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
