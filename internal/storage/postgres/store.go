package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second
)

var errStoreClosed = errors.New("postgres store is not initialized")

type storeConfig struct {
	maxOpen       int
	maxIdle       int
	maxLifetime   time.Duration
	maxIdleTime   time.Duration
	appName       string
	slowThreshold time.Duration
	logger        *log.Entry
}

// Option настраивает Store при открытии.
type Option func(*storeConfig)

// WithPool задаёт размеры пула. Неположительные значения оставляют значения по умолчанию.
func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) Option {
	return func(c *storeConfig) {
		if maxOpen > 0 {
			c.maxOpen = maxOpen
		}
		if maxIdle > 0 {
			c.maxIdle = maxIdle
		}
		if maxLifetime > 0 {
			c.maxLifetime = maxLifetime
		}
	}
}

// WithApplicationName выставляет application_name, видимый в pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(c *storeConfig) { c.appName = name }
}

// WithSlowQueryLog пишет в лог запросы дольше threshold. Ноль отключает лог.
func WithSlowQueryLog(logger *log.Entry, threshold time.Duration) Option {
	return func(c *storeConfig) {
		c.logger = logger
		c.slowThreshold = threshold
	}
}

// Store держит пул database/sql поверх драйвера pgx.
type Store struct {
	db *sql.DB
}

// Open разбирает DSN, открывает пул и проверяет, что база отвечает.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg := storeConfig{
		maxOpen:     25,
		maxIdle:     25,
		maxLifetime: 30 * time.Minute,
		maxIdleTime: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.appName != "" {
		connConfig.RuntimeParams["application_name"] = cfg.appName
	}
	if cfg.slowThreshold > 0 {
		logger := cfg.logger
		if logger == nil {
			logger = log.WithField("component", "postgres")
		}
		connConfig.Tracer = &slowQueryTracer{threshold: cfg.slowThreshold, logger: logger}
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(cfg.maxOpen)
	db.SetMaxIdleConns(cfg.maxIdle)
	db.SetConnMaxLifetime(cfg.maxLifetime)
	db.SetConnMaxIdleTime(cfg.maxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул для репозиториев и мигратора.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет соединение; используется health-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type queryStartKey struct{}

type queryStart struct {
	sql   string
	began time.Time
}

// slowQueryTracer реализует pgx.QueryTracer и логирует медленные запросы.
type slowQueryTracer struct {
	threshold time.Duration
	logger    *log.Entry
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, began: time.Now()})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := time.Since(start.began)
	if elapsed < t.threshold && data.Err == nil {
		return
	}

	entry := t.logger.WithFields(log.Fields{
		"sql":      start.sql,
		"duration": elapsed,
		"rows":     data.CommandTag.RowsAffected(),
	})
	if data.Err != nil {
		entry.WithError(data.Err).Debug("postgres query failed")
		return
	}
	entry.Warn("slow postgres query")
}

var _ pgx.QueryTracer = (*slowQueryTracer)(nil)
