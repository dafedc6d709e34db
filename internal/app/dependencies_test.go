package app

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/health"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
	"github.com/vladislavdragonenkov/tableorders/internal/peer"
)

func memoryConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.PeerMode = PeerModeMemory
	cfg.MemoryRestaurants = []string{"rest-1"}
	cfg.MemoryTables = []string{"table-1", " "}
	cfg.PublishRetryDelay = 0
	return cfg
}

func buildDeps(t *testing.T, cfg Config) *Dependencies {
	t.Helper()
	deps, err := NewDependencies(context.Background(), cfg, health.NewHandler("test"),
		metrics.NewWithRegisterer(prometheus.NewRegistry()), log.WithField("test", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = deps.Dispatcher.Shutdown(ctx)
		deps.Close()
	})
	return deps
}

func sampleInput() domain.OrderInput {
	return domain.OrderInput{
		Description:  "soup",
		TotalValue:   decimal.RequireFromString("12.50"),
		TableID:      "table-1",
		RestaurantID: "rest-1",
	}
}

func TestNewDependencies_MemoryWiring(t *testing.T) {
	deps := buildDeps(t, memoryConfig())

	require.NotNil(t, deps.Service)
	require.NotNil(t, deps.Dispatcher)
	assert.Nil(t, deps.Worker, "outbox worker is off by default")
	assert.IsType(t, &peer.Directory{}, deps.Peers)

	order, err := deps.Service.CreateOrder(context.Background(), sampleInput())
	require.NoError(t, err)

	table, ok := deps.Peers.(*peer.Directory).Table("table-1")
	require.True(t, ok)
	assert.Equal(t, []string{order.ID}, table.Orders)

	_, err = deps.Service.CreateOrder(context.Background(), sampleInput())
	assert.ErrorIs(t, err, domain.ErrTableOccupied)
}

func TestNewDependencies_OutboxWiring(t *testing.T) {
	cfg := memoryConfig()
	cfg.OutboxEnabled = true
	cfg.OutboxDLQExchange = "orders.dlq"
	deps := buildDeps(t, cfg)
	require.NotNil(t, deps.Worker)

	_, err := deps.Service.CreateOrder(context.Background(), sampleInput())
	require.NoError(t, err)

	stats, err := deps.Outbox.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingCount, "event must be stored before CreateOrder returns")

	report, err := deps.Worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	stats, err = deps.Outbox.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingCount)
}

func TestNewDependencies_HTTPPeers(t *testing.T) {
	cfg := DefaultConfig()
	deps := buildDeps(t, cfg)
	assert.IsType(t, &peer.Client{}, deps.Peers)
}

func TestNewDependencies_Errors(t *testing.T) {
	cases := map[string]func(*Config){
		"unsupported storage": func(c *Config) { c.StorageDriver = "mongo" },
		"unsupported peers":   func(c *Config) { c.PeerMode = "grpc" },
		"bad peer url":        func(c *Config) { c.PeerMode = PeerModeHTTP; c.TablesURL = "::not a url" },
		"unsupported broker":  func(c *Config) { c.Broker = "nats" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := memoryConfig()
			mutate(&cfg)
			deps, err := NewDependencies(context.Background(), cfg, health.NewHandler("test"), nil, nil)
			assert.Error(t, err)
			assert.Nil(t, deps)
		})
	}
}

func TestDependencies_CloseRunsInReverseOrder(t *testing.T) {
	var order []string
	deps := &Dependencies{logger: log.WithField("test", "close")}
	deps.addCloser("first", func() error { order = append(order, "first"); return nil })
	deps.addCloser("second", func() error { order = append(order, "second"); return assert.AnError })

	deps.Close()
	deps.Close()

	assert.Equal(t, []string{"second", "first"}, order)
	(*Dependencies)(nil).Close()
}

func TestNewDependencies_PostgresStorage(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("ORDERS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("ORDERS_POSTGRES_TEST_DSN is not set")
	}

	cfg := memoryConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn

	healthHandler := health.NewHandler("test")
	deps, err := NewDependencies(context.Background(), cfg, healthHandler, nil, nil)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.Close()

	report := healthHandler.Evaluate(context.Background())
	assert.Equal(t, health.StatusHealthy, report.Checks["postgres"].Status)
}
