// Package app собирает сервис заказов из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/health"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
	"github.com/vladislavdragonenkov/tableorders/internal/service/outbox"
	"github.com/vladislavdragonenkov/tableorders/internal/tracing"
	"github.com/vladislavdragonenkov/tableorders/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/tableorders/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// Run поднимает HTTP API и сервер метрик, работает до отмены ctx и
// останавливает компоненты в порядке: API, фоновые задачи, outbox worker, ресурсы.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version.GetVersion(),
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.WithError(err).Warn("tracer provider shutdown with error")
		}
	}()

	m := metrics.New()
	healthHandler := health.NewHandler(version.GetVersion())

	deps, err := NewDependencies(ctx, cfg, healthHandler, m, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	metricsSrv, err := startMetricsServer(cfg.MetricsAddr, logger, healthHandler)
	if err != nil {
		return err
	}

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		shutdownHTTP(context.Background(), metricsSrv, logger)
		return fmt.Errorf("listen http api: %w", err)
	}
	router := httpapi.NewRouter(
		httpapi.NewHandler(deps.Service, logger.WithField("component", "http-api")),
		m,
		logger.WithField("component", "http-access"),
	)
	apiSrv := &http.Server{Handler: router, ReadHeaderTimeout: readHeaderTimeout}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := startOutboxWorker(workerCtx, deps.Worker)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", apiLis.Addr().String()).Info("http api listening")
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping order service")
	case serveErr = <-errCh:
		logger.WithError(serveErr).Error("http api stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	shutdownHTTP(shutdownCtx, apiSrv, logger)
	if err := deps.Dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("background tasks did not finish before shutdown timeout")
	}
	shutdownOutboxWorker(stopWorker, workerDone, logger)
	shutdownHTTP(shutdownCtx, metricsSrv, logger)

	if serveErr != nil {
		return serveErr
	}
	return ctx.Err()
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-пробы.
func startMetricsServer(addr string, logger *log.Entry, healthHandler *health.Handler) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("metrics and health checks listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	return srv, nil
}

// startOutboxWorker запускает worker в отдельной горутине. Возвращает nil, если outbox выключен.
func startOutboxWorker(ctx context.Context, worker *outbox.Worker) <-chan struct{} {
	if worker == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	return done
}

func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info("outbox worker stopped")
	case <-time.After(5 * time.Second):
		logger.Warn("outbox worker did not stop in time")
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(ctx context.Context, srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http server shutdown with error")
	}
}
