package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/sales-tech-rag/internal/bootstrap"
	"github.com/kirillkom/sales-tech-rag/internal/config"
	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/observability/logging"
	"github.com/kirillkom/sales-tech-rag/internal/observability/metrics"
)

const indexTimeout = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	service := cfg.ServiceName + "-worker"
	logging.Install(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(service)
	app, err := bootstrap.New(ctx, cfg, bootstrap.WithResilienceObserver(workerMetrics))
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	if app.Queue == nil {
		slog.Error("worker_requires_queue", "hint", "set NATS_URL")
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeIndexRequests(ctx, func(handlerCtx context.Context, req domain.IndexRequest) error {
		indexCtx, cancel := context.WithTimeout(handlerCtx, indexTimeout)
		defer cancel()

		started := time.Now()
		workerMetrics.StartIndex()
		doc, err := app.IndexUC.Index(indexCtx, req)
		chunks := 0
		if doc != nil {
			chunks = doc.ChunksIndexed
		}
		workerMetrics.FinishIndex(time.Since(started), chunks, err)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
