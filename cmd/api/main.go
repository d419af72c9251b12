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

	httpadapter "github.com/kirillkom/sales-tech-rag/internal/adapters/http"
	"github.com/kirillkom/sales-tech-rag/internal/bootstrap"
	"github.com/kirillkom/sales-tech-rag/internal/config"
	"github.com/kirillkom/sales-tech-rag/internal/observability/logging"
	"github.com/kirillkom/sales-tech-rag/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	service := cfg.ServiceName + "-api"
	logging.Install(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(service)
	app, err := bootstrap.New(ctx, cfg,
		bootstrap.WithResilienceObserver(httpMetrics),
		bootstrap.WithAnswerRecorder(httpMetrics),
	)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	routerOpts := []httpadapter.RouterOption{httpadapter.WithMetrics(httpMetrics)}
	for name, check := range app.HealthChecks {
		routerOpts = append(routerOpts, httpadapter.WithHealthCheck(name, check))
	}
	router := httpadapter.NewRouter(cfg, app.AskUC, app.IndexUC, routerOpts...).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Duration(cfg.LLMTimeoutSeconds)*time.Second + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
