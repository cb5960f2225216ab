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

	"github.com/kirillkom/recovery-tracker/internal/bootstrap"
	"github.com/kirillkom/recovery-tracker/internal/config"
	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/usecase"
	"github.com/kirillkom/recovery-tracker/internal/observability/logging"
	"github.com/kirillkom/recovery-tracker/internal/observability/metrics"
)

const service = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, service)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.Events == nil {
		logger.Error("worker_requires_nats", "hint", "set NATS_URL")
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics(service)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go sweepOverdue(ctx, app.Tasks, cfg.OverdueSweepInterval, workerMetrics)

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Events.SubscribeExtractionCompleted(ctx, func(handlerCtx context.Context, event domain.ExtractionCompleted) error {
		started := time.Now()
		workerMetrics.StartEvent()
		if !event.CompletedAt.IsZero() {
			workerMetrics.ObserveEventLag(service, started.Sub(event.CompletedAt))
		}

		storeCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()
		err := app.Tasks.HandleExtractionCompleted(storeCtx, event)
		workerMetrics.FinishEvent(service, time.Since(started), err)
		if err == nil {
			workerMetrics.AddTasksStored(service, len(event.Result.Tasks))
		}
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

func sweepOverdue(ctx context.Context, tasks *usecase.CareTaskUseCase, interval time.Duration, m *metrics.WorkerMetrics) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tasks.SweepOverdue(ctx)
			if err != nil {
				slog.Warn("overdue_sweep_failed", "error", err)
				continue
			}
			if n > 0 {
				m.AddOverdueMarked(service, n)
				slog.Info("overdue_sweep_completed", "marked", n)
			}
		}
	}
}
