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

	httpadapter "github.com/kirillkom/recovery-tracker/internal/adapters/http"
	"github.com/kirillkom/recovery-tracker/internal/bootstrap"
	"github.com/kirillkom/recovery-tracker/internal/config"
	"github.com/kirillkom/recovery-tracker/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("extractor", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.NewExtractor(cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	router := httpadapter.NewExtractorRouter(cfg.Pipeline.UploadFieldName, cfg.Pipeline.MaxFileSize, backend.Extract, backend.Metrics)
	server := &http.Server{
		Addr:              ":" + cfg.ExtractorPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Pipeline.ProcessingTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("extractor_listening", "addr", server.Addr, "mode", cfg.ExtractorMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("extractor_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("extractor_shutdown_failed", "error", err)
	}
}
