package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/recovery-tracker/internal/config"
	"github.com/kirillkom/recovery-tracker/internal/core/extraction"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
	"github.com/kirillkom/recovery-tracker/internal/core/usecase"
	memcache "github.com/kirillkom/recovery-tracker/internal/infrastructure/cache/memory"
	rediscache "github.com/kirillkom/recovery-tracker/internal/infrastructure/cache/redis"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/chunking"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/extractor/rulebased"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/poller"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/queue/nats"
	memstore "github.com/kirillkom/recovery-tracker/internal/infrastructure/repository/memory"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/resilience"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/transfer"
	"github.com/kirillkom/recovery-tracker/internal/observability/metrics"
)

const (
	promptChunkSize    = 6000
	promptChunkOverlap = 200
)

// App holds the intake pipeline and the care-task service shared by the api
// and worker binaries.
type App struct {
	Config config.Config

	Intake  *usecase.IntakeUseCase
	Tasks   *usecase.CareTaskUseCase
	Metrics *metrics.HTTPServerMetrics

	// Events is nil when NATS is not configured; completed uploads are then
	// handed to Tasks in-process.
	Events ports.EventSubscriber

	closers []func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	statuses, tasks, err := app.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	careTasks := usecase.NewCareTaskUseCase(tasks)

	cache, err := app.openCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var events ports.EventPublisher = careTasks
	if cfg.NATSURL != "" {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.closers = append(app.closers, queue.Close)
		events = queue
		app.Events = queue
	}

	httpMetrics := metrics.NewHTTPServerMetrics(service)
	pipelineMetrics := metrics.NewPipelineMetrics(service, httpMetrics.Registry())

	pipeline := cfg.Pipeline
	validator := usecase.NewFileValidator(usecase.ValidatorOptions{
		MaxFileSize:      pipeline.MaxFileSize,
		LargeFileWarning: pipeline.LargeFileWarning,
		AllowedMimeTypes: pipeline.AllowedMimeTypes,
	})
	builder := usecase.NewPackageBuilder(validator, usecase.PackageOptions{
		UserAgent:           pipeline.UserAgent,
		ConfidenceThreshold: pipeline.ConfidenceThreshold,
	})

	client := transfer.New(transfer.Options{
		BaseURL:        cfg.ExtractionBaseURL,
		FieldName:      pipeline.UploadFieldName,
		UserAgent:      pipeline.UserAgent,
		RequestTimeout: pipeline.ProcessingTimeout,
	}, resilience.NewExecutor(transferPolicy(pipeline)), cache, pipelineMetrics)

	normalizer := extraction.NewNormalizer(extraction.Options{ConfidenceThreshold: pipeline.ConfidenceThreshold})
	statusPoller := poller.New(cache, normalizer, poller.Options{
		InitialDelay: pipeline.PollInitialDelay,
		Interval:     pipeline.PollingInterval,
		MaxWait:      pipeline.ProcessingTimeout,
	}, pipelineMetrics)
	app.closers = append(app.closers, statusPoller.Shutdown)

	app.Intake = usecase.NewIntakeUseCase(builder, client, statusPoller, cache, statuses, events, pipelineMetrics)
	app.Tasks = careTasks
	app.Metrics = httpMetrics

	ok = true
	return app, nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config) (ports.StatusStore, ports.TaskStore, error) {
	if cfg.PostgresDSN == "" {
		slog.Warn("postgres_disabled", "reason", "POSTGRES_DSN is empty, using in-memory stores")
		return memstore.NewStatusStore(), memstore.NewTaskStore(), nil
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, closeDB(db))
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return postgres.NewUploadRepository(db), postgres.NewTaskRepository(db), nil
}

func (a *App) openCache(ctx context.Context, cfg config.Config) (ports.ResponseCache, error) {
	if cfg.RedisAddr == "" {
		return memcache.NewResponseCache(cfg.ResponseTTL), nil
	}
	cache, err := rediscache.New(ctx, rediscache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.ResponseTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init response cache: %w", err)
	}
	a.closers = append(a.closers, func() { _ = cache.Close() })
	return cache, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			slog.Warn("postgres_close_failed", "error", err)
		}
	}
}

// transferPolicy maps the pipeline retry options onto the executor.
func transferPolicy(p config.Pipeline) resilience.Config {
	policy := resilience.DefaultConfig()
	policy.RetryMaxAttempts = p.RetryAttempts
	policy.RetryInitialBackoff = p.RetryBaseDelay
	policy.RetryMaxBackoff = p.RetryMaxDelay
	policy.RetryMultiplier = p.RetryBackoffFactor
	return policy
}

// Extractor is the reference extraction backend.
type Extractor struct {
	Config  config.Config
	Extract *usecase.ExtractDocumentUseCase
	Metrics *metrics.HTTPServerMetrics
}

func NewExtractor(cfg config.Config) (*Extractor, error) {
	var storage ports.ObjectStorage
	if cfg.SpoolUploads {
		spool, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init upload spool: %w", err)
		}
		storage = spool
	}

	var (
		generator ports.JSONGenerator
		chunker   ports.Chunker
	)
	switch mode := strings.ToLower(strings.TrimSpace(cfg.ExtractorMode)); mode {
	case "", "rules":
	case "llm":
		generator = ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, resilience.NewExecutor(resilience.DefaultConfig()))
		chunker = chunking.NewSplitter(promptChunkSize, promptChunkOverlap)
	default:
		return nil, fmt.Errorf("unknown extractor mode %q", mode)
	}

	return &Extractor{
		Config:  cfg,
		Extract: usecase.NewExtractDocumentUseCase(storage, pdftext.New(0), rulebased.New(), generator, chunker),
		Metrics: metrics.NewHTTPServerMetrics("extractor"),
	}, nil
}
