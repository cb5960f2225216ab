package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort           string
	ExtractorPort     string
	WorkerMetricsPort string
	LogLevel          string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResponseTTL   time.Duration

	NATSURL     string
	NATSSubject string

	ExtractionBaseURL string
	ExtractorMode     string

	OllamaURL      string
	OllamaGenModel string

	StoragePath  string
	SpoolUploads bool

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int
	APIQueueTimeout   time.Duration

	OverdueSweepInterval time.Duration

	Pipeline Pipeline
}

// Pipeline holds the options consumed by the intake pipeline.
type Pipeline struct {
	MaxFileSize         int64         `yaml:"max_file_size"`
	LargeFileWarning    int64         `yaml:"large_file_warning"`
	AllowedMimeTypes    []string      `yaml:"allowed_mime_types"`
	ProcessingTimeout   time.Duration `yaml:"processing_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
	RetryBackoffFactor  float64       `yaml:"retry_backoff_factor"`
	RetryMaxDelay       time.Duration `yaml:"retry_max_delay"`
	PollingInterval     time.Duration `yaml:"polling_interval"`
	PollInitialDelay    time.Duration `yaml:"poll_initial_delay"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	UploadFieldName     string        `yaml:"upload_field_name"`
	UserAgent           string        `yaml:"user_agent"`
}

func DefaultPipeline() Pipeline {
	return Pipeline{
		MaxFileSize:         10 * 1024 * 1024,
		LargeFileWarning:    5 * 1024 * 1024,
		AllowedMimeTypes:    []string{"application/pdf"},
		ProcessingTimeout:   120 * time.Second,
		RetryAttempts:       3,
		RetryBaseDelay:      1 * time.Second,
		RetryBackoffFactor:  2,
		RetryMaxDelay:       10 * time.Second,
		PollingInterval:     2 * time.Second,
		PollInitialDelay:    1 * time.Second,
		ConfidenceThreshold: 0.7,
		UploadFieldName:     "pdf_file",
		UserAgent:           "recovery-tracker-intake/1.0",
	}
}

func Load() Config {
	pipeline := DefaultPipeline()
	if path := mustEnv("PIPELINE_CONFIG_FILE", ""); path != "" {
		if loaded, err := LoadPipelineFile(path, pipeline); err == nil {
			pipeline = loaded
		}
	}

	return Config{
		APIPort:           mustEnv("API_PORT", "8080"),
		ExtractorPort:     mustEnv("EXTRACTOR_PORT", "5000"),
		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9091"),
		LogLevel:          mustEnv("LOG_LEVEL", "info"),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		RedisAddr:     mustEnv("REDIS_ADDR", ""),
		RedisPassword: mustEnv("REDIS_PASSWORD", ""),
		RedisDB:       mustEnvInt("REDIS_DB", 0),
		ResponseTTL:   mustEnvDuration("RESPONSE_CACHE_TTL", time.Hour),

		NATSURL:     mustEnv("NATS_URL", ""),
		NATSSubject: mustEnv("NATS_SUBJECT", "extraction.completed"),

		ExtractionBaseURL: mustEnv("EXTRACTION_BASE_URL", "http://localhost:5000"),
		ExtractorMode:     mustEnv("EXTRACTOR_MODE", "rules"),

		OllamaURL:      mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel: mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),

		StoragePath:  mustEnv("STORAGE_PATH", "./data/uploads"),
		SpoolUploads: mustEnvBool("EXTRACTOR_SPOOL_UPLOADS", true),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 5),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 10),
		APIMaxInFlight:    mustEnvInt("API_MAX_IN_FLIGHT", 32),
		APIQueueTimeout:   mustEnvDuration("API_QUEUE_TIMEOUT", 250*time.Millisecond),

		OverdueSweepInterval: mustEnvDuration("OVERDUE_SWEEP_INTERVAL", time.Minute),

		Pipeline: applyPipelineEnv(pipeline),
	}
}

// LoadPipelineFile overlays the YAML file at path on top of base.
func LoadPipelineFile(path string, base Pipeline) (Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read pipeline config: %w", err)
	}
	out := base
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return base, fmt.Errorf("parse pipeline config: %w", err)
	}
	return out.normalize(), nil
}

func applyPipelineEnv(p Pipeline) Pipeline {
	p.MaxFileSize = int64(mustEnvInt("MAX_FILE_SIZE", int(p.MaxFileSize)))
	p.LargeFileWarning = int64(mustEnvInt("LARGE_FILE_WARNING", int(p.LargeFileWarning)))
	if types := mustEnv("ALLOWED_MIME_TYPES", ""); types != "" {
		p.AllowedMimeTypes = splitList(types)
	}
	p.ProcessingTimeout = mustEnvDuration("PROCESSING_TIMEOUT", p.ProcessingTimeout)
	p.RetryAttempts = mustEnvInt("RETRY_ATTEMPTS", p.RetryAttempts)
	p.RetryBaseDelay = mustEnvDuration("RETRY_BASE_DELAY", p.RetryBaseDelay)
	p.RetryBackoffFactor = mustEnvFloat("RETRY_BACKOFF_FACTOR", p.RetryBackoffFactor)
	p.RetryMaxDelay = mustEnvDuration("RETRY_MAX_DELAY", p.RetryMaxDelay)
	p.PollingInterval = mustEnvDuration("POLLING_INTERVAL", p.PollingInterval)
	p.PollInitialDelay = mustEnvDuration("POLL_INITIAL_DELAY", p.PollInitialDelay)
	p.ConfidenceThreshold = mustEnvFloat("CONFIDENCE_THRESHOLD", p.ConfidenceThreshold)
	p.UploadFieldName = mustEnv("UPLOAD_FIELD_NAME", p.UploadFieldName)
	return p.normalize()
}

func (p Pipeline) normalize() Pipeline {
	out := p
	def := DefaultPipeline()

	if out.MaxFileSize <= 0 {
		out.MaxFileSize = def.MaxFileSize
	}
	if out.LargeFileWarning <= 0 {
		out.LargeFileWarning = def.LargeFileWarning
	}
	if len(out.AllowedMimeTypes) == 0 {
		out.AllowedMimeTypes = def.AllowedMimeTypes
	}
	if out.ProcessingTimeout <= 0 {
		out.ProcessingTimeout = def.ProcessingTimeout
	}
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = def.RetryAttempts
	}
	if out.RetryBaseDelay <= 0 {
		out.RetryBaseDelay = def.RetryBaseDelay
	}
	if out.RetryBackoffFactor < 1 {
		out.RetryBackoffFactor = def.RetryBackoffFactor
	}
	if out.RetryMaxDelay < out.RetryBaseDelay {
		out.RetryMaxDelay = out.RetryBaseDelay
	}
	if out.PollingInterval <= 0 {
		out.PollingInterval = def.PollingInterval
	}
	if out.PollInitialDelay < 0 {
		out.PollInitialDelay = def.PollInitialDelay
	}
	if out.ConfidenceThreshold < 0 || out.ConfidenceThreshold > 1 {
		out.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if strings.TrimSpace(out.UploadFieldName) == "" {
		out.UploadFieldName = def.UploadFieldName
	}
	if strings.TrimSpace(out.UserAgent) == "" {
		out.UserAgent = def.UserAgent
	}
	return out
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
