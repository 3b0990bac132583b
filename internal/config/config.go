package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all worker configuration
type Config struct {
	// Admin server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3100"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Object storage settings
	Storage StorageConfig

	// Embeddings configuration
	Embeddings EmbeddingsConfig

	// LLM configuration (enrichment, thematic bridge)
	LLM LLMConfig

	// Docling extraction service configuration
	Extractor ExtractorConfig

	// Background worker configuration
	Worker WorkerConfig

	// Connection detection configuration
	Connections ConnectionsConfig

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"rhizome"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"rhizome"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// StorageConfig holds S3/MinIO object storage settings
type StorageConfig struct {
	Endpoint        string `env:"STORAGE_ENDPOINT" envDefault:""`
	AccessKeyID     string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretAccessKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	Bucket          string `env:"STORAGE_BUCKET" envDefault:"documents"`
	Region          string `env:"STORAGE_REGION" envDefault:"us-east-1"`
}

// IsConfigured returns true if object storage credentials are present
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// EmbeddingsConfig holds embedding provider configuration
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "genai" (hosted) or "ollama" (local)
	Provider string `env:"EMBEDDING_PROVIDER" envDefault:"genai"`

	// Model is the embedding model name
	Model string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	// Dimension is the embedding vector dimension
	Dimension int `env:"EMBEDDING_DIMENSION" envDefault:"768"`

	// GoogleAPIKey for the hosted provider
	GoogleAPIKey string `env:"GOOGLE_API_KEY" envDefault:""`

	// OllamaURL is the base URL of a local Ollama instance
	OllamaURL string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`

	// NetworkDisabled forces the noop client (tests, offline runs)
	NetworkDisabled bool `env:"EMBEDDINGS_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if a real embedding backend is configured
func (e *EmbeddingsConfig) IsEnabled() bool {
	if e.NetworkDisabled {
		return false
	}
	if e.Provider == "ollama" {
		return e.OllamaURL != ""
	}
	return e.GoogleAPIKey != ""
}

// LLMConfig holds LLM settings for metadata enrichment and the
// thematic bridge engine
type LLMConfig struct {
	Model           string        `env:"LLM_MODEL" envDefault:"gemini-2.5-flash"`
	GoogleAPIKey    string        `env:"GOOGLE_API_KEY" envDefault:""`
	MaxOutputTokens int           `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"8192"`
	Temperature     float64       `env:"LLM_TEMPERATURE" envDefault:"0"`
	Timeout         time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	NetworkDisabled bool          `env:"LLM_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if the LLM provider is configured
func (l *LLMConfig) IsEnabled() bool {
	if l.NetworkDisabled {
		return false
	}
	return l.GoogleAPIKey != ""
}

// ExtractorConfig holds Docling extraction service settings
type ExtractorConfig struct {
	// Enabled determines whether the Docling service is used for PDF/EPUB
	Enabled bool `env:"DOCLING_ENABLED" envDefault:"true"`
	// ServiceURL is the Docling service base URL
	ServiceURL string `env:"DOCLING_SERVICE_URL" envDefault:"http://localhost:8008"`
	// TimeoutMs is the per-request timeout in milliseconds (default 10 minutes)
	TimeoutMs int `env:"DOCLING_SERVICE_TIMEOUT" envDefault:"600000"`
	// MaxFileSizeMB is the largest source file accepted for extraction
	MaxFileSizeMB int `env:"DOCLING_MAX_FILE_SIZE_MB" envDefault:"100"`
}

// Timeout returns the request timeout as a Duration
func (e *ExtractorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// WorkerConfig holds job queue worker settings
type WorkerConfig struct {
	// PollIntervalMs is the queue polling interval in milliseconds
	PollIntervalMs int `env:"WORKER_POLL_INTERVAL_MS" envDefault:"5000"`
	// HeartbeatIntervalMs is the heartbeat write interval in milliseconds
	HeartbeatIntervalMs int `env:"WORKER_HEARTBEAT_INTERVAL_MS" envDefault:"5000"`
	// StaleThresholdSec is how long a processing job may go without a
	// heartbeat before recovery resets it to pending
	StaleThresholdSec int `env:"WORKER_STALE_THRESHOLD_SEC" envDefault:"30"`
	// RetrySweepSec is how often the failed-job retry pass runs
	RetrySweepSec int `env:"WORKER_RETRY_SWEEP_SEC" envDefault:"30"`
	// MaxRetries is the retry budget for transient failures
	MaxRetries int `env:"WORKER_MAX_RETRIES" envDefault:"3"`
	// EmbeddingConcurrency bounds parallel embedding batches inside a handler
	EmbeddingConcurrency int `env:"WORKER_EMBEDDING_CONCURRENCY" envDefault:"4"`
}

// PollInterval returns the polling interval as a Duration
func (w *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat interval as a Duration
func (w *WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatIntervalMs) * time.Millisecond
}

// ConnectionsConfig holds connection detection defaults
type ConnectionsConfig struct {
	// SemanticThreshold is the minimum cosine similarity for the semantic engine
	SemanticThreshold float64 `env:"CONN_SEMANTIC_THRESHOLD" envDefault:"0.7"`
	// MaxResultsPerChunk caps connections emitted per source chunk per engine
	MaxResultsPerChunk int `env:"CONN_MAX_RESULTS_PER_CHUNK" envDefault:"10"`
	// MinConceptOverlap is the contradiction engine shared-concept floor
	MinConceptOverlap int `env:"CONN_MIN_CONCEPT_OVERLAP" envDefault:"2"`
	// PolarityThreshold is the contradiction engine polarity-gap floor
	PolarityThreshold float64 `env:"CONN_POLARITY_THRESHOLD" envDefault:"0.6"`
	// BridgeMaxSourceChunks caps thematic bridge source chunks per document
	BridgeMaxSourceChunks int `env:"CONN_BRIDGE_MAX_SOURCE_CHUNKS" envDefault:"20"`
	// BridgeMinImportance is the importance floor for bridge source chunks
	BridgeMinImportance float64 `env:"CONN_BRIDGE_MIN_IMPORTANCE" envDefault:"0.6"`
	// BridgeMinStrength is the acceptance floor for LLM-scored bridges
	BridgeMinStrength float64 `env:"CONN_BRIDGE_MIN_STRENGTH" envDefault:"0.6"`
	// AIConcurrency bounds parallel LLM calls inside an engine
	AIConcurrency int `env:"CONN_AI_CONCURRENCY" envDefault:"3"`
	// Engine weights applied when merging duplicate connections
	SemanticWeight      float64 `env:"CONN_SEMANTIC_WEIGHT" envDefault:"0.25"`
	ContradictionWeight float64 `env:"CONN_CONTRADICTION_WEIGHT" envDefault:"0.40"`
	BridgeWeight        float64 `env:"CONN_BRIDGE_WEIGHT" envDefault:"0.35"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("embedding_provider", cfg.Embeddings.Provider),
	)

	return cfg, nil
}
