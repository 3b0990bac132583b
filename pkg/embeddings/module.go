package embeddings

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/pkg/embeddings/genai"
	"github.com/rhizome-app/rhizome/pkg/embeddings/ollama"
)

// NewNoopService creates a service with a noop client (for testing)
func NewNoopService(log *slog.Logger) *Service {
	return &Service{
		client:  NewNoopClient(),
		log:     log,
		enabled: false,
	}
}

// Module provides the embeddings fx.Module
var Module = fx.Module("embeddings",
	fx.Provide(NewService),
)

// Service provides embedding generation with automatic client selection
type Service struct {
	client  Client
	log     *slog.Logger
	enabled bool
}

// NewService creates a new embeddings service. Provider selection follows
// configuration: "genai" talks to the Gemini API, "ollama" to a local
// server. Without a usable provider the service degrades to noop and
// documents complete without embeddings.
func NewService(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) *Service {
	embCfg := cfg.Embeddings

	svc := &Service{
		client:  NewNoopClient(),
		log:     log,
		enabled: false,
	}

	if !embCfg.IsEnabled() {
		log.Info("embeddings service disabled - no provider configured")
		return svc
	}

	// Initialize client on startup
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			switch embCfg.Provider {
			case "ollama":
				log.Info("initializing Ollama embeddings client",
					slog.String("url", embCfg.OllamaURL),
					slog.String("model", embCfg.Model),
				)
				svc.client = ollama.NewClient(ollama.Config{
					BaseURL: embCfg.OllamaURL,
					Model:   embCfg.Model,
				}, ollama.WithLogger(log))
				svc.enabled = true

			case "genai":
				log.Info("initializing Google Generative AI embeddings client",
					slog.String("model", embCfg.Model),
				)
				client, err := genai.NewClient(ctx, genai.Config{
					APIKey:    embCfg.GoogleAPIKey,
					Model:     embCfg.Model,
					Dimension: embCfg.Dimension,
				}, genai.WithLogger(log))
				if err != nil {
					log.Error("failed to initialize Generative AI client", slog.String("error", err.Error()))
					// Keep noop client; startup proceeds without embeddings
					return nil
				}
				svc.client = client
				svc.enabled = true

			default:
				log.Warn("unknown embeddings provider, embeddings disabled",
					slog.String("provider", embCfg.Provider),
				)
			}
			return nil
		},
	})

	return svc
}

// IsEnabled returns true if embeddings are available
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// EmbedQuery generates an embedding for a single query
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.client.EmbedQuery(ctx, query)
}

// EmbedDocuments generates embeddings for multiple documents
func (s *Service) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return s.client.EmbedDocuments(ctx, documents)
}
