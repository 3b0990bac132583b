package llm

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/rhizome-app/rhizome/internal/config"
)

// GenAIProvider talks to the Gemini API. The client is created lazily on
// first use so construction never needs a context or network.
type GenAIProvider struct {
	cfg config.LLMConfig

	mu     sync.Mutex
	client *genai.Client
}

// NewGenAIProvider creates a Gemini-backed provider
func NewGenAIProvider(cfg config.LLMConfig) *GenAIProvider {
	return &GenAIProvider{cfg: cfg}
}

// IsConfigured returns true when an API key is present
func (p *GenAIProvider) IsConfigured() bool {
	return p.cfg.IsEnabled()
}

func (p *GenAIProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.GoogleAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	p.client = client
	return client, nil
}

// Complete generates a completion. When the request carries a schema the
// response is constrained to JSON matching it.
func (p *GenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	if !p.IsConfigured() {
		return "", ErrNotConfigured
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	temperature := float32(p.cfg.Temperature)
	if req.Temperature != nil {
		temperature = float32(*req.Temperature)
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(p.cfg.MaxOutputTokens),
	}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Schema != nil {
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseSchema = req.Schema
	}

	result, err := client.Models.GenerateContent(ctx, p.cfg.Model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}
