// Package llm provides interfaces for language model providers.
package llm

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"google.golang.org/genai"

	"github.com/rhizome-app/rhizome/internal/config"
)

// ErrNotConfigured is returned by providers without usable credentials
var ErrNotConfigured = errors.New("llm provider not configured")

// Request is one completion request
type Request struct {
	// System is the system instruction, optional
	System string

	// Prompt is the user prompt
	Prompt string

	// Schema constrains the response to structured JSON when set
	Schema *genai.Schema

	// Temperature overrides the configured default when set
	Temperature *float64
}

// Provider is an interface for LLM providers
type Provider interface {
	// Complete generates a completion for the given request
	Complete(ctx context.Context, req Request) (string, error)

	// IsConfigured returns true if the provider is properly configured
	IsConfigured() bool
}

// NoopProvider is used when no LLM is configured; callers fall back to
// neutral enrichment or skip AI-backed engines.
type NoopProvider struct{}

// Complete always fails with ErrNotConfigured
func (NoopProvider) Complete(ctx context.Context, req Request) (string, error) {
	return "", ErrNotConfigured
}

// IsConfigured returns false
func (NoopProvider) IsConfigured() bool { return false }

// NewProvider selects the provider from configuration
func NewProvider(cfg *config.Config) Provider {
	if !cfg.LLM.IsEnabled() {
		return NoopProvider{}
	}
	return NewGenAIProvider(cfg.LLM)
}

// Module provides the LLM provider
var Module = fx.Module("llm",
	fx.Provide(NewProvider),
)
