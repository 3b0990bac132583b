package embeddings

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func TestNoopClient_EmbedQuery(t *testing.T) {
	client := NewNoopClient()
	result, err := client.EmbedQuery(context.Background(), "test query")

	if err != nil {
		t.Errorf("EmbedQuery() error = %v, want nil", err)
	}
	if result != nil {
		t.Errorf("EmbedQuery() = %v, want nil", result)
	}
}

func TestNoopClient_EmbedDocuments(t *testing.T) {
	client := NewNoopClient()
	result, err := client.EmbedDocuments(context.Background(), []string{"doc1", "doc2"})

	if err != nil {
		t.Errorf("EmbedDocuments() error = %v, want nil", err)
	}
	if result != nil {
		t.Errorf("EmbedDocuments() = %v, want nil", result)
	}
}

func TestNewNoopService(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewNoopService(logger)

	if svc == nil {
		t.Fatal("NewNoopService() returned nil")
	}
	if svc.IsEnabled() {
		t.Error("NewNoopService().IsEnabled() = true, want false")
	}
}

func TestService_EmbedQuery_WithNoopClient(t *testing.T) {
	svc := &Service{
		client: NewNoopClient(),
	}

	result, err := svc.EmbedQuery(context.Background(), "test query")
	if err != nil {
		t.Errorf("EmbedQuery() error = %v, want nil", err)
	}
	if result != nil {
		t.Errorf("EmbedQuery() = %v, want nil", result)
	}
}

func TestEmbeddingDimensionConstant(t *testing.T) {
	if EmbeddingDimension != 768 {
		t.Errorf("EmbeddingDimension = %d, want 768", EmbeddingDimension)
	}
}
