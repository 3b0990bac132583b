package pipeline

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/pkg/llm"
)

func validEnrichment() Enrichment {
	return Enrichment{
		Themes:     []string{"memory", "identity"},
		Concepts:   []chunks.Concept{{Text: "episodic memory", Importance: 0.8}},
		Importance: 0.7,
		Summary:    "A discussion of how episodic memory shapes identity.",
		Emotional:  chunks.EmotionalMeta{Polarity: 0.2, PrimaryLabel: "curiosity", Intensity: 0.4},
		Domain:     "psychology",
	}
}

func TestEnrichment_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Enrichment)
		wantErr string
	}{
		{"valid", func(e *Enrichment) {}, ""},
		{"no themes", func(e *Enrichment) { e.Themes = nil }, "themes"},
		{"too many themes", func(e *Enrichment) { e.Themes = []string{"a", "b", "c", "d", "e", "f"} }, "themes"},
		{"concept importance out of range", func(e *Enrichment) { e.Concepts[0].Importance = 1.5 }, "concept importance"},
		{"importance out of range", func(e *Enrichment) { e.Importance = -0.1 }, "importance"},
		{"summary too short", func(e *Enrichment) { e.Summary = "tiny" }, "summary"},
		{"summary too long", func(e *Enrichment) { e.Summary = strings.Repeat("x", 201) }, "summary"},
		{"polarity out of range", func(e *Enrichment) { e.Emotional.Polarity = 2 }, "polarity"},
		{"missing domain", func(e *Enrichment) { e.Domain = "" }, "domain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEnrichment()
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNeutralEnrichment(t *testing.T) {
	content := strings.Repeat("some words about a topic ", 20)
	e := NeutralEnrichment(content)

	assert.Equal(t, []string{"general"}, e.Themes)
	assert.Empty(t, e.Concepts)
	assert.Equal(t, 0.5, e.Importance)
	assert.Equal(t, "neutral", e.Emotional.PrimaryLabel)
	assert.Equal(t, 0.0, e.Emotional.Polarity)
	assert.Equal(t, "general", e.Domain)
	assert.LessOrEqual(t, len(e.Summary), 200)
	assert.NotEmpty(t, e.Summary)
}

func TestEnricher_FallsBackWithoutProvider(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	en := NewEnricher(llm.NoopProvider{}, log)

	e := en.EnrichChunk(context.Background(), "some chunk content that needs analysis")
	assert.Equal(t, []string{"general"}, e.Themes)
	assert.Equal(t, "general", e.Domain)
}

func TestApplyEnrichment(t *testing.T) {
	c := &chunks.Chunk{}
	now := time.Now().UTC()
	reason := SkipReasonUserChoice
	c.EnrichmentSkippedReason = &reason

	ApplyEnrichment(c, validEnrichment(), now)

	assert.True(t, c.EnrichmentsDetected)
	assert.Nil(t, c.EnrichmentSkippedReason)
	require.NotNil(t, c.Themes)
	assert.Len(t, *c.Themes, 2)
	require.NotNil(t, c.ImportanceScore)
	assert.Equal(t, 0.7, *c.ImportanceScore)
	require.NotNil(t, c.DomainMetadata)
	assert.Equal(t, "psychology", (*c.DomainMetadata)["primaryDomain"])
	require.NotNil(t, c.EmotionalMetadata)
	assert.Equal(t, "curiosity", (*c.EmotionalMetadata)["primaryEmotion"])
	require.NotNil(t, c.MetadataExtractedAt)
	assert.Equal(t, now, *c.MetadataExtractedAt)
}

func TestMarkEnrichmentSkipped(t *testing.T) {
	c := &chunks.Chunk{EnrichmentsDetected: true}
	MarkEnrichmentSkipped(c, SkipReasonUserChoice)

	assert.False(t, c.EnrichmentsDetected)
	require.NotNil(t, c.EnrichmentSkippedReason)
	assert.Equal(t, SkipReasonUserChoice, *c.EnrichmentSkippedReason)
}

func TestRegexCleanup(t *testing.T) {
	in := "Title\x00\r\n\r\n\r\n\r\n\r\nBody with trailing   \n• bullet one\n▪ bullet two\nhyphen-\nated word\n"
	out := RegexCleanup(in)

	assert.NotContains(t, out, "\x00")
	assert.NotContains(t, out, "\r")
	assert.NotContains(t, out, "\n\n\n\n")
	assert.Contains(t, out, "- bullet one")
	assert.Contains(t, out, "- bullet two")
	assert.Contains(t, out, "hyphenated word")
	assert.NotContains(t, out, "trailing   \n")
}
