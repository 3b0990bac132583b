package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/pkg/llm"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// SkipReasonUserChoice marks chunks whose enrichment was disabled by the job
const SkipReasonUserChoice = "user_choice"

// enrichMaxAttempts is how many times a schema-invalid model response is
// retried before the neutral fallback is substituted
const enrichMaxAttempts = 2

// Enrichment is the per-chunk AI metadata payload
type Enrichment struct {
	Themes     []string            `json:"themes"`
	Concepts   []chunks.Concept    `json:"concepts"`
	Importance float64             `json:"importance"`
	Summary    string              `json:"summary"`
	Emotional  chunks.EmotionalMeta `json:"emotional"`
	Domain     string              `json:"domain"`
}

// Validate enforces the enrichment contract: 1-5 themes, up to 10 concepts
// with importance in [0,1], overall importance in [0,1], a 20-200 char
// summary, and polarity in [-1,1].
func (e *Enrichment) Validate() error {
	if len(e.Themes) < 1 || len(e.Themes) > 5 {
		return fmt.Errorf("themes: want 1-5, got %d", len(e.Themes))
	}
	if len(e.Concepts) > 10 {
		return fmt.Errorf("concepts: want at most 10, got %d", len(e.Concepts))
	}
	for _, c := range e.Concepts {
		if c.Text == "" {
			return fmt.Errorf("concept with empty text")
		}
		if c.Importance < 0 || c.Importance > 1 {
			return fmt.Errorf("concept importance out of range: %v", c.Importance)
		}
	}
	if e.Importance < 0 || e.Importance > 1 {
		return fmt.Errorf("importance out of range: %v", e.Importance)
	}
	if len(e.Summary) < 20 || len(e.Summary) > 200 {
		return fmt.Errorf("summary length out of range: %d", len(e.Summary))
	}
	if e.Emotional.Polarity < -1 || e.Emotional.Polarity > 1 {
		return fmt.Errorf("polarity out of range: %v", e.Emotional.Polarity)
	}
	if e.Emotional.Intensity < 0 || e.Emotional.Intensity > 1 {
		return fmt.Errorf("intensity out of range: %v", e.Emotional.Intensity)
	}
	if e.Domain == "" {
		return fmt.Errorf("missing domain")
	}
	return nil
}

// NeutralEnrichment is the fallback substituted when the model cannot
// produce a valid enrichment. Processing never fails on one chunk.
func NeutralEnrichment(content string) Enrichment {
	return Enrichment{
		Themes:     []string{"general"},
		Concepts:   []chunks.Concept{},
		Importance: 0.5,
		Summary:    neutralSummary(content),
		Emotional: chunks.EmotionalMeta{
			Polarity:     0,
			PrimaryLabel: "neutral",
			Intensity:    0,
		},
		Domain: "general",
	}
}

func neutralSummary(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if len(s) > 180 {
		cut := strings.LastIndexByte(s[:180], ' ')
		if cut < 20 {
			cut = 180
		}
		s = s[:cut] + "…"
	}
	return s
}

// Enricher produces AI metadata for chunks
type Enricher struct {
	llm llm.Provider
	log *slog.Logger
}

// NewEnricher creates an enricher
func NewEnricher(provider llm.Provider, log *slog.Logger) *Enricher {
	return &Enricher{
		llm: provider,
		log: log.With(logger.Scope("enrich")),
	}
}

// IsConfigured reports whether a real model backs the enricher
func (en *Enricher) IsConfigured() bool {
	return en.llm.IsConfigured()
}

const enrichSystemPrompt = `You analyze a text chunk from a personal knowledge
base and return structured metadata as JSON. Themes are short topic labels.
Concepts are the key ideas with an importance weight each. The summary is one
or two sentences, 20-200 characters. Polarity is the emotional valence from
-1 (negative) to 1 (positive). Domain is a single broad field label such as
"philosophy", "software", "biology".`

// EnrichChunk produces a validated enrichment for the content, retrying
// schema-invalid responses and falling back to a neutral object.
func (en *Enricher) EnrichChunk(ctx context.Context, content string) Enrichment {
	if !en.llm.IsConfigured() {
		return NeutralEnrichment(content)
	}

	var lastErr error
	for attempt := 0; attempt < enrichMaxAttempts; attempt++ {
		raw, err := en.llm.Complete(ctx, llm.Request{
			System: enrichSystemPrompt,
			Prompt: content,
			Schema: enrichmentSchema(),
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		var e Enrichment
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			lastErr = fmt.Errorf("decode enrichment: %w", err)
			continue
		}
		if err := e.Validate(); err != nil {
			lastErr = fmt.Errorf("invalid enrichment: %w", err)
			continue
		}
		return e
	}

	en.log.Warn("enrichment failed, substituting neutral fallback", logger.Error(lastErr))
	return NeutralEnrichment(content)
}

// ApplyEnrichment writes an enrichment onto a chunk row
func ApplyEnrichment(c *chunks.Chunk, e Enrichment, now time.Time) {
	themes := make(chunks.JSONSlice, len(e.Themes))
	for i, t := range e.Themes {
		themes[i] = t
	}
	c.Themes = &themes

	importance := e.Importance
	c.ImportanceScore = &importance

	summary := e.Summary
	c.Summary = &summary

	concepts := make([]interface{}, len(e.Concepts))
	for i, con := range e.Concepts {
		concepts[i] = map[string]interface{}{"text": con.Text, "importance": con.Importance}
	}
	conceptual := chunks.JSONMap{"concepts": concepts}
	c.ConceptualMetadata = &conceptual

	emotional := chunks.JSONMap{
		"polarity":       e.Emotional.Polarity,
		"primaryEmotion": e.Emotional.PrimaryLabel,
		"intensity":      e.Emotional.Intensity,
	}
	c.EmotionalMetadata = &emotional

	domain := chunks.JSONMap{"primaryDomain": e.Domain}
	c.DomainMetadata = &domain

	c.MetadataExtractedAt = &now
	c.EnrichmentsDetected = true
	c.EnrichmentSkippedReason = nil
}

// MarkEnrichmentSkipped records that enrichment was disabled for a chunk
func MarkEnrichmentSkipped(c *chunks.Chunk, reason string) {
	c.EnrichmentsDetected = false
	c.EnrichmentSkippedReason = &reason
}

func enrichmentSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"themes": {
				Type:     genai.TypeArray,
				Items:    &genai.Schema{Type: genai.TypeString},
				MinItems: genai.Ptr(int64(1)),
				MaxItems: genai.Ptr(int64(5)),
			},
			"concepts": {
				Type:     genai.TypeArray,
				MaxItems: genai.Ptr(int64(10)),
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"text":       {Type: genai.TypeString},
						"importance": {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(1.0)},
					},
					Required: []string{"text", "importance"},
				},
			},
			"importance": {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(1.0)},
			"summary":    {Type: genai.TypeString},
			"emotional": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"polarity":       {Type: genai.TypeNumber, Minimum: genai.Ptr(-1.0), Maximum: genai.Ptr(1.0)},
					"primaryEmotion": {Type: genai.TypeString},
					"intensity":      {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(1.0)},
				},
				Required: []string{"polarity", "primaryEmotion", "intensity"},
			},
			"domain": {Type: genai.TypeString},
		},
		Required: []string{"themes", "concepts", "importance", "summary", "emotional", "domain"},
	}
}
