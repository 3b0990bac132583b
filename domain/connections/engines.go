package connections

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/pkg/logger"
	"github.com/rhizome-app/rhizome/pkg/mathutil"
)

// DetectOptions scope one engine run
type DetectOptions struct {
	SourceDocumentID uuid.UUID
	UserID           string
	// TargetDocumentIDs restricts candidates to these documents; empty
	// means the whole corpus minus the source document.
	TargetDocumentIDs []uuid.UUID
}

// Engine detects connections from a source document's chunks to the rest of
// the corpus. Engines only read; persistence is the orchestrator's job.
type Engine interface {
	Name() string
	Detect(ctx context.Context, source []*chunks.Chunk, opts DetectOptions) ([]*Connection, error)
}

// SemanticEngine finds cross-document neighbors by embedding similarity
type SemanticEngine struct {
	chunks *chunks.Repository
	cfg    config.ConnectionsConfig
	log    *slog.Logger
}

// NewSemanticEngine creates the semantic similarity engine
func NewSemanticEngine(chunkRepo *chunks.Repository, cfg config.ConnectionsConfig, log *slog.Logger) *SemanticEngine {
	return &SemanticEngine{
		chunks: chunkRepo,
		cfg:    cfg,
		log:    log.With(logger.Scope("connections.semantic")),
	}
}

// Name implements Engine
func (e *SemanticEngine) Name() string { return EngineSemanticSimilarity }

// Detect implements Engine
func (e *SemanticEngine) Detect(ctx context.Context, source []*chunks.Chunk, opts DetectOptions) ([]*Connection, error) {
	var out []*Connection
	for _, c := range source {
		if !c.HasEmbedding() {
			continue
		}
		vec, err := chunks.ParseVector(c.Embedding)
		if err != nil {
			e.log.Warn("skipping chunk with unreadable embedding",
				slog.String("chunk_id", c.ID.String()), logger.Error(err))
			continue
		}

		hits, err := e.chunks.SearchSimilar(ctx, vec, chunks.SimilarSearchOptions{
			ExcludeDocumentID: &opts.SourceDocumentID,
			TargetDocumentIDs: opts.TargetDocumentIDs,
			Threshold:         e.cfg.SemanticThreshold,
			Limit:             e.cfg.MaxResultsPerChunk,
		})
		if err != nil {
			return nil, fmt.Errorf("semantic search for chunk %s: %w", c.ID, err)
		}

		for _, h := range hits {
			out = append(out, &Connection{
				ID:             uuid.New(),
				UserID:         opts.UserID,
				SourceChunkID:  c.ID,
				TargetChunkID:  h.ID,
				ConnectionType: TypeSemanticSimilarity,
				Engine:         EngineSemanticSimilarity,
				Strength:       mathutil.Clamp01(h.Similarity),
				AutoDetected:   true,
			})
		}
	}
	return out, nil
}

// contradictionOverlapCap is where additional shared concepts stop raising
// the strength score.
const contradictionOverlapCap = 4

// contradictionCandidatePool bounds the enriched candidate set compared
// against each source document.
const contradictionCandidatePool = 200

// ContradictionEngine finds chunks discussing the same concepts with
// opposing emotional polarity.
type ContradictionEngine struct {
	chunks *chunks.Repository
	cfg    config.ConnectionsConfig
	log    *slog.Logger
}

// NewContradictionEngine creates the contradiction detection engine
func NewContradictionEngine(chunkRepo *chunks.Repository, cfg config.ConnectionsConfig, log *slog.Logger) *ContradictionEngine {
	return &ContradictionEngine{
		chunks: chunkRepo,
		cfg:    cfg,
		log:    log.With(logger.Scope("connections.contradiction")),
	}
}

// Name implements Engine
func (e *ContradictionEngine) Name() string { return EngineContradictionDetection }

// Detect implements Engine
func (e *ContradictionEngine) Detect(ctx context.Context, source []*chunks.Chunk, opts DetectOptions) ([]*Connection, error) {
	candidates, err := e.chunks.EnrichedCandidates(ctx, opts.SourceDocumentID, opts.TargetDocumentIDs, contradictionCandidatePool)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var out []*Connection
	for _, c := range source {
		conceptual, ok := c.DecodeConceptual()
		if !ok {
			continue
		}
		emotional, ok := c.DecodeEmotional()
		if !ok {
			continue
		}

		var hits []*Connection
		for _, cand := range candidates {
			candConceptual, ok := cand.DecodeConceptual()
			if !ok {
				continue
			}
			candEmotional, ok := cand.DecodeEmotional()
			if !ok {
				continue
			}

			shared := sharedConcepts(conceptual.Concepts, candConceptual.Concepts)
			if len(shared) < e.cfg.MinConceptOverlap {
				continue
			}
			gap := polarityGap(emotional.Polarity, candEmotional.Polarity)
			if gap < e.cfg.PolarityThreshold {
				continue
			}

			evidence := "opposing views on: " + strings.Join(shared, ", ")
			hits = append(hits, &Connection{
				ID:             uuid.New(),
				UserID:         opts.UserID,
				SourceChunkID:  c.ID,
				TargetChunkID:  cand.ID,
				ConnectionType: TypeContradiction,
				Engine:         EngineContradictionDetection,
				Strength:       contradictionStrength(len(shared), gap),
				Evidence:       &evidence,
				AutoDetected:   true,
			})
		}

		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Strength > hits[j].Strength })
		if len(hits) > e.cfg.MaxResultsPerChunk {
			hits = hits[:e.cfg.MaxResultsPerChunk]
		}
		out = append(out, hits...)
	}
	return out, nil
}

// sharedConcepts returns the concept texts present in both lists,
// case-insensitively, in the first list's order.
func sharedConcepts(a, b []chunks.Concept) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	inB := make(map[string]struct{}, len(b))
	for _, c := range b {
		inB[strings.ToLower(strings.TrimSpace(c.Text))] = struct{}{}
	}

	var shared []string
	seen := map[string]struct{}{}
	for _, c := range a {
		key := strings.ToLower(strings.TrimSpace(c.Text))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if _, ok := inB[key]; ok {
			shared = append(shared, c.Text)
			seen[key] = struct{}{}
		}
	}
	return shared
}

// polarityGap is the absolute polarity distance, in [0, 2]
func polarityGap(a, b float64) float64 {
	gap := a - b
	if gap < 0 {
		gap = -gap
	}
	return gap
}

// contradictionStrength scores a contradiction: a quarter from how many
// concepts collide (saturating at contradictionOverlapCap) and the rest
// from how far apart the polarities sit.
func contradictionStrength(overlap int, gap float64) float64 {
	capped := overlap
	if capped > contradictionOverlapCap {
		capped = contradictionOverlapCap
	}
	score := 0.25*float64(capped)/float64(contradictionOverlapCap) + 0.75*gap/2
	return mathutil.Clamp01(score)
}
