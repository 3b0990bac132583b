package connections

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/pkg/llm"
	"github.com/rhizome-app/rhizome/pkg/logger"
	"github.com/rhizome-app/rhizome/pkg/mathutil"
)

const (
	// bridgeBatchSize is how many chunk pairs one model call evaluates
	bridgeBatchSize = 5
	// bridgeCandidatesPerSource caps cross-domain candidates paired with
	// each source chunk
	bridgeCandidatesPerSource = 10
	// bridgeExcerptLen truncates chunk content in prompts
	bridgeExcerptLen = 800
)

// bridgePair is one source/candidate pairing sent for evaluation
type bridgePair struct {
	source *chunks.Chunk
	target *chunks.Chunk
}

// bridgeScore is the model's verdict on one pair
type bridgeScore struct {
	Pair        int     `json:"pair"`
	Strength    float64 `json:"strength"`
	Theme       string  `json:"theme"`
	Explanation string  `json:"explanation"`
}

// ThematicBridgeEngine asks the model whether important chunks from
// different domains share a theme. It is the only engine that spends AI
// calls, so its inputs are filtered hard before any batch is sent.
type ThematicBridgeEngine struct {
	chunks *chunks.Repository
	llm    llm.Provider
	cfg    config.ConnectionsConfig
	log    *slog.Logger
}

// NewThematicBridgeEngine creates the thematic bridge engine
func NewThematicBridgeEngine(chunkRepo *chunks.Repository, provider llm.Provider, cfg config.ConnectionsConfig, log *slog.Logger) *ThematicBridgeEngine {
	return &ThematicBridgeEngine{
		chunks: chunkRepo,
		llm:    provider,
		cfg:    cfg,
		log:    log.With(logger.Scope("connections.bridge")),
	}
}

// Name implements Engine
func (e *ThematicBridgeEngine) Name() string { return EngineThematicBridge }

// Detect implements Engine. Source chunks below the importance floor never
// reach the model, and candidate filtering (different document, different
// primary domain, target scope) happens before batching.
func (e *ThematicBridgeEngine) Detect(ctx context.Context, source []*chunks.Chunk, opts DetectOptions) ([]*Connection, error) {
	if !e.llm.IsConfigured() {
		e.log.Info("no model configured, skipping thematic bridges")
		return nil, nil
	}

	top, err := e.chunks.TopByImportance(ctx, opts.SourceDocumentID, e.cfg.BridgeMinImportance, e.cfg.BridgeMaxSourceChunks)
	if err != nil {
		return nil, err
	}

	var pairs []bridgePair
	for _, c := range top {
		domain := c.PrimaryDomain()
		if domain == "" {
			continue
		}
		candidates, err := e.chunks.CandidatesByDomain(ctx, opts.SourceDocumentID, domain, opts.TargetDocumentIDs, bridgeCandidatesPerSource)
		if err != nil {
			return nil, err
		}
		for _, cand := range candidates {
			pairs = append(pairs, bridgePair{source: c, target: cand})
		}
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	var out []*Connection

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.AIConcurrency)
	for start := 0; start < len(pairs); start += bridgeBatchSize {
		end := start + bridgeBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]
		g.Go(func() error {
			conns, err := e.evaluateBatch(gctx, batch, opts.UserID)
			if err != nil {
				// one failed batch loses at most bridgeBatchSize pairs
				e.log.Warn("bridge batch failed", logger.Error(err))
				return nil
			}
			mu.Lock()
			out = append(out, conns...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

const bridgeSystemPrompt = `You evaluate pairs of text chunks drawn from
different knowledge domains. For each pair, decide whether they share a
meaningful underlying theme despite the surface difference, and score the
bridge from 0 (unrelated) to 1 (the same idea expressed in two fields).
Name the shared theme in a few words and explain the bridge in one sentence.
Score 0 for superficial word overlap. Return one entry per pair.`

// evaluateBatch sends one batch of pairs to the model and converts accepted
// scores to connections.
func (e *ThematicBridgeEngine) evaluateBatch(ctx context.Context, batch []bridgePair, userID string) ([]*Connection, error) {
	var prompt strings.Builder
	for i, p := range batch {
		fmt.Fprintf(&prompt, "PAIR %d\n", i)
		fmt.Fprintf(&prompt, "A [%s]: %s\n", p.source.PrimaryDomain(), excerpt(p.source.Content))
		fmt.Fprintf(&prompt, "B [%s]: %s\n\n", p.target.PrimaryDomain(), excerpt(p.target.Content))
	}

	raw, err := e.llm.Complete(ctx, llm.Request{
		System: bridgeSystemPrompt,
		Prompt: prompt.String(),
		Schema: bridgeSchema(),
	})
	if err != nil {
		return nil, err
	}

	var scores []bridgeScore
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		return nil, fmt.Errorf("decode bridge scores: %w", err)
	}

	var out []*Connection
	for _, s := range scores {
		if s.Pair < 0 || s.Pair >= len(batch) {
			continue
		}
		if s.Strength < e.cfg.BridgeMinStrength {
			continue
		}
		p := batch[s.Pair]
		evidence := s.Explanation
		meta := chunks.JSONMap{"sharedTheme": s.Theme}
		out = append(out, &Connection{
			ID:             uuid.New(),
			UserID:         userID,
			SourceChunkID:  p.source.ID,
			TargetChunkID:  p.target.ID,
			ConnectionType: TypeThematicBridge,
			Engine:         EngineThematicBridge,
			Strength:       mathutil.Clamp01(s.Strength),
			Evidence:       &evidence,
			Metadata:       &meta,
			AutoDetected:   true,
		})
	}
	return out, nil
}

func excerpt(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if len(s) > bridgeExcerptLen {
		cut := strings.LastIndexByte(s[:bridgeExcerptLen], ' ')
		if cut < bridgeExcerptLen/2 {
			cut = bridgeExcerptLen
		}
		s = s[:cut] + "…"
	}
	return s
}

func bridgeSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"pair":        {Type: genai.TypeInteger},
				"strength":    {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(1.0)},
				"theme":       {Type: genai.TypeString},
				"explanation": {Type: genai.TypeString},
			},
			Required: []string{"pair", "strength", "theme", "explanation"},
		},
	}
}
