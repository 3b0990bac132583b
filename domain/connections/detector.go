package connections

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/pkg/llm"
	"github.com/rhizome-app/rhizome/pkg/logger"
	"github.com/rhizome-app/rhizome/pkg/mathutil"
)

// ProgressFunc receives engine progress from the orchestrator. Calls are
// never interleaved across engines: engines run serially.
type ProgressFunc func(engine string, percent int, found int)

// RunOptions scope one detection run
type RunOptions struct {
	SourceDocumentID uuid.UUID
	UserID           string
	// EnabledEngines selects engines by name; empty runs all of them
	EnabledEngines []string
	// TargetDocumentIDs restricts candidates; empty means the whole corpus
	TargetDocumentIDs []uuid.UUID
	// WeightOverrides replaces configured merge weights per engine
	WeightOverrides map[string]float64
	// Progress, when set, receives per-engine progress callbacks
	Progress ProgressFunc
}

// RunResult summarizes one detection run
type RunResult struct {
	ByEngine  map[string]int
	Merged    int
	Persisted int
}

// Detector orchestrates the connection engines over one source document
type Detector struct {
	chunks  *chunks.Repository
	conns   *Repository
	engines []Engine
	cfg     config.ConnectionsConfig
	log     *slog.Logger
}

// NewDetector creates the orchestrator with its three engines
func NewDetector(chunkRepo *chunks.Repository, connRepo *Repository, provider llm.Provider, cfg *config.Config, log *slog.Logger) *Detector {
	return &Detector{
		chunks: chunkRepo,
		conns:  connRepo,
		engines: []Engine{
			NewSemanticEngine(chunkRepo, cfg.Connections, log),
			NewContradictionEngine(chunkRepo, cfg.Connections, log),
			NewThematicBridgeEngine(chunkRepo, provider, cfg.Connections, log),
		},
		cfg: cfg.Connections,
		log: log.With(logger.Scope("connections.detector")),
	}
}

// Run executes the enabled engines serially, merges duplicates and upserts
// the result. Chunks without embeddings or enrichment simply contribute
// nothing to the engines that need them.
func (d *Detector) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	source, err := d.chunks.GetByDocument(ctx, opts.SourceDocumentID)
	if err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return nil, fmt.Errorf("no chunks found for document %s", opts.SourceDocumentID)
	}

	enabled := opts.EnabledEngines
	if len(enabled) == 0 {
		enabled = DefaultEngines()
	}
	enabledSet := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		enabledSet[name] = struct{}{}
	}

	report := opts.Progress
	if report == nil {
		report = func(string, int, int) {}
	}

	detectOpts := DetectOptions{
		SourceDocumentID:  opts.SourceDocumentID,
		UserID:            opts.UserID,
		TargetDocumentIDs: opts.TargetDocumentIDs,
	}

	result := &RunResult{ByEngine: map[string]int{}}
	var all []*Connection
	for _, engine := range d.engines {
		if _, ok := enabledSet[engine.Name()]; !ok {
			continue
		}
		report(engine.Name(), 0, 0)

		found, err := engine.Detect(ctx, source, detectOpts)
		if err != nil {
			return nil, fmt.Errorf("%s engine: %w", engine.Name(), err)
		}
		all = append(all, found...)
		result.ByEngine[engine.Name()] = len(found)
		report(engine.Name(), 100, len(found))

		d.log.Info("engine finished",
			slog.String("engine", engine.Name()),
			slog.String("document_id", opts.SourceDocumentID.String()),
			slog.Int("found", len(found)),
		)
	}

	merged := Merge(all, EngineWeights(d.cfg, opts.WeightOverrides))
	result.Merged = len(merged)

	if err := d.conns.UpsertBatch(ctx, merged); err != nil {
		return nil, err
	}
	result.Persisted = len(merged)
	return result, nil
}

// EngineWeights builds the merge weight table from configuration, applying
// any per-job overrides.
func EngineWeights(cfg config.ConnectionsConfig, overrides map[string]float64) map[string]float64 {
	weights := map[string]float64{
		EngineSemanticSimilarity:     cfg.SemanticWeight,
		EngineContradictionDetection: cfg.ContradictionWeight,
		EngineThematicBridge:         cfg.BridgeWeight,
	}
	for name, w := range overrides {
		if _, ok := weights[name]; ok {
			weights[name] = w
		}
	}
	return weights
}

// Merge deduplicates connections on their (source, target, type) key,
// preserving first-seen order. When several engines report the same pair
// and type, the merged strength is the weighted sum of the individual
// strengths, clipped to [0, 1], and the contributing engines are recorded
// in the metadata.
func Merge(conns []*Connection, weights map[string]float64) []*Connection {
	order := make([]Key, 0, len(conns))
	byKey := make(map[Key][]*Connection, len(conns))
	for _, c := range conns {
		k := c.Key()
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], c)
	}

	out := make([]*Connection, 0, len(order))
	for _, k := range order {
		group := byKey[k]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}

		merged := *group[0]
		sum := 0.0
		engines := make([]interface{}, 0, len(group))
		for _, c := range group {
			w, ok := weights[c.Engine]
			if !ok {
				w = 1.0 / float64(len(group))
			}
			sum += w * c.Strength
			engines = append(engines, c.Engine)
		}
		merged.Strength = mathutil.Clamp01(sum)

		meta := chunks.JSONMap{"mergedEngines": engines}
		if merged.Metadata != nil {
			for key, v := range *merged.Metadata {
				meta[key] = v
			}
		}
		merged.Metadata = &meta
		out = append(out, &merged)
	}
	return out
}
