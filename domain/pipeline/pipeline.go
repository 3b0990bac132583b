// Package pipeline drives document processing: extraction, cleanup, offset
// matching, semantic chunking, metadata transfer, enrichment, embedding and
// persistence, with pause-safe checkpoints between the major stages.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/domain/documents"
	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/internal/database"
	"github.com/rhizome-app/rhizome/internal/jobs"
	"github.com/rhizome-app/rhizome/internal/storage"
	"github.com/rhizome-app/rhizome/pkg/embeddings"
	"github.com/rhizome-app/rhizome/pkg/extract"
	"github.com/rhizome-app/rhizome/pkg/logger"
	"github.com/rhizome-app/rhizome/pkg/textsplitter"
)

// Stage ranks order the pipeline; resumption picks an entry rank from the
// checkpoint successor table.
const (
	rankExtraction = iota
	rankCleanup
	rankChunking
	rankEmbedding
	rankCompletion
)

var stageRanks = map[string]int{
	jobs.StageExtraction: rankExtraction,
	jobs.StageCleanup:    rankCleanup,
	jobs.StageChunking:   rankChunking,
	jobs.StageEmbedding:  rankEmbedding,
	jobs.StageCompletion: rankCompletion,
}

// embedBatchSize is the number of chunks embedded per provider call
const embedBatchSize = 64

// pipelineState is the data carried between stages and serialized into
// checkpoints.
type pipelineState struct {
	Markdown         string               `json:"markdown"`
	ExtractorChunks  []extract.Chunk      `json:"extractor_chunks"`
	Title            string               `json:"title,omitempty"`
	PageCount        int                  `json:"page_count,omitempty"`
	ExtractorVersion string               `json:"extractor_version,omitempty"`
	Chunks           []*chunks.Chunk      `json:"chunks,omitempty"`
	Vectors          map[string][]float32 `json:"vectors,omitempty"`
}

// cachedChunksFile is the cached_chunks.json artifact
type cachedChunksFile struct {
	Version    string          `json:"version"`
	DocumentID string          `json:"document_id"`
	Chunks     []extract.Chunk `json:"chunks"`
}

// Service implements the document processing job handlers
type Service struct {
	queue       *jobs.Queue
	checkpoints *jobs.CheckpointManager
	store       *storage.Service
	extractor   *extract.Service
	embedder    *embeddings.Service
	cleaner     *Cleaner
	enricher    *Enricher
	docs        *documents.Repository
	chunks      *chunks.Repository
	db          bun.IDB
	cfg         *config.Config
	log         *slog.Logger
}

// NewService creates the pipeline service
func NewService(
	queue *jobs.Queue,
	checkpoints *jobs.CheckpointManager,
	store *storage.Service,
	extractor *extract.Service,
	embedder *embeddings.Service,
	cleaner *Cleaner,
	enricher *Enricher,
	docs *documents.Repository,
	chunkRepo *chunks.Repository,
	db bun.IDB,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	return &Service{
		queue:       queue,
		checkpoints: checkpoints,
		store:       store,
		extractor:   extractor,
		embedder:    embedder,
		cleaner:     cleaner,
		enricher:    enricher,
		docs:        docs,
		chunks:      chunkRepo,
		db:          db,
		cfg:         cfg,
		log:         log.With(logger.Scope("pipeline")),
	}
}

// HandleProcessDocument runs the full pipeline for a freshly uploaded
// document. On resumed jobs it verifies the last checkpoint and enters at
// the stage the successor table maps to; an unusable checkpoint falls back
// to fresh execution.
func (s *Service) HandleProcessDocument(ctx context.Context, job *jobs.Job) (map[string]interface{}, error) {
	input, err := jobs.DecodeInput[jobs.ProcessDocumentInput](job)
	if err != nil {
		return nil, err
	}
	docID, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid input: bad documentId %q: %w", input.DocumentID, err)
	}

	st := &pipelineState{}
	startRank := rankExtraction

	if job.LastCheckpointPath != nil {
		res, err := s.checkpoints.Load(ctx, job)
		if err != nil {
			return nil, err
		}
		if res != nil {
			if err := json.Unmarshal(res.Data, st); err != nil {
				s.log.Warn("checkpoint data undecodable, running from scratch",
					slog.String("job_id", job.ID), logger.Error(err))
				st = &pipelineState{}
			} else {
				startRank = stageRanks[res.NextStage]
				s.log.Info("resuming from checkpoint",
					slog.String("job_id", job.ID),
					slog.String("stage", res.Stage),
					slog.String("next_stage", res.NextStage),
				)
			}
		}
	}

	out, err := s.run(ctx, job, input, docID, st, startRank)
	if err != nil && !errors.Is(err, jobs.ErrJobPaused) && !errors.Is(err, jobs.ErrJobCancelled) {
		msg := err.Error()
		if uerr := s.docs.UpdateStatus(ctx, docID, documents.StatusFailed, &msg); uerr != nil {
			s.log.Error("failed to mark document failed", logger.Error(uerr))
		}
	}
	return out, err
}

// HandleContinueProcessing resumes a document parked at the manual review
// gate. The (possibly user-edited) markdown is replayed from storage along
// with the cached extractor chunks; when either is absent the source is
// re-extracted.
func (s *Service) HandleContinueProcessing(ctx context.Context, job *jobs.Job) (map[string]interface{}, error) {
	input, err := jobs.DecodeInput[jobs.ContinueProcessingInput](job)
	if err != nil {
		return nil, err
	}
	docID, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid input: bad documentId %q: %w", input.DocumentID, err)
	}

	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document not found: %s", docID)
	}

	st := &pipelineState{}
	if err := s.replayExtraction(ctx, job, doc, st); err != nil {
		return nil, err
	}

	startRank := rankCleanup
	if input.FromStage != "" {
		if r, ok := stageRanks[input.FromStage]; ok {
			startRank = r
		}
	}

	procInput := jobs.ProcessDocumentInput{
		DocumentID:  input.DocumentID,
		SourceType:  doc.SourceType,
		StoragePath: doc.StoragePath,
	}
	out, err := s.run(ctx, job, procInput, docID, st, startRank)
	if err != nil && !errors.Is(err, jobs.ErrJobPaused) && !errors.Is(err, jobs.ErrJobCancelled) {
		msg := err.Error()
		if uerr := s.docs.UpdateStatus(ctx, docID, documents.StatusFailed, &msg); uerr != nil {
			s.log.Error("failed to mark document failed", logger.Error(uerr))
		}
	}
	return out, err
}

// replayExtraction reloads extraction outputs from storage, falling back to
// a fresh extraction when the artifacts are gone.
func (s *Service) replayExtraction(ctx context.Context, job *jobs.Job, doc *documents.Document, st *pipelineState) error {
	contentKey := storage.ContentKey(job.UserID, doc.ID.String())
	raw, err := s.store.DownloadBytes(ctx, contentKey)
	if err == nil {
		st.Markdown = string(raw)
		var cached cachedChunksFile
		if cerr := s.store.ReadJSON(ctx, storage.CachedChunksKey(job.UserID, doc.ID.String()), &cached); cerr == nil {
			st.ExtractorChunks = cached.Chunks
			return nil
		}
		s.log.Info("extractor cache missing, re-chunking markdown structurally",
			slog.String("document_id", doc.ID.String()))
		st.ExtractorChunks = extract.ChunkMarkdown(st.Markdown)
		return nil
	}

	s.log.Info("stored markdown missing, re-extracting source",
		slog.String("document_id", doc.ID.String()))
	return s.extractSource(ctx, job, jobs.ProcessDocumentInput{
		DocumentID:  doc.ID.String(),
		SourceType:  doc.SourceType,
		SourceURL:   derefString(doc.SourceURL),
		StoragePath: doc.StoragePath,
	}, doc.ID, st)
}

// run executes the pipeline from startRank to completion
func (s *Service) run(ctx context.Context, job *jobs.Job, input jobs.ProcessDocumentInput, docID uuid.UUID, st *pipelineState, startRank int) (map[string]interface{}, error) {
	docIDStr := docID.String()

	if startRank <= rankExtraction {
		if err := s.docs.UpdateStatus(ctx, docID, documents.StatusExtracting, nil); err != nil {
			return nil, err
		}
		s.progress(ctx, job, 2, jobs.StageExtraction, "extracting source")

		if err := s.extractSource(ctx, job, input, docID, st); err != nil {
			return nil, err
		}
		if err := s.checkpoints.Save(ctx, job, jobs.StageExtraction, st); err != nil {
			return nil, err
		}
		s.progress(ctx, job, 20, jobs.StageExtraction, "extraction complete")

		// Manual review gate: park the document and finish this job; a
		// continue_processing job picks up from the stored artifacts.
		if input.ReviewWorkflow {
			if err := s.docs.UpdateStatus(ctx, docID, documents.StatusAwaitingManualReview, nil); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"status":      documents.StatusAwaitingManualReview,
				"document_id": docIDStr,
			}, nil
		}
		if err := s.control(ctx, job); err != nil {
			return nil, err
		}
	}

	if startRank <= rankCleanup {
		if err := s.docs.UpdateStatus(ctx, docID, documents.StatusProcessing, nil); err != nil {
			return nil, err
		}
		mode := input.CleanupMode
		if mode == "" {
			mode = CleanupModeRegex
		}
		s.progress(ctx, job, 22, jobs.StageCleanup, "cleaning markdown")
		st.Markdown = s.cleaner.Clean(ctx, st.Markdown, mode)
		if _, err := s.store.WriteMarkdown(ctx, storage.ContentKey(job.UserID, docIDStr), st.Markdown); err != nil {
			return nil, fmt.Errorf("write cleaned markdown: %w", err)
		}
		if err := s.checkpoints.Save(ctx, job, jobs.StageCleanup, st); err != nil {
			return nil, err
		}
		s.progress(ctx, job, 30, jobs.StageCleanup, "cleanup complete")
		if err := s.control(ctx, job); err != nil {
			return nil, err
		}
	}

	if startRank <= rankChunking {
		// Offset matching: extractor chunk offsets were computed against
		// the raw extraction; re-anchor them onto the current markdown.
		s.progress(ctx, job, 32, "matching", "re-anchoring extractor chunks")
		st.ExtractorChunks = ReanchorExtractorChunks(st.Markdown, st.ExtractorChunks)
		s.progress(ctx, job, 40, "matching", "matching complete")

		s.progress(ctx, job, 42, jobs.StageChunking, "semantic chunking")
		st.Chunks = s.buildSemanticChunks(docID, st)
		s.progress(ctx, job, 60, jobs.StageChunking, fmt.Sprintf("%d chunks", len(st.Chunks)))

		TransferMetadata(st.Chunks, st.ExtractorChunks)
		s.progress(ctx, job, 65, "metadata_transfer", "metadata transferred")

		if input.EnrichChunks == nil || *input.EnrichChunks {
			now := time.Now().UTC()
			for i, c := range st.Chunks {
				ApplyEnrichment(c, s.enricher.EnrichChunk(ctx, c.Content), now)
				s.progress(ctx, job, 65+5*(i+1)/len(st.Chunks), "enrichment", "")
			}
		} else {
			for _, c := range st.Chunks {
				MarkEnrichmentSkipped(c, SkipReasonUserChoice)
			}
		}
		if err := s.checkpoints.Save(ctx, job, jobs.StageChunking, st); err != nil {
			return nil, err
		}
		s.progress(ctx, job, 70, "enrichment", "enrichment complete")
		if err := s.control(ctx, job); err != nil {
			return nil, err
		}
	}

	if startRank <= rankEmbedding {
		if err := s.embedChunks(ctx, job, st); err != nil {
			return nil, err
		}
		if err := s.checkpoints.Save(ctx, job, jobs.StageEmbedding, st); err != nil {
			return nil, err
		}
		s.progress(ctx, job, 80, jobs.StageEmbedding, "embedding complete")
		if err := s.control(ctx, job); err != nil {
			return nil, err
		}
	}

	// Persistence: one transaction per document
	s.progress(ctx, job, 82, "persistence", "persisting chunks")
	if err := s.persistChunks(ctx, docID, st); err != nil {
		return nil, err
	}
	if err := s.writeArtifacts(ctx, job.UserID, docID, st); err != nil {
		return nil, err
	}

	wordCount := extract.CountWords(st.Markdown)
	embeddingsAvailable := len(st.Vectors) > 0
	if err := s.docs.MarkCompleted(ctx, docID, wordCount, st.PageCount, embeddingsAvailable); err != nil {
		return nil, err
	}
	s.progress(ctx, job, 90, "persistence", "persistence complete")

	// Connection detection hand-off
	if input.DetectConnections == nil || *input.DetectConnections {
		_, err := s.queue.Enqueue(ctx, job.UserID, jobs.TypeDetectConnections, &docIDStr,
			map[string]interface{}{"documentId": docIDStr}, s.cfg.Worker.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("enqueue detect_connections: %w", err)
		}
	}
	s.progress(ctx, job, 95, "handoff", "connection detection queued")

	return map[string]interface{}{
		"document_id":          docIDStr,
		"chunk_count":          len(st.Chunks),
		"word_count":           wordCount,
		"embeddings_available": embeddingsAvailable,
	}, nil
}

// extractSource runs the source-type extractor and persists the raw
// extraction artifacts (content.md, cached chunks).
func (s *Service) extractSource(ctx context.Context, job *jobs.Job, input jobs.ProcessDocumentInput, docID uuid.UUID, st *pipelineState) error {
	src := extract.Source{
		Type: input.SourceType,
		URL:  input.SourceURL,
	}
	if input.SourceType != documents.SourceWebURL {
		data, err := s.store.DownloadBytes(ctx, input.StoragePath)
		if err != nil {
			return fmt.Errorf("download source %s: %w", input.StoragePath, err)
		}
		src.Data = data
		src.Filename = path.Base(input.StoragePath)
	}

	result, err := s.extractor.Extract(ctx, src)
	if err != nil {
		return err
	}
	if strings.TrimSpace(result.Markdown) == "" {
		return fmt.Errorf("invalid input: no text content extracted")
	}

	st.Markdown = result.Markdown
	st.ExtractorChunks = result.Chunks
	st.Title = result.Title
	st.PageCount = result.PageCount
	st.ExtractorVersion = result.ExtractorVersion

	docIDStr := docID.String()
	if _, err := s.store.WriteMarkdown(ctx, storage.ContentKey(job.UserID, docIDStr), st.Markdown); err != nil {
		return fmt.Errorf("write content.md: %w", err)
	}

	cached := cachedChunksFile{
		Version:    chunks.FormatVersion,
		DocumentID: docIDStr,
		Chunks:     st.ExtractorChunks,
	}
	if _, err := s.store.WriteJSON(ctx, storage.CachedChunksKey(job.UserID, docIDStr), cached); err != nil {
		return fmt.Errorf("write cached_chunks.json: %w", err)
	}
	if err := s.chunks.ReplaceCached(ctx, docID, cachedRows(docID, st.ExtractorChunks)); err != nil {
		return fmt.Errorf("persist cached chunks: %w", err)
	}
	return nil
}

// buildSemanticChunks splits the markdown and resolves each chunk's
// position through the matcher cascade.
func (s *Service) buildSemanticChunks(docID uuid.UUID, st *pipelineState) []*chunks.Chunk {
	pieces := textsplitter.Split(st.Markdown, textsplitter.DefaultConfig())

	matcher := NewMatcher(st.Markdown)
	matches := make([]Match, len(pieces))
	prevEnd := 0
	for i, p := range pieces {
		parent := parentExtractorChunk(st.ExtractorChunks, prevEnd)
		matches[i] = AlignSemanticChunk(matcher, p.Content, prevEnd, parent)
		prevEnd = matches[i].End
	}
	validated := ValidatePositions(matches)

	chunkerType := textsplitter.ChunkerType
	rows := make([]*chunks.Chunk, len(pieces))
	for i, p := range pieces {
		match := matches[i]
		tokens := p.TokenCount
		confidence := match.Confidence
		method := match.Method
		rows[i] = &chunks.Chunk{
			ID:                 uuid.New(),
			DocumentID:         docID,
			ChunkIndex:         i,
			Content:            p.Content,
			StartOffset:        match.Start,
			EndOffset:          match.End,
			WordCount:          p.WordCount,
			TokenCount:         &tokens,
			ChunkerType:        &chunkerType,
			PositionConfidence: &confidence,
			PositionMethod:     &method,
			PositionValidated:  validated[i],
		}
	}
	return rows
}

// embedChunks generates embeddings in bounded-concurrency batches
func (s *Service) embedChunks(ctx context.Context, job *jobs.Job, st *pipelineState) error {
	st.Vectors = map[string][]float32{}
	if !s.embedder.IsEnabled() || len(st.Chunks) == 0 {
		s.progress(ctx, job, 80, jobs.StageEmbedding, "embeddings skipped")
		return nil
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for i := 0; i < len(st.Chunks); i += embedBatchSize {
		end := i + embedBatchSize
		if end > len(st.Chunks) {
			end = len(st.Chunks)
		}
		texts := make([]string, 0, end-i)
		for _, c := range st.Chunks[i:end] {
			texts = append(texts, c.Content)
		}
		batches = append(batches, batch{start: i, texts: texts})
	}

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Worker.EmbeddingConcurrency)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			vecs, err := s.embedder.EmbedDocuments(gctx, b.texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", b.start, b.start+len(b.texts), err)
			}
			if len(vecs) != len(b.texts) {
				return fmt.Errorf("embedding count mismatch: %d vectors for %d texts", len(vecs), len(b.texts))
			}
			mu.Lock()
			for i, v := range vecs {
				st.Vectors[st.Chunks[b.start+i].ID.String()] = v
			}
			done += len(vecs)
			percent := 70 + 10*done/len(st.Chunks)
			mu.Unlock()
			s.progress(ctx, job, percent, jobs.StageEmbedding, "")
			return nil
		})
	}
	return g.Wait()
}

// persistChunks replaces the document's chunks in a single transaction
func (s *Service) persistChunks(ctx context.Context, docID uuid.UUID, st *pipelineState) error {
	tx, err := database.BeginSafeTx(ctx, s.db)
	if err != nil {
		return fmt.Errorf("begin persistence tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.chunks.DeleteByDocument(ctx, tx, docID); err != nil {
		return err
	}

	vectors := make(map[uuid.UUID][]float32, len(st.Vectors))
	for idStr, v := range st.Vectors {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		vectors[id] = v
	}
	if err := s.chunks.InsertBatch(ctx, tx, st.Chunks, vectors); err != nil {
		return err
	}
	return tx.Commit()
}

// writeArtifacts writes the final artifact set: chunks.json, metadata.json,
// manifest.json.
func (s *Service) writeArtifacts(ctx context.Context, userID string, docID uuid.UUID, st *pipelineState) error {
	docIDStr := docID.String()
	start := time.Now()

	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return err
	}

	files := map[string]documents.ManifestEntry{}
	record := func(name string, size int64, kind string) {
		files[name] = documents.ManifestEntry{Size: size, Type: kind}
	}

	chunksFile := chunks.NewChunksFile(docIDStr, st.Chunks)
	res, err := s.store.WriteJSON(ctx, storage.DocumentKey(userID, docIDStr, "chunks.json"), chunksFile)
	if err != nil {
		return fmt.Errorf("write chunks.json: %w", err)
	}
	record("chunks.json", res.Size, "final")

	meta := documents.MetadataFile{
		Version:      chunks.FormatVersion,
		DocumentID:   docIDStr,
		Title:        st.Title,
		SourceType:   "",
		CreatedAt:    time.Now().UTC(),
		MarkdownHash: jobs.CheckpointHash([]byte(st.Markdown)),
		WordCount:    extract.CountWords(st.Markdown),
		PageCount:    st.PageCount,
	}
	if doc != nil {
		meta.Title = doc.Title
		meta.SourceType = doc.SourceType
		meta.CreatedAt = doc.CreatedAt
		if doc.Author != nil {
			meta.Author = *doc.Author
		}
	}
	res, err = s.store.WriteJSON(ctx, storage.DocumentKey(userID, docIDStr, "metadata.json"), meta)
	if err != nil {
		return fmt.Errorf("write metadata.json: %w", err)
	}
	record("metadata.json", res.Size, "final")

	for _, name := range []string{"content.md", "cached_chunks.json"} {
		record(name, 0, "final")
	}
	for _, stage := range []string{jobs.StageExtraction, jobs.StageCleanup, jobs.StageChunking, jobs.StageEmbedding} {
		record(fmt.Sprintf("stage-%s.json", stage), 0, "stage")
	}

	manifest := documents.ManifestFile{
		Version:        chunks.FormatVersion,
		Files:          files,
		ChunkCount:     len(st.Chunks),
		WordCount:      meta.WordCount,
		ProcessingTime: time.Since(start).Seconds(),
		DoclingVersion: st.ExtractorVersion,
	}
	if _, err := s.store.WriteJSON(ctx, storage.DocumentKey(userID, docIDStr, "manifest.json"), manifest); err != nil {
		return fmt.Errorf("write manifest.json: %w", err)
	}
	return nil
}

// HandleEnrichChunks re-runs enrichment for a document's chunks. For
// enrich_and_connect jobs a detect_connections job is queued afterwards.
func (s *Service) HandleEnrichChunks(ctx context.Context, job *jobs.Job) (map[string]interface{}, error) {
	input, err := jobs.DecodeInput[jobs.EnrichChunksInput](job)
	if err != nil {
		return nil, err
	}
	docID, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid input: bad documentId %q: %w", input.DocumentID, err)
	}

	var rows []*chunks.Chunk
	if len(input.ChunkIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(input.ChunkIDs))
		for _, raw := range input.ChunkIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid input: bad chunk id %q: %w", raw, err)
			}
			ids = append(ids, id)
		}
		rows, err = s.chunks.GetByIDs(ctx, ids)
	} else {
		rows, err = s.chunks.GetByDocument(ctx, docID)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no chunks found for document %s", docID)
	}

	now := time.Now().UTC()
	for i, c := range rows {
		ApplyEnrichment(c, s.enricher.EnrichChunk(ctx, c.Content), now)
		if err := s.chunks.UpdateEnrichment(ctx, c); err != nil {
			return nil, err
		}
		s.progress(ctx, job, 100*(i+1)/len(rows), "enrichment", "")
		if err := s.control(ctx, job); err != nil {
			return nil, err
		}
	}

	if job.JobType == jobs.TypeEnrichAndConnect {
		docIDStr := docID.String()
		if _, err := s.queue.Enqueue(ctx, job.UserID, jobs.TypeDetectConnections, &docIDStr,
			map[string]interface{}{"documentId": docIDStr}, s.cfg.Worker.MaxRetries); err != nil {
			return nil, fmt.Errorf("enqueue detect_connections: %w", err)
		}
	}

	return map[string]interface{}{
		"document_id":    input.DocumentID,
		"enriched_count": len(rows),
	}, nil
}

// control polls the job status between stages and converts pause/cancel
// requests into their sentinel errors.
func (s *Service) control(ctx context.Context, job *jobs.Job) error {
	status, err := s.queue.CurrentStatus(ctx, job.ID)
	if err != nil {
		// a failed status poll is not fatal; the next one will see it
		return nil
	}
	switch status {
	case jobs.StatusPaused:
		return jobs.ErrJobPaused
	case jobs.StatusCancelled:
		return jobs.ErrJobCancelled
	}
	return nil
}

func (s *Service) progress(ctx context.Context, job *jobs.Job, percent int, stage, details string) {
	if err := s.queue.UpdateProgress(ctx, job.ID, jobs.Progress{
		Percent: percent,
		Stage:   stage,
		Details: details,
	}); err != nil {
		s.log.Warn("progress update failed",
			slog.String("job_id", job.ID),
			logger.Error(err),
		)
	}
}

// cachedRows converts extractor chunks to cached_chunks rows
func cachedRows(docID uuid.UUID, exChunks []extract.Chunk) []*chunks.CachedChunk {
	rows := make([]*chunks.CachedChunk, len(exChunks))
	for i, c := range exChunks {
		row := &chunks.CachedChunk{
			ID:            uuid.New(),
			DocumentID:    docID,
			ChunkIndex:    c.ChunkIndex,
			Content:       c.Content,
			HeadingPath:   c.HeadingPath,
			HeadingLevel:  c.HeadingLevel,
			SectionMarker: c.SectionMarker,
			PageStart:     c.PageStart,
			PageEnd:       c.PageEnd,
			StartOffset:   c.StartOffset,
			EndOffset:     c.EndOffset,
		}
		if len(c.BBoxes) > 0 {
			boxes := make(chunks.JSONSlice, len(c.BBoxes))
			for j, b := range c.BBoxes {
				boxes[j] = map[string]interface{}{
					"page": b.Page, "l": b.L, "t": b.T, "r": b.R, "b": b.B,
				}
			}
			row.BBoxes = &boxes
		}
		rows[i] = row
	}
	return rows
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
