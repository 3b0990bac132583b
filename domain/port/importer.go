package port

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rhizome-app/rhizome/domain/annotations"
	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/domain/connections"
	"github.com/rhizome-app/rhizome/domain/documents"
	"github.com/rhizome-app/rhizome/internal/database"
	"github.com/rhizome-app/rhizome/internal/storage"
	"github.com/rhizome-app/rhizome/pkg/embeddings"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Import conflict-resolution modes
const (
	ModeSkip       = "skip"
	ModeReplace    = "replace"
	ModeMergeSmart = "merge_smart"
)

// importEmbedBatchSize bounds texts per embedding call during regeneration
const importEmbedBatchSize = 64

// Importer rebuilds a document from its stored artifacts
type Importer struct {
	db       bun.IDB
	store    *storage.Service
	docs     *documents.Repository
	chunks   *chunks.Repository
	conns    *connections.Repository
	anns     *annotations.Repository
	embedder *embeddings.Service
	log      *slog.Logger
}

// NewImporter creates an importer
func NewImporter(
	db bun.IDB,
	store *storage.Service,
	docs *documents.Repository,
	chunkRepo *chunks.Repository,
	connRepo *connections.Repository,
	annRepo *annotations.Repository,
	embedder *embeddings.Service,
	log *slog.Logger,
) *Importer {
	return &Importer{
		db:       db,
		store:    store,
		docs:     docs,
		chunks:   chunkRepo,
		conns:    connRepo,
		anns:     annRepo,
		embedder: embedder,
		log:      log.With(logger.Scope("port.importer")),
	}
}

// ImportOptions configure one import run
type ImportOptions struct {
	UserID               string
	DocumentID           uuid.UUID
	Mode                 string
	RegenerateEmbeddings bool
}

// ImportResult summarizes an import run
type ImportResult struct {
	Mode                string                    `json:"mode"`
	Skipped             bool                      `json:"skipped"`
	Reinstated          bool                      `json:"reinstated"`
	Inserted            int                       `json:"inserted"`
	Updated             int                       `json:"updated"`
	Deleted             int                       `json:"deleted"`
	OrphanedAnnotations int                       `json:"orphaned_annotations"`
	AnnotationsImported int                       `json:"annotations_imported"`
	ConnectionsImported int                       `json:"connections_imported"`
	HasConnectionsFile  bool                      `json:"has_connections_file"`
	Embedded            int                       `json:"embedded"`
	Recovery            annotations.RecoveryStats `json:"recovery"`
}

// Import rebuilds a document from the artifacts in its storage folder.
// Chunk IDs in chunks.json are authoritative: they are reused verbatim,
// which is what lets annotations and connections survive the round-trip.
func (im *Importer) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	docID := opts.DocumentID
	docIDStr := docID.String()
	result := &ImportResult{Mode: opts.Mode}

	var meta documents.MetadataFile
	if err := im.store.ReadJSON(ctx, storage.DocumentKey(opts.UserID, docIDStr, "metadata.json"), &meta); err != nil {
		return nil, fmt.Errorf("read metadata.json: %w", err)
	}
	if meta.DocumentID != "" && meta.DocumentID != docIDStr {
		return nil, fmt.Errorf("invalid input: metadata.json is for document %s, not %s", meta.DocumentID, docIDStr)
	}

	var file chunks.ChunksFile
	if err := im.store.ReadJSON(ctx, storage.DocumentKey(opts.UserID, docIDStr, "chunks.json"), &file); err != nil {
		return nil, fmt.Errorf("read chunks.json: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	if file.DocumentID != docIDStr {
		return nil, fmt.Errorf("invalid input: chunks.json is for document %s, not %s", file.DocumentID, docIDStr)
	}

	if err := im.reinstateDocument(ctx, opts, &meta, result); err != nil {
		return nil, err
	}

	incoming := make([]*chunks.Chunk, 0, len(file.Chunks))
	for _, rec := range file.Chunks {
		c, err := rec.ToChunk(docID)
		if err != nil {
			return nil, err
		}
		incoming = append(incoming, c)
	}

	existing, err := im.chunks.GetByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	switch opts.Mode {
	case ModeSkip:
		if len(existing) > 0 {
			result.Skipped = true
			return result, nil
		}
		if err := im.insertAll(ctx, docID, incoming); err != nil {
			return nil, err
		}
		result.Inserted = len(incoming)

	case ModeReplace:
		if err := im.replaceAll(ctx, docID, incoming); err != nil {
			return nil, err
		}
		result.Deleted = len(existing)
		result.Inserted = len(incoming)
		result.OrphanedAnnotations, err = im.countOrphanedAnnotations(ctx, docID, incoming)
		if err != nil {
			return nil, err
		}
		if result.OrphanedAnnotations > 0 {
			im.log.Warn("replace import orphaned annotations",
				slog.String("document_id", docIDStr),
				slog.Int("count", result.OrphanedAnnotations),
			)
		}

	case ModeMergeSmart:
		plan := planMerge(existing, incoming)
		if err := im.applyMerge(ctx, docID, plan); err != nil {
			return nil, err
		}
		result.Inserted = len(plan.inserts)
		result.Updated = len(plan.updates)
		result.Deleted = len(plan.deleteIDs)

	default:
		return nil, fmt.Errorf("invalid input: unknown import mode %q", opts.Mode)
	}

	// annotations.json first, so reinstated annotations go through the
	// same recovery pass as pre-existing ones
	var annFile annotations.AnnotationsFile
	if err := im.store.ReadJSON(ctx, storage.DocumentKey(opts.UserID, docIDStr, "annotations.json"), &annFile); err == nil {
		n, err := im.anns.ImportBatch(ctx, opts.UserID, annFile.Annotations)
		if err != nil {
			return nil, err
		}
		result.AnnotationsImported = n
	}

	current, err := im.chunks.GetByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	markdown := ""
	if raw, err := im.store.DownloadBytes(ctx, storage.ContentKey(opts.UserID, docIDStr)); err == nil {
		markdown = string(raw)
	}
	result.Recovery, err = annotations.RecoverDocument(ctx, im.anns, docID, current, markdown, im.log)
	if err != nil {
		return nil, err
	}

	if opts.RegenerateEmbeddings {
		result.Embedded, err = im.regenerateEmbeddings(ctx, current)
		if err != nil {
			return nil, err
		}
	}

	result.ConnectionsImported, result.HasConnectionsFile, err = im.importConnections(ctx, opts.UserID, docIDStr)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reinstateDocument recreates the documents row from metadata.json when it
// was deleted since export.
func (im *Importer) reinstateDocument(ctx context.Context, opts ImportOptions, meta *documents.MetadataFile, result *ImportResult) error {
	doc, err := im.docs.GetByID(ctx, opts.DocumentID)
	if err != nil {
		return err
	}
	if doc != nil {
		return nil
	}

	sourceType := meta.SourceType
	if sourceType == "" {
		sourceType = documents.SourceMarkdown
	}
	title := meta.Title
	if title == "" {
		title = "Imported document"
	}

	doc = &documents.Document{
		ID:                opts.DocumentID,
		UserID:            opts.UserID,
		Title:             title,
		SourceType:        sourceType,
		StoragePath:       storage.DocumentKey(opts.UserID, opts.DocumentID.String(), ""),
		ProcessingStatus:  documents.StatusCompleted,
		MarkdownAvailable: true,
	}
	if meta.Author != "" {
		author := meta.Author
		doc.Author = &author
	}
	if meta.WordCount > 0 {
		wc := meta.WordCount
		doc.WordCount = &wc
	}
	if meta.PageCount > 0 {
		pc := meta.PageCount
		doc.PageCount = &pc
	}

	if err := im.docs.CreateWithID(ctx, im.db, doc); err != nil {
		return err
	}
	result.Reinstated = true
	im.log.Info("document reinstated from metadata.json",
		slog.String("document_id", opts.DocumentID.String()))
	return nil
}

func (im *Importer) insertAll(ctx context.Context, docID uuid.UUID, rows []*chunks.Chunk) error {
	tx, err := database.BeginSafeTx(ctx, im.db)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	if err := im.chunks.InsertBatch(ctx, tx, rows, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (im *Importer) replaceAll(ctx context.Context, docID uuid.UUID, rows []*chunks.Chunk) error {
	tx, err := database.BeginSafeTx(ctx, im.db)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := im.chunks.DeleteByDocument(ctx, tx, docID); err != nil {
		return err
	}
	if err := im.chunks.InsertBatch(ctx, tx, rows, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (im *Importer) applyMerge(ctx context.Context, docID uuid.UUID, plan mergePlan) error {
	tx, err := database.BeginSafeTx(ctx, im.db)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := im.chunks.DeleteByIDs(ctx, tx, plan.deleteIDs); err != nil {
		return err
	}
	// After the deletes only claimed survivors remain. Park their indices
	// in the negative range, then write each survivor's final position;
	// inserts go last so no transient state reuses an occupied index.
	if len(plan.updates) > 0 {
		if err := im.chunks.ParkIndexes(ctx, tx, docID); err != nil {
			return err
		}
	}
	for _, c := range plan.updates {
		if err := im.chunks.UpdateMetadataFields(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := im.chunks.InsertBatch(ctx, tx, plan.inserts, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// mergePlan is the outcome of matching incoming chunks against existing ones
type mergePlan struct {
	// inserts are incoming chunks with no surviving counterpart
	inserts []*chunks.Chunk
	// updates are incoming chunks rebound to a surviving chunk's id
	updates []*chunks.Chunk
	// deleteIDs are existing chunks no incoming chunk claimed
	deleteIDs []uuid.UUID
}

// planMerge matches incoming chunks to existing ones: by id when the
// content still matches, then by identical content. Claimed chunks keep
// their id and get their metadata refreshed; unmatched existing chunks are
// deleted, unmatched incoming chunks inserted.
func planMerge(existing, incoming []*chunks.Chunk) mergePlan {
	claimed := make(map[uuid.UUID]bool, len(existing))
	byID := make(map[uuid.UUID]*chunks.Chunk, len(existing))
	byContent := make(map[string][]*chunks.Chunk)
	for _, c := range existing {
		byID[c.ID] = c
		byContent[c.Content] = append(byContent[c.Content], c)
	}
	claimByContent := func(content string) *chunks.Chunk {
		for _, c := range byContent[content] {
			if !claimed[c.ID] {
				return c
			}
		}
		return nil
	}

	plan := mergePlan{}
	for _, inc := range incoming {
		if ex, ok := byID[inc.ID]; ok && !claimed[ex.ID] && ex.Content == inc.Content {
			claimed[ex.ID] = true
			plan.updates = append(plan.updates, inc)
			continue
		}
		if ex := claimByContent(inc.Content); ex != nil {
			claimed[ex.ID] = true
			inc.ID = ex.ID
			plan.updates = append(plan.updates, inc)
			continue
		}
		plan.inserts = append(plan.inserts, inc)
	}

	for _, c := range existing {
		if !claimed[c.ID] {
			plan.deleteIDs = append(plan.deleteIDs, c.ID)
		}
	}
	return plan
}

// countOrphanedAnnotations counts annotations whose chunk anchor no longer
// exists after a replace import.
func (im *Importer) countOrphanedAnnotations(ctx context.Context, docID uuid.UUID, current []*chunks.Chunk) (int, error) {
	anns, err := im.anns.ListByDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if len(anns) == 0 {
		return 0, nil
	}

	ids := make(map[string]struct{}, len(current))
	for _, c := range current {
		ids[c.ID.String()] = struct{}{}
	}
	orphaned := 0
	for _, a := range anns {
		if a.Position.ChunkID == "" {
			continue
		}
		if _, ok := ids[a.Position.ChunkID]; !ok {
			orphaned++
		}
	}
	return orphaned, nil
}

func (im *Importer) regenerateEmbeddings(ctx context.Context, rows []*chunks.Chunk) (int, error) {
	if !im.embedder.IsEnabled() || len(rows) == 0 {
		return 0, nil
	}

	embedded := 0
	for start := 0; start < len(rows); start += importEmbedBatchSize {
		end := start + importEmbedBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		texts := make([]string, 0, end-start)
		for _, c := range rows[start:end] {
			texts = append(texts, c.Content)
		}

		vecs, err := im.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return embedded, fmt.Errorf("regenerate embeddings %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return embedded, fmt.Errorf("embedding count mismatch: %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, v := range vecs {
			if err := im.chunks.UpdateEmbedding(ctx, rows[start+i].ID, v); err != nil {
				return embedded, err
			}
			embedded++
		}
	}
	return embedded, nil
}

// importConnections reinstates connections.json when present, dropping
// entries whose chunks did not survive.
func (im *Importer) importConnections(ctx context.Context, userID, docIDStr string) (int, bool, error) {
	var file connections.ConnectionsFile
	if err := im.store.ReadJSON(ctx, storage.DocumentKey(userID, docIDStr, "connections.json"), &file); err != nil {
		return 0, false, nil
	}

	rows := make([]*connections.Connection, 0, len(file.Connections))
	var refs []uuid.UUID
	for _, rec := range file.Connections {
		c, err := rec.ToConnection(userID)
		if err != nil {
			im.log.Warn("skipping malformed connection record", logger.Error(err))
			continue
		}
		rows = append(rows, c)
		refs = append(refs, c.SourceChunkID, c.TargetChunkID)
	}

	alive, err := im.chunks.ExistingIDs(ctx, refs)
	if err != nil {
		return 0, true, err
	}
	importable := rows[:0]
	for _, c := range rows {
		if _, ok := alive[c.SourceChunkID]; !ok {
			continue
		}
		if _, ok := alive[c.TargetChunkID]; !ok {
			continue
		}
		importable = append(importable, c)
	}

	if err := im.conns.UpsertBatch(ctx, importable); err != nil {
		return 0, true, err
	}
	return len(importable), true, nil
}
