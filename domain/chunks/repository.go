package chunks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Repository handles database operations for semantic and cached chunks
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new chunks repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("chunks.repo")),
	}
}

// InsertBatch inserts chunks and their embeddings on the given handle, which
// may be a transaction. Embeddings are written as pgvector literals.
func (r *Repository) InsertBatch(ctx context.Context, db bun.IDB, rows []*Chunk, vectors map[uuid.UUID][]float32) error {
	if len(rows) == 0 {
		return nil
	}

	_, err := db.NewInsert().
		Model(&rows).
		ExcludeColumn("embedding", "created_at", "updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	for _, c := range rows {
		vec, ok := vectors[c.ID]
		if !ok {
			continue
		}
		if _, err := db.NewRaw(
			"UPDATE chunks SET embedding = ?::vector WHERE id = ?",
			VectorLiteral(vec), c.ID,
		).Exec(ctx); err != nil {
			return fmt.Errorf("set embedding for chunk %s: %w", c.ID, err)
		}
	}

	return nil
}

// GetByDocument returns all chunks of a document ordered by chunk_index
func (r *Repository) GetByDocument(ctx context.Context, documentID uuid.UUID) ([]*Chunk, error) {
	var rows []*Chunk
	err := r.db.NewSelect().
		Model(&rows).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return rows, nil
}

// GetByIDs returns the chunks with the given IDs
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*Chunk
	err := r.db.NewSelect().
		Model(&rows).
		Where("id IN (?)", bun.In(ids)).
		Order("chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	return rows, nil
}

// GetByID returns one chunk or nil when absent
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Chunk, error) {
	chunk := &Chunk{}
	err := r.db.NewSelect().
		Model(chunk).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return chunk, nil
}

// ExistingIDs returns the subset of ids that are present in the chunks
// table. Import uses it to drop references to chunks that no longer exist.
func (r *Repository) ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]struct{}{}, nil
	}
	var found []uuid.UUID
	err := r.db.NewSelect().
		Model((*Chunk)(nil)).
		Column("id").
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx, &found)
	if err != nil {
		return nil, fmt.Errorf("check chunk ids: %w", err)
	}
	set := make(map[uuid.UUID]struct{}, len(found))
	for _, id := range found {
		set[id] = struct{}{}
	}
	return set, nil
}

// CountByDocument returns the number of chunks for a document
func (r *Repository) CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Chunk)(nil)).
		Where("document_id = ?", documentID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// DeleteByDocument deletes all chunks of a document on the given handle
func (r *Repository) DeleteByDocument(ctx context.Context, db bun.IDB, documentID uuid.UUID) (int, error) {
	res, err := db.NewDelete().
		Model((*Chunk)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteByIDs deletes the given chunks on the given handle
func (r *Repository) DeleteByIDs(ctx context.Context, db bun.IDB, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := db.NewDelete().
		Model((*Chunk)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete chunks by ids: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateEmbedding writes a chunk's embedding vector
func (r *Repository) UpdateEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error {
	_, err := r.db.NewRaw(
		"UPDATE chunks SET embedding = ?::vector, updated_at = now() WHERE id = ?",
		VectorLiteral(vec), id,
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return nil
}

// UpdateEnrichment writes a chunk's enrichment fields
func (r *Repository) UpdateEnrichment(ctx context.Context, c *Chunk) error {
	_, err := r.db.NewUpdate().
		Model(c).
		Column(
			"themes", "importance_score", "summary",
			"emotional_metadata", "conceptual_metadata", "domain_metadata",
			"metadata_extracted_at", "enrichments_detected",
			"enrichment_skipped_reason",
		).
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	return nil
}

// UpdateMetadataFields writes the fields merge_smart imports may refresh
// without touching content or identity. chunk_index is included: a merge
// that removed or reordered chunks assigns survivors new positions.
func (r *Repository) UpdateMetadataFields(ctx context.Context, db bun.IDB, c *Chunk) error {
	_, err := db.NewUpdate().
		Model(c).
		Column(
			"chunk_index",
			"start_offset", "end_offset", "word_count", "token_count",
			"chunker_type", "page_start", "page_end", "heading_path",
			"heading_level", "section_marker",
			"position_confidence", "position_method", "position_validated",
			"themes", "importance_score", "summary",
			"emotional_metadata", "conceptual_metadata", "domain_metadata",
			"metadata_extracted_at", "metadata_overlap_count",
			"metadata_confidence", "metadata_interpolated",
		).
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update metadata fields: %w", err)
	}
	return nil
}

// ParkIndexes moves every chunk_index of a document to a negative slot
// (-1-index). Re-indexing survivors one row at a time cannot then collide
// with UNIQUE(document_id, chunk_index): parked slots are disjoint from
// the non-negative final positions.
func (r *Repository) ParkIndexes(ctx context.Context, db bun.IDB, documentID uuid.UUID) error {
	_, err := db.NewUpdate().
		Model((*Chunk)(nil)).
		Set("chunk_index = -1 - chunk_index").
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("park chunk indexes: %w", err)
	}
	return nil
}

// MarkConnectionsDetected flags all chunks of a document after detection ran
func (r *Repository) MarkConnectionsDetected(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*Chunk)(nil)).
		Set("connections_detected = TRUE").
		Set("updated_at = now()").
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark connections detected: %w", err)
	}
	return nil
}

// SimilarChunk is a vector search hit
type SimilarChunk struct {
	Chunk      `bun:",extend"`
	Similarity float64 `bun:"similarity"`
}

// SimilarSearchOptions filters a vector similarity query
type SimilarSearchOptions struct {
	// ExcludeDocumentID removes same-document chunks (cross-document only)
	ExcludeDocumentID *uuid.UUID
	// TargetDocumentIDs restricts candidates to these documents
	TargetDocumentIDs []uuid.UUID
	// Threshold is the minimum cosine similarity
	Threshold float64
	// Limit caps the number of hits
	Limit int
}

// SearchSimilar runs a cosine similarity query against the chunks index
func (r *Repository) SearchSimilar(ctx context.Context, vec []float32, opts SimilarSearchOptions) ([]*SimilarChunk, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	literal := VectorLiteral(vec)
	query := r.db.NewSelect().
		TableExpr("chunks AS c").
		ColumnExpr("c.*").
		ColumnExpr("1 - (c.embedding <=> ?::vector) AS similarity", literal).
		Where("c.embedding IS NOT NULL").
		Where("1 - (c.embedding <=> ?::vector) >= ?", literal, opts.Threshold).
		OrderExpr("c.embedding <=> ?::vector ASC", literal).
		Limit(opts.Limit)

	if opts.ExcludeDocumentID != nil {
		query = query.Where("c.document_id != ?", *opts.ExcludeDocumentID)
	}
	if len(opts.TargetDocumentIDs) > 0 {
		query = query.Where("c.document_id IN (?)", bun.In(opts.TargetDocumentIDs))
	}

	var hits []*SimilarChunk
	if err := query.Scan(ctx, &hits); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return hits, nil
}

// EnrichedCandidates returns chunks from other documents that carry both
// conceptual and emotional metadata, ordered by importance. These are the
// comparison pool for contradiction detection.
func (r *Repository) EnrichedCandidates(ctx context.Context, excludeDocumentID uuid.UUID, targetDocumentIDs []uuid.UUID, limit int) ([]*Chunk, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []*Chunk
	query := r.db.NewSelect().
		Model(&rows).
		Where("document_id != ?", excludeDocumentID).
		Where("conceptual_metadata IS NOT NULL").
		Where("emotional_metadata IS NOT NULL").
		Order("importance_score DESC NULLS LAST").
		Limit(limit)
	if len(targetDocumentIDs) > 0 {
		query = query.Where("document_id IN (?)", bun.In(targetDocumentIDs))
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("enriched candidates: %w", err)
	}
	return rows, nil
}

// TopByImportance returns a document's highest-importance chunks
func (r *Repository) TopByImportance(ctx context.Context, documentID uuid.UUID, minImportance float64, limit int) ([]*Chunk, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []*Chunk
	err := r.db.NewSelect().
		Model(&rows).
		Where("document_id = ?", documentID).
		Where("importance_score >= ?", minImportance).
		Order("importance_score DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("top by importance: %w", err)
	}
	return rows, nil
}

// CandidatesByDomain returns enriched chunks from other documents whose
// primary domain differs from the given one, ordered by importance.
func (r *Repository) CandidatesByDomain(ctx context.Context, excludeDocumentID uuid.UUID, notDomain string, targetDocumentIDs []uuid.UUID, limit int) ([]*Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []*Chunk
	query := r.db.NewSelect().
		Model(&rows).
		Where("document_id != ?", excludeDocumentID).
		Where("domain_metadata IS NOT NULL").
		Where("domain_metadata->>'primaryDomain' != ?", notDomain).
		Order("importance_score DESC NULLS LAST").
		Limit(limit)
	if len(targetDocumentIDs) > 0 {
		query = query.Where("document_id IN (?)", bun.In(targetDocumentIDs))
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("candidates by domain: %w", err)
	}
	return rows, nil
}

// ReplaceCached replaces the extractor chunk cache for a document
func (r *Repository) ReplaceCached(ctx context.Context, documentID uuid.UUID, rows []*CachedChunk) error {
	_, err := r.db.NewDelete().
		Model((*CachedChunk)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("clear cached chunks: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	_, err = r.db.NewInsert().
		Model(&rows).
		ExcludeColumn("created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert cached chunks: %w", err)
	}
	return nil
}

// GetCachedByDocument returns the extractor chunk cache in index order
func (r *Repository) GetCachedByDocument(ctx context.Context, documentID uuid.UUID) ([]*CachedChunk, error) {
	var rows []*CachedChunk
	err := r.db.NewSelect().
		Model(&rows).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached chunks: %w", err)
	}
	return rows, nil
}

// VectorLiteral converts a float32 slice to the pgvector literal format
func VectorLiteral(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses a pgvector value read back from the database into the
// float32 slice VectorLiteral produced.
func ParseVector(raw []byte) ([]float32, error) {
	s := strings.TrimSpace(string(raw))
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal")
	}
	s = s[1 : len(s)-1]
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
