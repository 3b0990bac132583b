package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Repository handles database operations for documents
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new documents repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("documents.repo")),
	}
}

// Create inserts a document row
func (r *Repository) Create(ctx context.Context, doc *Document) error {
	_, err := r.db.NewInsert().
		Model(doc).
		ExcludeColumn("created_at", "updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// CreateWithID reinstates a document with a known id on the given handle.
// Used by import when the document record is absent.
func (r *Repository) CreateWithID(ctx context.Context, db bun.IDB, doc *Document) error {
	_, err := db.NewInsert().
		Model(doc).
		ExcludeColumn("created_at", "updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create document with id: %w", err)
	}
	return nil
}

// GetByID retrieves a document. Returns nil when not found.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	doc := &Document{}
	err := r.db.NewSelect().
		Model(doc).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListByUser returns a user's documents, newest first
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 100
	}
	var docs []*Document
	err := r.db.NewSelect().
		Model(&docs).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// UpdateStatus transitions a document's processing status
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, processingError *string) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("processing_status = ?", status).
		Set("processing_error = ?", processingError).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}

	r.log.Debug("document status updated",
		slog.String("document_id", id.String()),
		slog.String("status", status),
	)
	return nil
}

// MarkCompleted finalizes a document after successful processing
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, wordCount, pageCount int, embeddingsAvailable bool) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("processing_status = ?", StatusCompleted).
		Set("processing_error = NULL").
		Set("markdown_available = TRUE").
		Set("embeddings_available = ?", embeddingsAvailable).
		Set("word_count = ?", wordCount).
		Set("page_count = NULLIF(?, 0)", pageCount).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark document completed: %w", err)
	}
	return nil
}

// Delete removes a document; chunks and connections cascade
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*Document)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// CreatedAtOf returns the creation time of a document.
// Used by add_new reprocessing to restrict targets to newer documents.
func (r *Repository) CreatedAtOf(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var createdAt time.Time
	err := r.db.NewSelect().
		Model((*Document)(nil)).
		Column("created_at").
		Where("id = ?", id).
		Scan(ctx, &createdAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("read document created_at: %w", err)
	}
	return createdAt, nil
}

// IDsCreatedAfter returns document ids created after the given time,
// excluding the source document itself.
func (r *Repository) IDsCreatedAfter(ctx context.Context, after time.Time, exclude uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewSelect().
		Model((*Document)(nil)).
		Column("id").
		Where("created_at > ?", after).
		Where("id != ?", exclude).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list newer documents: %w", err)
	}
	return ids, nil
}
