package connections

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Repository handles database operations for connections
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new connections repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("connections.repo")),
	}
}

// UpsertBatch inserts connections, updating strength and provenance on the
// (source_chunk_id, target_chunk_id, connection_type) key. user_validated is
// never touched by the upsert: a re-detected connection keeps its vote.
func (r *Repository) UpsertBatch(ctx context.Context, rows []*Connection) error {
	if len(rows) == 0 {
		return nil
	}

	_, err := r.db.NewInsert().
		Model(&rows).
		ExcludeColumn("discovered_at").
		On("CONFLICT (source_chunk_id, target_chunk_id, connection_type) DO UPDATE").
		Set("engine = EXCLUDED.engine").
		Set("strength = EXCLUDED.strength").
		Set("evidence = EXCLUDED.evidence").
		Set("metadata = EXCLUDED.metadata").
		Set("auto_detected = EXCLUDED.auto_detected").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert connections: %w", err)
	}
	return nil
}

// ListBySourceDocument returns connections whose source chunk belongs to the
// document, strongest first.
func (r *Repository) ListBySourceDocument(ctx context.Context, documentID uuid.UUID) ([]*Connection, error) {
	var rows []*Connection
	err := r.db.NewSelect().
		Model(&rows).
		Join("JOIN chunks AS sc ON sc.id = conn.source_chunk_id").
		Where("sc.document_id = ?", documentID).
		Order("strength DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return rows, nil
}

// ListValidatedBySourceDocument returns the user-validated subset, used to
// back them up before reprocessing.
func (r *Repository) ListValidatedBySourceDocument(ctx context.Context, documentID uuid.UUID) ([]*Connection, error) {
	var rows []*Connection
	err := r.db.NewSelect().
		Model(&rows).
		Join("JOIN chunks AS sc ON sc.id = conn.source_chunk_id").
		Where("sc.document_id = ?", documentID).
		Where("conn.user_validated = TRUE").
		Order("conn.discovered_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list validated connections: %w", err)
	}
	return rows, nil
}

// CountBySourceDocument returns the number of connections rooted in the
// document's chunks.
func (r *Repository) CountBySourceDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Connection)(nil)).
		Join("JOIN chunks AS sc ON sc.id = conn.source_chunk_id").
		Where("sc.document_id = ?", documentID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count connections: %w", err)
	}
	return count, nil
}

// DeleteBySourceDocument deletes connections rooted in the document's
// chunks. With preserveValidated, user-validated rows survive.
func (r *Repository) DeleteBySourceDocument(ctx context.Context, documentID uuid.UUID, preserveValidated bool) (int, error) {
	query := r.db.NewDelete().
		Model((*Connection)(nil)).
		Where("source_chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)", documentID)
	if preserveValidated {
		query = query.Where("user_validated = FALSE")
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete connections: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetValidated records a user's vote on a connection
func (r *Repository) SetValidated(ctx context.Context, id uuid.UUID, validated bool) error {
	res, err := r.db.NewUpdate().
		Model((*Connection)(nil)).
		Set("user_validated = ?", validated).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set validated: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connection not found: %s", id)
	}
	return nil
}
