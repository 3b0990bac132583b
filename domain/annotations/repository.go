package annotations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rhizome-app/rhizome/internal/database"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Repository handles database operations for annotation entities
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new annotations repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("annotations.repo")),
	}
}

// Create inserts an annotation entity with its two components in one
// transaction.
func (r *Repository) Create(ctx context.Context, userID string, ann AnnotationData, pos PositionData) (*Annotation, error) {
	docID, err := uuid.Parse(pos.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid documentId %q: %w", pos.DocumentID, err)
	}
	var chunkID *uuid.UUID
	if pos.ChunkID != "" {
		id, err := uuid.Parse(pos.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("invalid chunkId %q: %w", pos.ChunkID, err)
		}
		chunkID = &id
	}

	entity := &Entity{
		ID:         uuid.New(),
		UserID:     userID,
		EntityType: EntityAnnotation,
	}
	annData, err := json.Marshal(ann)
	if err != nil {
		return nil, fmt.Errorf("encode annotation data: %w", err)
	}
	posData, err := EncodePosition(&pos)
	if err != nil {
		return nil, err
	}

	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return nil, fmt.Errorf("begin annotation tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NewInsert().Model(entity).ExcludeColumn("created_at", "updated_at").Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	comps := []*Component{
		{ID: uuid.New(), EntityID: entity.ID, ComponentType: ComponentAnnotation, Data: annData},
		{ID: uuid.New(), EntityID: entity.ID, ComponentType: ComponentPosition, Data: posData, DocumentID: &docID, ChunkID: chunkID},
	}
	if _, err := tx.NewInsert().Model(&comps).ExcludeColumn("created_at", "updated_at").Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert components: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit annotation: %w", err)
	}

	return &Annotation{
		EntityID:   entity.ID,
		UserID:     userID,
		Annotation: ann,
		Position:   pos,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// ListByDocument returns the annotations anchored in a document
func (r *Repository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Annotation, error) {
	var positions []*Component
	err := r.db.NewSelect().
		Model(&positions).
		Where("component_type = ?", ComponentPosition).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list position components: %w", err)
	}
	if len(positions) == 0 {
		return nil, nil
	}

	entityIDs := make([]uuid.UUID, 0, len(positions))
	for _, p := range positions {
		entityIDs = append(entityIDs, p.EntityID)
	}

	var entities []*Entity
	err = r.db.NewSelect().
		Model(&entities).
		Where("id IN (?)", bun.In(entityIDs)).
		Where("entity_type = ?", EntityAnnotation).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	entityByID := make(map[uuid.UUID]*Entity, len(entities))
	for _, e := range entities {
		entityByID[e.ID] = e
	}

	var annComps []*Component
	err = r.db.NewSelect().
		Model(&annComps).
		Where("entity_id IN (?)", bun.In(entityIDs)).
		Where("component_type = ?", ComponentAnnotation).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list annotation components: %w", err)
	}
	annByEntity := make(map[uuid.UUID]*Component, len(annComps))
	for _, c := range annComps {
		annByEntity[c.EntityID] = c
	}

	out := make([]*Annotation, 0, len(positions))
	for _, p := range positions {
		entity, ok := entityByID[p.EntityID]
		if !ok {
			continue
		}
		pos, err := DecodePosition(p)
		if err != nil {
			r.log.Warn("skipping annotation with undecodable position",
				slog.String("entity_id", p.EntityID.String()), logger.Error(err))
			continue
		}
		ann := &Annotation{
			EntityID:  entity.ID,
			UserID:    entity.UserID,
			Position:  *pos,
			CreatedAt: entity.CreatedAt,
		}
		if c, ok := annByEntity[p.EntityID]; ok {
			if err := json.Unmarshal(c.Data, &ann.Annotation); err != nil {
				r.log.Warn("undecodable annotation data",
					slog.String("entity_id", p.EntityID.String()), logger.Error(err))
			}
		}
		out = append(out, ann)
	}
	return out, nil
}

// UpdatePosition rewrites an annotation's position component after recovery
func (r *Repository) UpdatePosition(ctx context.Context, entityID uuid.UUID, pos *PositionData) error {
	data, err := EncodePosition(pos)
	if err != nil {
		return err
	}
	var chunkID *uuid.UUID
	if pos.ChunkID != "" && !pos.Lost {
		if id, err := uuid.Parse(pos.ChunkID); err == nil {
			chunkID = &id
		}
	}

	res, err := r.db.NewUpdate().
		Model((*Component)(nil)).
		Set("data = ?", string(data)).
		Set("chunk_id = ?", chunkID).
		Set("updated_at = now()").
		Where("entity_id = ?", entityID).
		Where("component_type = ?", ComponentPosition).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("annotation not found: %s", entityID)
	}
	return nil
}

// ImportBatch reinstates annotation records, preserving entity IDs.
// Existing entities are left untouched; only missing ones are inserted.
func (r *Repository) ImportBatch(ctx context.Context, userID string, records []AnnotationRecord) (int, error) {
	imported := 0
	for _, rec := range records {
		entityID := uuid.New()
		if rec.EntityID != "" {
			if id, err := uuid.Parse(rec.EntityID); err == nil {
				entityID = id
			}
		}
		owner := rec.UserID
		if owner == "" {
			owner = userID
		}

		docID, err := uuid.Parse(rec.Position.DocumentID)
		if err != nil {
			r.log.Warn("skipping annotation with bad documentId",
				slog.String("entity_id", rec.EntityID), logger.Error(err))
			continue
		}
		var chunkID *uuid.UUID
		if rec.Position.ChunkID != "" {
			if id, err := uuid.Parse(rec.Position.ChunkID); err == nil {
				chunkID = &id
			}
		}

		annData, err := json.Marshal(rec.Annotation)
		if err != nil {
			return imported, fmt.Errorf("encode annotation data: %w", err)
		}
		posData, err := EncodePosition(&rec.Position)
		if err != nil {
			return imported, err
		}

		entity := &Entity{ID: entityID, UserID: owner, EntityType: EntityAnnotation}
		res, err := r.db.NewInsert().
			Model(entity).
			ExcludeColumn("created_at", "updated_at").
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return imported, fmt.Errorf("insert entity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// entity already present, keep its current components
			continue
		}

		comps := []*Component{
			{ID: uuid.New(), EntityID: entityID, ComponentType: ComponentAnnotation, Data: annData},
			{ID: uuid.New(), EntityID: entityID, ComponentType: ComponentPosition, Data: posData, DocumentID: &docID, ChunkID: chunkID},
		}
		if _, err := r.db.NewInsert().Model(&comps).ExcludeColumn("created_at", "updated_at").Exec(ctx); err != nil {
			return imported, fmt.Errorf("insert components: %w", err)
		}
		imported++
	}
	return imported, nil
}

// CountByDocument returns how many annotations anchor in a document
func (r *Repository) CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Component)(nil)).
		Where("component_type = ?", ComponentPosition).
		Where("document_id = ?", documentID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count annotations: %w", err)
	}
	return count, nil
}
