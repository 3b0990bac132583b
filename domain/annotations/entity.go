// Package annotations stores user annotations as entity-with-components
// records and recovers their positions after document reprocessing or
// import. An annotation entity carries an annotation component (the user's
// note) and a position component (the text anchor).
package annotations

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Entity types
const (
	EntityAnnotation = "annotation"
	EntitySpark      = "spark"
)

// Component types
const (
	ComponentAnnotation = "annotation"
	ComponentPosition   = "position"
)

// Recovery methods, strongest first
const (
	MethodDirect       = "direct"
	MethodContext      = "context_match"
	MethodChunkBounded = "chunk_bounded"
	MethodTrigram      = "trigram_fallback"
)

// Recovery confidence policy: at or above AutoAcceptThreshold the new
// position is applied silently; between the thresholds the annotation is
// flagged for review; below ReviewThreshold it is marked lost but retained
// for manual relinking.
const (
	AutoAcceptThreshold = 0.85
	ReviewThreshold     = 0.75
)

// Entity is an entities row
type Entity struct {
	bun.BaseModel `bun:"table:entities,alias:e"`

	ID         uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID     string    `bun:"user_id,notnull" json:"user_id"`
	EntityType string    `bun:"entity_type,notnull" json:"entity_type"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// Component is a components row. document_id and chunk_id are denormalized
// from position data so anchored lookups stay indexable.
type Component struct {
	bun.BaseModel `bun:"table:components,alias:comp"`

	ID            uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	EntityID      uuid.UUID       `bun:"entity_id,type:uuid,notnull" json:"entity_id"`
	ComponentType string          `bun:"component_type,notnull" json:"component_type"`
	Data          json.RawMessage `bun:"data,type:jsonb,notnull" json:"data"`
	DocumentID    *uuid.UUID      `bun:"document_id,type:uuid" json:"document_id,omitempty"`
	ChunkID       *uuid.UUID      `bun:"chunk_id,type:uuid" json:"chunk_id,omitempty"`
	CreatedAt     time.Time       `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// AnnotationData is the annotation component payload
type AnnotationData struct {
	Note  string `json:"note,omitempty"`
	Color string `json:"color,omitempty"`
}

// PositionData is the position component payload. OriginalText and the
// surrounding context are the recovery anchors: they must survive every
// export/import round-trip.
type PositionData struct {
	DocumentID   string `json:"documentId"`
	ChunkID      string `json:"chunkId,omitempty"`
	StartOffset  int    `json:"startOffset"`
	EndOffset    int    `json:"endOffset"`
	OriginalText string `json:"originalText"`
	TextBefore   string `json:"textBefore,omitempty"`
	TextAfter    string `json:"textAfter,omitempty"`

	// Recovery bookkeeping, written after reprocessing or import
	RecoveryConfidence *float64 `json:"recoveryConfidence,omitempty"`
	RecoveryMethod     string   `json:"recoveryMethod,omitempty"`
	NeedsReview        bool     `json:"needsReview,omitempty"`
	Lost               bool     `json:"lost,omitempty"`
}

// Annotation is the joined view of one annotation entity
type Annotation struct {
	EntityID   uuid.UUID      `json:"entity_id"`
	UserID     string         `json:"user_id"`
	Annotation AnnotationData `json:"annotation"`
	Position   PositionData   `json:"position"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DecodePosition parses a position component's payload
func DecodePosition(comp *Component) (*PositionData, error) {
	if comp.ComponentType != ComponentPosition {
		return nil, fmt.Errorf("not a position component: %s", comp.ComponentType)
	}
	pos := &PositionData{}
	if err := json.Unmarshal(comp.Data, pos); err != nil {
		return nil, fmt.Errorf("decode position data: %w", err)
	}
	return pos, nil
}

// EncodePosition serializes a position payload for storage
func EncodePosition(pos *PositionData) (json.RawMessage, error) {
	raw, err := json.Marshal(pos)
	if err != nil {
		return nil, fmt.Errorf("encode position data: %w", err)
	}
	return raw, nil
}

// AnnotationsFile is the annotations.json export artifact
type AnnotationsFile struct {
	Version     string             `json:"version"`
	DocumentID  string             `json:"document_id"`
	Annotations []AnnotationRecord `json:"annotations"`
}

// AnnotationRecord is one annotation in annotations.json
type AnnotationRecord struct {
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Annotation AnnotationData `json:"annotation"`
	Position   PositionData   `json:"position"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// FormatVersion is written into every annotations.json artifact
const FormatVersion = "1.0"

// NewAnnotationsFile builds an annotations.json document
func NewAnnotationsFile(documentID string, anns []*Annotation) *AnnotationsFile {
	file := &AnnotationsFile{
		Version:     FormatVersion,
		DocumentID:  documentID,
		Annotations: make([]AnnotationRecord, 0, len(anns)),
	}
	for _, a := range anns {
		file.Annotations = append(file.Annotations, AnnotationRecord{
			EntityID:   a.EntityID.String(),
			UserID:     a.UserID,
			Annotation: a.Annotation,
			Position:   a.Position,
			CreatedAt:  a.CreatedAt,
		})
	}
	return file
}
