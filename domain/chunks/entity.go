// Package chunks owns semantic chunks, the canonical persistence unit for
// reading, search, connections and annotations. Chunk IDs are generated once
// on first processing and preserved across export/delete/import cycles.
package chunks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Position confidence levels recorded by the offset matcher
const (
	ConfidenceExact     = "exact"
	ConfidenceHigh      = "high"
	ConfidenceMedium    = "medium"
	ConfidenceSynthetic = "synthetic"
)

// Metadata transfer confidence levels
const (
	MetadataHigh   = "high"
	MetadataMedium = "medium"
	MetadataLow    = "low"
)

// Chunk is a semantic chunk row
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID          uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DocumentID  uuid.UUID `bun:"document_id,type:uuid,notnull" json:"document_id"`
	ChunkIndex  int       `bun:"chunk_index,notnull" json:"chunk_index"`
	Content     string    `bun:"content,notnull" json:"content"`
	StartOffset int       `bun:"start_offset,notnull" json:"start_offset"`
	EndOffset   int       `bun:"end_offset,notnull" json:"end_offset"`
	WordCount   int       `bun:"word_count,notnull" json:"word_count"`
	TokenCount  *int      `bun:"token_count" json:"token_count,omitempty"`
	ChunkerType *string   `bun:"chunker_type" json:"chunker_type,omitempty"`

	// pgvector column; written via ?::vector literals, read back as bytes
	Embedding []byte `bun:"embedding,type:vector(768)" json:"-"`

	PageStart     *int           `bun:"page_start" json:"page_start,omitempty"`
	PageEnd       *int           `bun:"page_end" json:"page_end,omitempty"`
	HeadingPath   []string       `bun:"heading_path,array" json:"heading_path,omitempty"`
	HeadingLevel  *int           `bun:"heading_level" json:"heading_level,omitempty"`
	SectionMarker *string        `bun:"section_marker" json:"section_marker,omitempty"`
	BBoxes        *JSONSlice     `bun:"bboxes,type:jsonb" json:"bboxes,omitempty"`

	PositionConfidence *string `bun:"position_confidence" json:"position_confidence,omitempty"`
	PositionMethod     *string `bun:"position_method" json:"position_method,omitempty"`
	PositionValidated  bool    `bun:"position_validated,notnull,default:false" json:"position_validated"`

	Themes                  *JSONSlice `bun:"themes,type:jsonb" json:"themes,omitempty"`
	ImportanceScore         *float64   `bun:"importance_score" json:"importance_score,omitempty"`
	Summary                 *string    `bun:"summary" json:"summary,omitempty"`
	EmotionalMetadata       *JSONMap   `bun:"emotional_metadata,type:jsonb" json:"emotional_metadata,omitempty"`
	ConceptualMetadata      *JSONMap   `bun:"conceptual_metadata,type:jsonb" json:"conceptual_metadata,omitempty"`
	DomainMetadata          *JSONMap   `bun:"domain_metadata,type:jsonb" json:"domain_metadata,omitempty"`
	MetadataExtractedAt     *time.Time `bun:"metadata_extracted_at" json:"metadata_extracted_at,omitempty"`
	MetadataOverlapCount    *int       `bun:"metadata_overlap_count" json:"metadata_overlap_count,omitempty"`
	MetadataConfidence      *string    `bun:"metadata_confidence" json:"metadata_confidence,omitempty"`
	MetadataInterpolated    bool       `bun:"metadata_interpolated,notnull,default:false" json:"metadata_interpolated"`
	EnrichmentsDetected     bool       `bun:"enrichments_detected,notnull,default:false" json:"enrichments_detected"`
	EnrichmentSkippedReason *string    `bun:"enrichment_skipped_reason" json:"enrichment_skipped_reason,omitempty"`
	ConnectionsDetected     bool       `bun:"connections_detected,notnull,default:false" json:"connections_detected"`

	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// HasEmbedding returns true if an embedding vector is present
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// CachedChunk is a raw extractor chunk, immutable after extraction.
// The cache lets any later stage rerun without re-extracting.
type CachedChunk struct {
	bun.BaseModel `bun:"table:cached_chunks,alias:cc"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DocumentID    uuid.UUID  `bun:"document_id,type:uuid,notnull" json:"document_id"`
	ChunkIndex    int        `bun:"chunk_index,notnull" json:"chunk_index"`
	Content       string     `bun:"content,notnull" json:"content"`
	HeadingPath   []string   `bun:"heading_path,array" json:"heading_path,omitempty"`
	HeadingLevel  *int       `bun:"heading_level" json:"heading_level,omitempty"`
	SectionMarker *string    `bun:"section_marker" json:"section_marker,omitempty"`
	PageStart     *int       `bun:"page_start" json:"page_start,omitempty"`
	PageEnd       *int       `bun:"page_end" json:"page_end,omitempty"`
	BBoxes        *JSONSlice `bun:"bboxes,type:jsonb" json:"bboxes,omitempty"`
	StartOffset   *int       `bun:"start_offset" json:"start_offset,omitempty"`
	EndOffset     *int       `bun:"end_offset" json:"end_offset,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
}

// JSONMap is a generic JSONB object column
type JSONMap map[string]interface{}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return nil
}

// JSONSlice is a generic JSONB array column
type JSONSlice []interface{}

// Scan implements sql.Scanner
func (s *JSONSlice) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}

// DecodeEmotional returns the typed emotional metadata when present and
// well-formed.
func (c *Chunk) DecodeEmotional() (*EmotionalMeta, bool) {
	if c.EmotionalMetadata == nil {
		return nil, false
	}
	meta := &EmotionalMeta{}
	if !decodeMap(*c.EmotionalMetadata, meta) {
		return nil, false
	}
	return meta, true
}

// DecodeConceptual returns the typed conceptual metadata when present and
// well-formed.
func (c *Chunk) DecodeConceptual() (*ConceptualMeta, bool) {
	if c.ConceptualMetadata == nil {
		return nil, false
	}
	meta := &ConceptualMeta{}
	if !decodeMap(*c.ConceptualMetadata, meta) {
		return nil, false
	}
	return meta, true
}

// PrimaryDomain returns the chunk's primary domain, or "" when unenriched
func (c *Chunk) PrimaryDomain() string {
	if c.DomainMetadata == nil {
		return ""
	}
	if v, ok := (*c.DomainMetadata)["primaryDomain"].(string); ok {
		return v
	}
	return ""
}

func decodeMap(m JSONMap, out interface{}) bool {
	raw, err := json.Marshal(m)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// EmotionalMeta is the typed shape stored in emotional_metadata
type EmotionalMeta struct {
	Polarity     float64 `json:"polarity"`
	PrimaryLabel string  `json:"primaryEmotion"`
	Intensity    float64 `json:"intensity"`
}

// Concept is one entry of conceptual_metadata.concepts
type Concept struct {
	Text       string  `json:"text"`
	Importance float64 `json:"importance"`
}

// ConceptualMeta is the typed shape stored in conceptual_metadata
type ConceptualMeta struct {
	Concepts []Concept `json:"concepts"`
}

// DomainMeta is the typed shape stored in domain_metadata
type DomainMeta struct {
	PrimaryDomain string `json:"primaryDomain"`
}
