package chunks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FormatVersion is written into every chunks.json artifact
const FormatVersion = "1.0"

// ChunksFile is the chunks.json artifact. Chunk IDs are part of the on-disk
// contract: they are what lets annotations survive export/delete/import.
type ChunksFile struct {
	Version    string        `json:"version"`
	DocumentID string        `json:"document_id"`
	Chunks     []ChunkRecord `json:"chunks"`
}

// ChunkRecord is one chunk in chunks.json. Unknown fields in stored files are
// tolerated on read.
type ChunkRecord struct {
	ID                   string                 `json:"id,omitempty"`
	ChunkIndex           int                    `json:"chunk_index"`
	Content              string                 `json:"content"`
	StartOffset          int                    `json:"start_offset"`
	EndOffset            int                    `json:"end_offset"`
	WordCount            int                    `json:"word_count"`
	ChunkerType          *string                `json:"chunker_type,omitempty"`
	TokenCount           *int                   `json:"token_count,omitempty"`
	PageStart            *int                   `json:"page_start,omitempty"`
	PageEnd              *int                   `json:"page_end,omitempty"`
	HeadingPath          []string               `json:"heading_path,omitempty"`
	HeadingLevel         *int                   `json:"heading_level,omitempty"`
	SectionMarker        *string                `json:"section_marker,omitempty"`
	BBoxes               []interface{}          `json:"bboxes,omitempty"`
	PositionConfidence   *string                `json:"position_confidence,omitempty"`
	PositionMethod       *string                `json:"position_method,omitempty"`
	PositionValidated    bool                   `json:"position_validated"`
	Themes               []interface{}          `json:"themes,omitempty"`
	ImportanceScore      *float64               `json:"importance_score,omitempty"`
	Summary              *string                `json:"summary,omitempty"`
	EmotionalMetadata    map[string]interface{} `json:"emotional_metadata,omitempty"`
	ConceptualMetadata   map[string]interface{} `json:"conceptual_metadata,omitempty"`
	DomainMetadata       map[string]interface{} `json:"domain_metadata,omitempty"`
	MetadataExtractedAt  *time.Time             `json:"metadata_extracted_at,omitempty"`
	MetadataOverlapCount *int                   `json:"metadata_overlap_count,omitempty"`
	MetadataConfidence   *string                `json:"metadata_confidence,omitempty"`
	MetadataInterpolated bool                   `json:"metadata_interpolated"`
}

// NewChunksFile builds a chunks.json document from persisted chunks
func NewChunksFile(documentID string, rows []*Chunk) *ChunksFile {
	file := &ChunksFile{
		Version:    FormatVersion,
		DocumentID: documentID,
		Chunks:     make([]ChunkRecord, 0, len(rows)),
	}
	for _, c := range rows {
		file.Chunks = append(file.Chunks, RecordFromChunk(c))
	}
	return file
}

// RecordFromChunk converts a chunk row to its chunks.json record
func RecordFromChunk(c *Chunk) ChunkRecord {
	rec := ChunkRecord{
		ID:                   c.ID.String(),
		ChunkIndex:           c.ChunkIndex,
		Content:              c.Content,
		StartOffset:          c.StartOffset,
		EndOffset:            c.EndOffset,
		WordCount:            c.WordCount,
		ChunkerType:          c.ChunkerType,
		TokenCount:           c.TokenCount,
		PageStart:            c.PageStart,
		PageEnd:              c.PageEnd,
		HeadingPath:          c.HeadingPath,
		HeadingLevel:         c.HeadingLevel,
		SectionMarker:        c.SectionMarker,
		PositionConfidence:   c.PositionConfidence,
		PositionMethod:       c.PositionMethod,
		PositionValidated:    c.PositionValidated,
		ImportanceScore:      c.ImportanceScore,
		Summary:              c.Summary,
		MetadataExtractedAt:  c.MetadataExtractedAt,
		MetadataOverlapCount: c.MetadataOverlapCount,
		MetadataConfidence:   c.MetadataConfidence,
		MetadataInterpolated: c.MetadataInterpolated,
	}
	if c.BBoxes != nil {
		rec.BBoxes = *c.BBoxes
	}
	if c.Themes != nil {
		rec.Themes = *c.Themes
	}
	if c.EmotionalMetadata != nil {
		rec.EmotionalMetadata = *c.EmotionalMetadata
	}
	if c.ConceptualMetadata != nil {
		rec.ConceptualMetadata = *c.ConceptualMetadata
	}
	if c.DomainMetadata != nil {
		rec.DomainMetadata = *c.DomainMetadata
	}
	return rec
}

// ToChunk converts a chunks.json record back to a chunk row for documentID.
// If the record carries an id, it is used verbatim; a fresh UUID is generated
// only when missing.
func (r ChunkRecord) ToChunk(documentID uuid.UUID) (*Chunk, error) {
	id := uuid.New()
	if r.ID != "" {
		parsed, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk id %q: %w", r.ID, err)
		}
		id = parsed
	}

	c := &Chunk{
		ID:                   id,
		DocumentID:           documentID,
		ChunkIndex:           r.ChunkIndex,
		Content:              r.Content,
		StartOffset:          r.StartOffset,
		EndOffset:            r.EndOffset,
		WordCount:            r.WordCount,
		ChunkerType:          r.ChunkerType,
		TokenCount:           r.TokenCount,
		PageStart:            r.PageStart,
		PageEnd:              r.PageEnd,
		HeadingPath:          r.HeadingPath,
		HeadingLevel:         r.HeadingLevel,
		SectionMarker:        r.SectionMarker,
		PositionConfidence:   r.PositionConfidence,
		PositionMethod:       r.PositionMethod,
		PositionValidated:    r.PositionValidated,
		ImportanceScore:      r.ImportanceScore,
		Summary:              r.Summary,
		MetadataExtractedAt:  r.MetadataExtractedAt,
		MetadataOverlapCount: r.MetadataOverlapCount,
		MetadataConfidence:   r.MetadataConfidence,
		MetadataInterpolated: r.MetadataInterpolated,
	}
	if r.BBoxes != nil {
		s := JSONSlice(r.BBoxes)
		c.BBoxes = &s
	}
	if r.Themes != nil {
		s := JSONSlice(r.Themes)
		c.Themes = &s
	}
	if r.EmotionalMetadata != nil {
		m := JSONMap(r.EmotionalMetadata)
		c.EmotionalMetadata = &m
	}
	if r.ConceptualMetadata != nil {
		m := JSONMap(r.ConceptualMetadata)
		c.ConceptualMetadata = &m
	}
	if r.DomainMetadata != nil {
		m := JSONMap(r.DomainMetadata)
		c.DomainMetadata = &m
	}
	return c, nil
}

// Validate checks the invariants a chunks.json must satisfy before import
func (f *ChunksFile) Validate() error {
	if f.Version == "" {
		return fmt.Errorf("malformed chunks.json: missing version")
	}
	if f.DocumentID == "" {
		return fmt.Errorf("malformed chunks.json: missing document_id")
	}
	prev := -1
	for i, rec := range f.Chunks {
		if rec.StartOffset > rec.EndOffset {
			return fmt.Errorf("malformed chunks.json: chunk %d has start_offset > end_offset", i)
		}
		if rec.ChunkIndex <= prev {
			return fmt.Errorf("malformed chunks.json: chunk_index not strictly increasing at %d", i)
		}
		prev = rec.ChunkIndex
	}
	return nil
}
