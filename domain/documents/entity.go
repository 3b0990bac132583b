// Package documents owns the documents table and the per-document artifact
// descriptors (metadata.json, manifest.json).
package documents

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Processing status values
const (
	StatusPending              = "pending"
	StatusExtracting           = "extracting"
	StatusAwaitingManualReview = "awaiting_manual_review"
	StatusProcessing           = "processing"
	StatusCompleted            = "completed"
	StatusFailed               = "failed"
)

// Source types accepted by the pipeline
const (
	SourcePDF      = "pdf"
	SourceEPUB     = "epub"
	SourceMarkdown = "markdown"
	SourceText     = "txt"
	SourceWebURL   = "web_url"
	SourcePaste    = "paste"
)

// Document is a documents row. Deleting a document cascades its chunks and
// connections.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID                  uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID              string     `bun:"user_id,notnull" json:"user_id"`
	Title               string     `bun:"title,notnull" json:"title"`
	Author              *string    `bun:"author" json:"author,omitempty"`
	SourceType          string     `bun:"source_type,notnull" json:"source_type"`
	SourceURL           *string    `bun:"source_url" json:"source_url,omitempty"`
	StoragePath         string     `bun:"storage_path,notnull" json:"storage_path"`
	ProcessingStatus    string     `bun:"processing_status,notnull,default:'pending'" json:"processing_status"`
	ProcessingError     *string    `bun:"processing_error" json:"processing_error,omitempty"`
	MarkdownAvailable   bool       `bun:"markdown_available,notnull,default:false" json:"markdown_available"`
	EmbeddingsAvailable bool       `bun:"embeddings_available,notnull,default:false" json:"embeddings_available"`
	WordCount           *int       `bun:"word_count" json:"word_count,omitempty"`
	PageCount           *int       `bun:"page_count" json:"page_count,omitempty"`
	Outline             []byte     `bun:"outline,type:jsonb" json:"-"`
	CreatedAt           time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt           time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// MetadataFile is the metadata.json artifact. It must carry the document id:
// that is how import reinstates a deleted document record.
type MetadataFile struct {
	Version        string    `json:"version"`
	DocumentID     string    `json:"document_id"`
	Title          string    `json:"title"`
	Author         string    `json:"author,omitempty"`
	SourceType     string    `json:"source_type,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ProcessingMode string    `json:"processing_mode,omitempty"`
	MarkdownHash   string    `json:"markdown_hash,omitempty"`
	WordCount      int       `json:"word_count,omitempty"`
	PageCount      int       `json:"page_count,omitempty"`
}

// ManifestEntry describes one file in a document folder
type ManifestEntry struct {
	Size int64  `json:"size"`
	Type string `json:"type"` // "final" or "stage"
}

// ManifestFile is the manifest.json artifact
type ManifestFile struct {
	Version        string                   `json:"version"`
	Files          map[string]ManifestEntry `json:"files"`
	ChunkCount     int                      `json:"chunk_count"`
	WordCount      int                      `json:"word_count"`
	ProcessingTime float64                  `json:"processing_time,omitempty"`
	DoclingVersion string                   `json:"docling_version,omitempty"`
}
