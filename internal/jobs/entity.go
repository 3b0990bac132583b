// Package jobs provides the PostgreSQL-backed background job queue and the
// polling worker that drives document processing.
//
// Queue semantics:
//   - Atomic claim with FOR UPDATE SKIP LOCKED (single-writer-per-job)
//   - Heartbeat writes on updated_at while a job is processing
//   - Typed error classification with exponential backoff retries
//   - Pause/resume with storage-backed checkpoints
//   - Stale job recovery
package jobs

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// JobStatus represents the state of a background job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusPaused     JobStatus = "paused"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Job type identifiers dispatched by the worker
const (
	TypeProcessDocument      = "process_document"
	TypeContinueProcessing   = "continue_processing"
	TypeDetectConnections    = "detect_connections"
	TypeEnrichChunks         = "enrich_chunks"
	TypeEnrichAndConnect     = "enrich_and_connect"
	TypeImportDocument       = "import_document"
	TypeExportDocuments      = "export_documents"
	TypeReprocessConnections = "reprocess_connections"
)

// CheckpointRef is the checkpoint pointer embedded in a job's progress JSON
type CheckpointRef struct {
	Stage     string    `json:"stage,omitempty"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	CanResume bool      `json:"can_resume"`
}

// Progress is the progress JSON stored on a job row
type Progress struct {
	Percent    int            `json:"percent"`
	Stage      string         `json:"stage,omitempty"`
	Details    string         `json:"details,omitempty"`
	Checkpoint *CheckpointRef `json:"checkpoint,omitempty"`
}

// Value implements driver.Valuer for JSONB storage
func (p Progress) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB retrieval
func (p *Progress) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = Progress{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported progress type %T", src)
	}
}

// Job is a background_jobs row
type Job struct {
	bun.BaseModel `bun:"table:background_jobs,alias:j"`

	ID         string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID     string    `bun:"user_id,notnull" json:"user_id"`
	JobType    string    `bun:"job_type,notnull" json:"job_type"`
	Status     JobStatus `bun:"status,notnull,default:'pending'" json:"status"`
	DocumentID *string   `bun:"document_id,type:uuid" json:"document_id,omitempty"`

	InputData  map[string]interface{} `bun:"input_data,type:jsonb" json:"input_data"`
	OutputData map[string]interface{} `bun:"output_data,type:jsonb" json:"output_data,omitempty"`
	Progress   Progress               `bun:"progress,type:jsonb" json:"progress"`

	RetryCount   int        `bun:"retry_count,notnull,default:0" json:"retry_count"`
	MaxRetries   int        `bun:"max_retries,notnull,default:3" json:"max_retries"`
	NextRetryAt  *time.Time `bun:"next_retry_at" json:"next_retry_at,omitempty"`
	ErrorMessage *string    `bun:"error_message" json:"error_message,omitempty"`

	LastCheckpointPath  *string `bun:"last_checkpoint_path" json:"last_checkpoint_path,omitempty"`
	LastCheckpointStage *string `bun:"last_checkpoint_stage" json:"last_checkpoint_stage,omitempty"`
	CheckpointHash      *string `bun:"checkpoint_hash" json:"checkpoint_hash,omitempty"`

	PausedAt    *time.Time `bun:"paused_at" json:"paused_at,omitempty"`
	ResumedAt   *time.Time `bun:"resumed_at" json:"resumed_at,omitempty"`
	ResumeCount int        `bun:"resume_count,notnull,default:0" json:"resume_count"`

	StartedAt   *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// IsTerminal returns true if the job cannot transition further
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusCancelled
}

// DecodeInput unmarshals the job's input_data into a typed payload.
// Unknown fields are tolerated so forward-compatible payloads survive
// round-trips without loss.
func DecodeInput[T any](j *Job) (T, error) {
	var out T
	raw, err := json.Marshal(j.InputData)
	if err != nil {
		return out, fmt.Errorf("encode input_data: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode input_data for %s: %w", j.JobType, err)
	}
	return out, nil
}

// ProcessDocumentInput is the payload of process_document jobs
type ProcessDocumentInput struct {
	DocumentID        string `json:"documentId"`
	SourceType        string `json:"sourceType"`
	SourceURL         string `json:"sourceUrl,omitempty"`
	StoragePath       string `json:"storagePath"`
	EnrichChunks      *bool  `json:"enrichChunks,omitempty"`
	DetectConnections *bool  `json:"detectConnections,omitempty"`
	ReviewWorkflow    bool   `json:"reviewWorkflow,omitempty"`
	CleanupMode       string `json:"cleanupMode,omitempty"`
}

// ContinueProcessingInput is the payload of continue_processing jobs
type ContinueProcessingInput struct {
	DocumentID string `json:"documentId"`
	FromStage  string `json:"fromStage,omitempty"`
}

// DetectConnectionsInput is the payload of detect_connections jobs
type DetectConnectionsInput struct {
	DocumentID        string             `json:"documentId"`
	EnabledEngines    []string           `json:"enabledEngines,omitempty"`
	TargetDocumentIDs []string           `json:"targetDocumentIds,omitempty"`
	Weights           map[string]float64 `json:"weights,omitempty"`
}

// EnrichChunksInput is the payload of enrich_chunks and enrich_and_connect jobs
type EnrichChunksInput struct {
	DocumentID string   `json:"documentId"`
	ChunkIDs   []string `json:"chunkIds,omitempty"`
}

// ImportDocumentInput is the payload of import_document jobs
type ImportDocumentInput struct {
	DocumentID           string `json:"documentId"`
	UserID               string `json:"userId"`
	Mode                 string `json:"mode"`
	RegenerateEmbeddings bool   `json:"regenerateEmbeddings,omitempty"`
	ReprocessConnections bool   `json:"reprocessConnections,omitempty"`
}

// ExportDocumentsInput is the payload of export_documents jobs
type ExportDocumentsInput struct {
	DocumentIDs        []string `json:"documentIds"`
	UserID             string   `json:"userId"`
	IncludeConnections bool     `json:"includeConnections,omitempty"`
	IncludeAnnotations bool     `json:"includeAnnotations,omitempty"`
}

// ReprocessConnectionsInput is the payload of reprocess_connections jobs
type ReprocessConnectionsInput struct {
	DocumentID        string   `json:"documentId"`
	Mode              string   `json:"mode"`
	Engines           []string `json:"engines,omitempty"`
	PreserveValidated bool     `json:"preserveValidated,omitempty"`
	Backup            bool     `json:"backup,omitempty"`
}
