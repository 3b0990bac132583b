package port

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/internal/jobs"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Service implements the export_documents and import_document job handlers
type Service struct {
	queue    *jobs.Queue
	exporter *Exporter
	importer *Importer
	cfg      *config.Config
	log      *slog.Logger
}

// NewService creates the port service
func NewService(queue *jobs.Queue, exporter *Exporter, importer *Importer, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		queue:    queue,
		exporter: exporter,
		importer: importer,
		cfg:      cfg,
		log:      log.With(logger.Scope("port")),
	}
}

// HandleExportDocuments bundles the selected documents into a ZIP and puts
// a signed download URL into the job output.
func (s *Service) HandleExportDocuments(ctx context.Context, job *jobs.Job) (map[string]interface{}, error) {
	input, err := jobs.DecodeInput[jobs.ExportDocumentsInput](job)
	if err != nil {
		return nil, err
	}
	if len(input.DocumentIDs) == 0 {
		return nil, fmt.Errorf("invalid input: documentIds is empty")
	}
	ids := make([]uuid.UUID, 0, len(input.DocumentIDs))
	for _, raw := range input.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid input: bad document id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}

	s.progress(ctx, job, 10, "export", fmt.Sprintf("bundling %d documents", len(ids)))
	result, err := s.exporter.Export(ctx, ExportOptions{
		UserID:             input.UserID,
		DocumentIDs:        ids,
		IncludeConnections: input.IncludeConnections,
		IncludeAnnotations: input.IncludeAnnotations,
	})
	if err != nil {
		return nil, err
	}
	s.progress(ctx, job, 100, "export", "archive ready")

	return map[string]interface{}{
		"key":            result.Key,
		"signed_url":     result.SignedURL,
		"size":           result.Size,
		"document_count": result.Documents,
	}, nil
}

// HandleImportDocument rebuilds one document from its stored artifacts.
// When no connections.json came along and the job asks for it, a
// detect_connections run is queued instead of re-spending on inference
// for data the archive already had.
func (s *Service) HandleImportDocument(ctx context.Context, job *jobs.Job) (map[string]interface{}, error) {
	input, err := jobs.DecodeInput[jobs.ImportDocumentInput](job)
	if err != nil {
		return nil, err
	}
	docID, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid input: bad documentId %q: %w", input.DocumentID, err)
	}

	s.progress(ctx, job, 10, "import", fmt.Sprintf("mode %s", input.Mode))
	result, err := s.importer.Import(ctx, ImportOptions{
		UserID:               input.UserID,
		DocumentID:           docID,
		Mode:                 input.Mode,
		RegenerateEmbeddings: input.RegenerateEmbeddings,
	})
	if err != nil {
		return nil, err
	}

	if input.ReprocessConnections && !result.HasConnectionsFile && !result.Skipped {
		docIDStr := docID.String()
		if _, err := s.queue.Enqueue(ctx, input.UserID, jobs.TypeDetectConnections, &docIDStr,
			map[string]interface{}{"documentId": docIDStr}, s.cfg.Worker.MaxRetries); err != nil {
			return nil, fmt.Errorf("enqueue detect_connections: %w", err)
		}
	}
	s.progress(ctx, job, 100, "import", "import complete")

	return map[string]interface{}{
		"document_id":          input.DocumentID,
		"mode":                 result.Mode,
		"skipped":              result.Skipped,
		"reinstated":           result.Reinstated,
		"inserted":             result.Inserted,
		"updated":              result.Updated,
		"deleted":              result.Deleted,
		"orphaned_annotations": result.OrphanedAnnotations,
		"annotations_imported": result.AnnotationsImported,
		"connections_imported": result.ConnectionsImported,
		"embedded":             result.Embedded,
		"recovery":             result.Recovery,
	}, nil
}

func (s *Service) progress(ctx context.Context, job *jobs.Job, percent int, stage, details string) {
	if err := s.queue.UpdateProgress(ctx, job.ID, jobs.Progress{
		Percent: percent,
		Stage:   stage,
		Details: details,
	}); err != nil {
		s.log.Warn("progress update failed",
			slog.String("job_id", job.ID),
			logger.Error(err),
		)
	}
}
