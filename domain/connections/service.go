package connections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/domain/documents"
	"github.com/rhizome-app/rhizome/internal/jobs"
	"github.com/rhizome-app/rhizome/internal/storage"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Service implements the connection detection job handlers
type Service struct {
	queue    *jobs.Queue
	store    *storage.Service
	detector *Detector
	conns    *Repository
	chunks   *chunks.Repository
	docs     *documents.Repository
	log      *slog.Logger
}

// NewService creates the connections service
func NewService(
	queue *jobs.Queue,
	store *storage.Service,
	detector *Detector,
	connRepo *Repository,
	chunkRepo *chunks.Repository,
	docs *documents.Repository,
	log *slog.Logger,
) *Service {
	return &Service{
		queue:    queue,
		store:    store,
		detector: detector,
		conns:    connRepo,
		chunks:   chunkRepo,
		docs:     docs,
		log:      log.With(logger.Scope("connections")),
	}
}

// HandleDetectConnections runs the engine cascade for one document
func (s *Service) HandleDetectConnections(ctx context.Context, job *jobs.Job) (map[string]interface{}, error) {
	input, err := jobs.DecodeInput[jobs.DetectConnectionsInput](job)
	if err != nil {
		return nil, err
	}
	docID, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid input: bad documentId %q: %w", input.DocumentID, err)
	}
	targets, err := parseUUIDs(input.TargetDocumentIDs)
	if err != nil {
		return nil, err
	}

	if err := s.control(ctx, job); err != nil {
		return nil, err
	}

	result, err := s.detector.Run(ctx, RunOptions{
		SourceDocumentID:  docID,
		UserID:            job.UserID,
		EnabledEngines:    input.EnabledEngines,
		TargetDocumentIDs: targets,
		WeightOverrides:   input.Weights,
		Progress:          s.progressFunc(ctx, job, input.EnabledEngines),
	})
	if err != nil {
		return nil, err
	}

	if err := s.chunks.MarkConnectionsDetected(ctx, docID); err != nil {
		return nil, err
	}
	s.progress(ctx, job, 100, "connections", fmt.Sprintf("%d connections", result.Persisted))

	return map[string]interface{}{
		"document_id":      input.DocumentID,
		"connection_count": result.Persisted,
		"engines":          engineCounts(result),
	}, nil
}

// HandleReprocessConnections re-runs detection with one of three modes:
// all wipes and re-detects, smart preserves user-validated rows behind a
// backup, add_new only scans documents added since this one was processed.
func (s *Service) HandleReprocessConnections(ctx context.Context, job *jobs.Job) (map[string]interface{}, error) {
	input, err := jobs.DecodeInput[jobs.ReprocessConnectionsInput](job)
	if err != nil {
		return nil, err
	}
	docID, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid input: bad documentId %q: %w", input.DocumentID, err)
	}

	deleted := 0
	backupFile := ""
	var targets []uuid.UUID

	switch input.Mode {
	case ReprocessAll:
		deleted, err = s.conns.DeleteBySourceDocument(ctx, docID, input.PreserveValidated)
		if err != nil {
			return nil, err
		}

	case ReprocessSmart:
		if input.Backup {
			backupFile, err = s.backupValidated(ctx, job.UserID, docID)
			if err != nil {
				return nil, err
			}
		}
		deleted, err = s.conns.DeleteBySourceDocument(ctx, docID, true)
		if err != nil {
			return nil, err
		}

	case ReprocessAddNew:
		createdAt, err := s.docs.CreatedAtOf(ctx, docID)
		if err != nil {
			return nil, err
		}
		targets, err = s.docs.IDsCreatedAfter(ctx, createdAt, docID)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return map[string]interface{}{
				"document_id":      input.DocumentID,
				"mode":             input.Mode,
				"connection_count": 0,
			}, nil
		}

	default:
		return nil, fmt.Errorf("invalid input: unknown reprocess mode %q", input.Mode)
	}

	s.progress(ctx, job, 10, "reprocess", fmt.Sprintf("mode %s, %d removed", input.Mode, deleted))
	if err := s.control(ctx, job); err != nil {
		return nil, err
	}

	result, err := s.detector.Run(ctx, RunOptions{
		SourceDocumentID:  docID,
		UserID:            job.UserID,
		EnabledEngines:    input.Engines,
		TargetDocumentIDs: targets,
		Progress:          s.progressFunc(ctx, job, input.Engines),
	})
	if err != nil {
		return nil, err
	}

	if err := s.chunks.MarkConnectionsDetected(ctx, docID); err != nil {
		return nil, err
	}
	s.progress(ctx, job, 100, "reprocess", fmt.Sprintf("%d connections", result.Persisted))

	out := map[string]interface{}{
		"document_id":      input.DocumentID,
		"mode":             input.Mode,
		"deleted_count":    deleted,
		"connection_count": result.Persisted,
		"engines":          engineCounts(result),
	}
	if backupFile != "" {
		out["backup_file"] = backupFile
	}
	return out, nil
}

// backupValidated writes the user-validated connections to the document
// folder before they are put at risk by reprocessing.
func (s *Service) backupValidated(ctx context.Context, userID string, docID uuid.UUID) (string, error) {
	validated, err := s.conns.ListValidatedBySourceDocument(ctx, docID)
	if err != nil {
		return "", err
	}
	if len(validated) == 0 {
		return "", nil
	}

	name := BackupFileName(time.Now())
	file := NewConnectionsFile(docID.String(), validated)
	if _, err := s.store.WriteJSON(ctx, storage.DocumentKey(userID, docID.String(), name), file); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	s.log.Info("validated connections backed up",
		slog.String("document_id", docID.String()),
		slog.String("file", name),
		slog.Int("count", len(validated)),
	)
	return name, nil
}

// progressFunc maps serial engine progress onto the job's 0-95 range
func (s *Service) progressFunc(ctx context.Context, job *jobs.Job, enabled []string) ProgressFunc {
	if len(enabled) == 0 {
		enabled = DefaultEngines()
	}
	position := make(map[string]int, len(enabled))
	for i, name := range enabled {
		position[name] = i
	}
	total := len(enabled)

	return func(engine string, percent int, found int) {
		i := position[engine]
		overall := (i*95 + percent*95/100) / total
		details := ""
		if percent >= 100 {
			details = fmt.Sprintf("%s: %d found", engine, found)
		}
		s.progress(ctx, job, overall, engine, details)
	}
}

func (s *Service) control(ctx context.Context, job *jobs.Job) error {
	status, err := s.queue.CurrentStatus(ctx, job.ID)
	if err != nil {
		return nil
	}
	switch status {
	case jobs.StatusPaused:
		return jobs.ErrJobPaused
	case jobs.StatusCancelled:
		return jobs.ErrJobCancelled
	}
	return nil
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

func engineCounts(result *RunResult) map[string]interface{} {
	counts := make(map[string]interface{}, len(result.ByEngine))
	for name, n := range result.ByEngine {
		counts[name] = n
	}
	return counts
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid input: bad document id %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
