package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhizome-app/rhizome/internal/storage"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Pause-safe pipeline stages. Only these boundaries write checkpoints.
const (
	StageExtraction = "extraction"
	StageCleanup    = "cleanup"
	StageChunking   = "chunking"
	StageEmbedding  = "embedding"
	StageCompletion = "completion"
)

// nextStageAfter maps a checkpointed stage to the stage a resumed handler
// continues from.
var nextStageAfter = map[string]string{
	StageExtraction: StageChunking,
	StageCleanup:    StageChunking,
	StageChunking:   StageEmbedding,
	StageEmbedding:  StageCompletion,
}

// NextStageAfter returns the resume stage for a checkpointed stage
func NextStageAfter(stage string) (string, bool) {
	next, ok := nextStageAfter[stage]
	return next, ok
}

// IsPauseSafe returns true if the stage boundary may be checkpointed
func IsPauseSafe(stage string) bool {
	_, ok := nextStageAfter[stage]
	return ok
}

// CheckpointEnvelope is the JSON document written to storage at
// {user}/{doc}/stage-{stage}.json
type CheckpointEnvelope struct {
	Version   string          `json:"version"`
	Stage     string          `json:"stage"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// CheckpointHash returns the first 16 hex characters of the SHA-256 of the
// serialized checkpoint data
func CheckpointHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// CheckpointManager persists pause-safe stage outputs to storage and records
// their location and hash on the job row.
type CheckpointManager struct {
	store *storage.Service
	queue *Queue
	log   *slog.Logger
}

// NewCheckpointManager creates a checkpoint manager
func NewCheckpointManager(store *storage.Service, queue *Queue, log *slog.Logger) *CheckpointManager {
	return &CheckpointManager{
		store: store,
		queue: queue,
		log:   log.With(logger.Scope("checkpoint")),
	}
}

// Save writes a checkpoint envelope for the given stage and updates the job
// row with its path, stage and content hash. The stage must be pause-safe.
func (m *CheckpointManager) Save(ctx context.Context, job *Job, stage string, data interface{}) error {
	if !IsPauseSafe(stage) {
		return fmt.Errorf("stage %q is not pause-safe", stage)
	}
	if job.DocumentID == nil {
		return fmt.Errorf("job %s has no document", job.ID)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal checkpoint data: %w", err)
	}

	envelope := CheckpointEnvelope{
		Version:   "1.0",
		Stage:     stage,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}

	key := storage.DocumentKey(job.UserID, *job.DocumentID, fmt.Sprintf("stage-%s.json", stage))
	if _, err := m.store.WriteJSON(ctx, key, envelope); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", key, err)
	}

	hash := CheckpointHash(raw)
	if err := m.queue.SetCheckpoint(ctx, job.ID, key, stage, hash); err != nil {
		return fmt.Errorf("record checkpoint on job: %w", err)
	}

	job.LastCheckpointPath = &key
	job.LastCheckpointStage = &stage
	job.CheckpointHash = &hash

	m.log.Debug("checkpoint saved",
		slog.String("job_id", job.ID),
		slog.String("stage", stage),
		slog.String("hash", hash),
	)

	return nil
}

// LoadResult is a verified checkpoint ready for resumption
type LoadResult struct {
	Stage     string
	NextStage string
	Data      json.RawMessage
}

// Load downloads the job's last checkpoint, verifies its hash against the job
// row, and returns the data plus the stage to resume from.
//
// A missing file or a hash mismatch is not an error: it returns (nil, nil) and
// the caller re-executes from scratch. The anomaly is logged and counted.
func (m *CheckpointManager) Load(ctx context.Context, job *Job) (*LoadResult, error) {
	if job.LastCheckpointPath == nil || job.LastCheckpointStage == nil {
		return nil, nil
	}

	var envelope CheckpointEnvelope
	if err := m.store.ReadJSON(ctx, *job.LastCheckpointPath, &envelope); err != nil {
		m.log.Warn("checkpoint file unreadable, falling back to fresh execution",
			slog.String("job_id", job.ID),
			slog.String("path", *job.LastCheckpointPath),
			logger.Error(err),
		)
		checkpointFallbacks.Inc()
		return nil, nil
	}

	hash := CheckpointHash(envelope.Data)
	if job.CheckpointHash == nil || hash != *job.CheckpointHash {
		stored := ""
		if job.CheckpointHash != nil {
			stored = *job.CheckpointHash
		}
		m.log.Warn("checkpoint hash mismatch, falling back to fresh execution",
			slog.String("job_id", job.ID),
			slog.String("stage", envelope.Stage),
			slog.String("computed", hash),
			slog.String("stored", stored),
		)
		checkpointFallbacks.Inc()
		return nil, nil
	}

	next, ok := NextStageAfter(envelope.Stage)
	if !ok {
		m.log.Warn("checkpoint stage has no successor, falling back",
			slog.String("job_id", job.ID),
			slog.String("stage", envelope.Stage),
		)
		checkpointFallbacks.Inc()
		return nil, nil
	}

	return &LoadResult{
		Stage:     envelope.Stage,
		NextStage: next,
		Data:      envelope.Data,
	}, nil
}
