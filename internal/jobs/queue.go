package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Queue provides background_jobs operations using PostgreSQL.
// Claim uses FOR UPDATE SKIP LOCKED so multiple worker processes are safe.
type Queue struct {
	db  bun.IDB
	log *slog.Logger
}

// NewQueue creates a new job queue
func NewQueue(db bun.IDB, log *slog.Logger) *Queue {
	return &Queue{
		db:  db,
		log: log.With(logger.Scope("jobs.queue")),
	}
}

// Enqueue inserts a new pending job. Enqueue is idempotent per
// (job_type, document_id): if an active job of the same type already exists
// for the document, that job is returned instead of creating a duplicate.
func (q *Queue) Enqueue(ctx context.Context, userID, jobType string, documentID *string, input map[string]interface{}, maxRetries int) (*Job, error) {
	if documentID != nil {
		existing := &Job{}
		err := q.db.NewSelect().
			Model(existing).
			Where("job_type = ?", jobType).
			Where("document_id = ?", *documentID).
			Where("status IN ('pending', 'processing', 'paused')").
			Limit(1).
			Scan(ctx)
		if err == nil {
			q.log.Debug("enqueue skipped, active job exists",
				slog.String("job_type", jobType),
				slog.String("document_id", *documentID),
				slog.String("job_id", existing.ID),
			)
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check active job: %w", err)
		}
	}

	if input == nil {
		input = map[string]interface{}{}
	}
	job := &Job{
		UserID:     userID,
		JobType:    jobType,
		Status:     StatusPending,
		DocumentID: documentID,
		InputData:  input,
		MaxRetries: maxRetries,
	}

	_, err := q.db.NewInsert().
		Model(job).
		ExcludeColumn("id", "created_at", "updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("enqueue failed: %w", err)
	}

	q.log.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", jobType),
	)

	return job, nil
}

// Claim atomically transitions the single oldest pending job to processing.
// Returns nil when the queue is empty.
//
// The CTE with FOR UPDATE SKIP LOCKED guarantees no two workers observe the
// same job as claimed.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	query := `
		WITH cte AS (
			SELECT id FROM background_jobs
			WHERE status = 'pending'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE background_jobs j
		SET status = 'processing', started_at = now(), updated_at = now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.*`

	job := &Job{}
	err := q.db.NewRaw(query).Scan(ctx, job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}

	return job, nil
}

// UpdateProgress writes the job's progress JSON. Percent never moves
// backwards: the stored value wins if it is larger.
func (q *Queue) UpdateProgress(ctx context.Context, id string, p Progress) error {
	progress, err := marshalJSON(p)
	if err != nil {
		return fmt.Errorf("update progress failed: %w", err)
	}
	_, err = q.db.NewRaw(`
		UPDATE background_jobs
		SET progress = jsonb_set(?::jsonb, '{percent}',
			to_jsonb(GREATEST(COALESCE((progress->>'percent')::int, 0), ?))),
			updated_at = now()
		WHERE id = ?`,
		progress, p.Percent, id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("update progress failed: %w", err)
	}
	return nil
}

// Heartbeat refreshes updated_at for a processing job. Failures here are
// logged by the caller and never fail the job.
func (q *Queue) Heartbeat(ctx context.Context, id string) error {
	_, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = 'processing'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	return nil
}

// Complete marks a job completed with its output summary
func (q *Queue) Complete(ctx context.Context, id string, output map[string]interface{}) error {
	_, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = 'completed'").
		Set("output_data = ?", output).
		Set("error_message = NULL").
		Set("completed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}
	return nil
}

// Fail marks a job failed with a classified, human-readable message.
// Transient failures with retry budget left get a next_retry_at computed by
// the backoff schedule; everything else stays failed with no retry.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	kind := ClassifyError(cause)
	msg := truncateError(HumanMessage(kind, cause))

	var nextRetry *time.Time
	if kind.Retryable() && job.RetryCount < job.MaxRetries {
		t := time.Now().Add(RetryDelay(job.RetryCount))
		nextRetry = &t
	}

	_, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = 'failed'").
		Set("error_message = ?", msg).
		Set("next_retry_at = ?", nextRetry).
		Set("updated_at = now()").
		Where("id = ?", job.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark failed failed: %w", err)
	}

	q.log.Warn("job failed",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.JobType),
		slog.String("kind", string(kind)),
		slog.Int("retry_count", job.RetryCount),
		slog.Bool("will_retry", nextRetry != nil),
		logger.Error(cause),
	)

	return nil
}

// Pause transitions a pending or processing job to paused. The claiming
// handler observes the flip at its next status poll and exits cleanly.
func (q *Queue) Pause(ctx context.Context, id string) error {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = 'paused'").
		Set("paused_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN ('pending', 'processing')").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("pause failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not pausable", id)
	}
	return nil
}

// Resume transitions a paused job back to pending and bumps resume_count
func (q *Queue) Resume(ctx context.Context, id string) error {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = 'pending'").
		Set("resume_count = resume_count + 1").
		Set("resumed_at = now()").
		Set("error_message = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = 'paused'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not paused", id)
	}
	return nil
}

// Retry requeues a failed job immediately, regardless of its remaining
// retry budget. The error message is kept on the row until the next attempt
// overwrites it.
func (q *Queue) Retry(ctx context.Context, id string) error {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = 'pending'").
		Set("next_retry_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = 'failed'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not failed", id)
	}
	return nil
}

// Cancel marks a job cancelled. Cancelled is terminal and ignored by the
// worker.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	_, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = 'cancelled'").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status NOT IN ('completed', 'cancelled')").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	return nil
}

// Remove deletes a job row
func (q *Queue) Remove(ctx context.Context, id string) error {
	_, err := q.db.NewDelete().
		Model((*Job)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	return nil
}

// GetByID retrieves a job. Returns nil when not found.
func (q *Queue) GetByID(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	err := q.db.NewSelect().
		Model(job).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return job, nil
}

// CurrentStatus reads only the status column. Handlers poll this at safe
// points to observe pause/cancel flips.
func (q *Queue) CurrentStatus(ctx context.Context, id string) (JobStatus, error) {
	var status JobStatus
	err := q.db.NewSelect().
		Model((*Job)(nil)).
		Column("status").
		Where("id = ?", id).
		Scan(ctx, &status)
	if err != nil {
		return "", fmt.Errorf("read status failed: %w", err)
	}
	return status, nil
}

// SetCheckpoint records a checkpoint's path, stage and hash on the job row
// and marks the progress checkpoint resumable.
func (q *Queue) SetCheckpoint(ctx context.Context, id, path, stage, hash string) error {
	ref, err := marshalJSON(CheckpointRef{
		Stage:     stage,
		Path:      path,
		Timestamp: time.Now().UTC(),
		CanResume: true,
	})
	if err != nil {
		return fmt.Errorf("set checkpoint failed: %w", err)
	}
	_, err = q.db.NewRaw(`
		UPDATE background_jobs
		SET last_checkpoint_path = ?,
			last_checkpoint_stage = ?,
			checkpoint_hash = ?,
			progress = jsonb_set(progress, '{checkpoint}', ?::jsonb),
			updated_at = now()
		WHERE id = ?`,
		path, stage, hash, ref, id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("set checkpoint failed: %w", err)
	}
	return nil
}

// RunRetryPass resets retry-eligible failed jobs back to pending.
// Eligibility: status=failed, retry budget remaining, next_retry_at due.
// next_retry_at is only ever set for transient failures, so its presence
// encodes the classification.
func (q *Queue) RunRetryPass(ctx context.Context) (int, error) {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = 'pending'").
		Set("error_message = NULL").
		Set("retry_count = retry_count + 1").
		Set("next_retry_at = NULL").
		Set("resumed_at = now()").
		Set("updated_at = now()").
		Where("status = 'failed'").
		Where("retry_count < max_retries").
		Where("next_retry_at IS NOT NULL").
		Where("next_retry_at <= now()").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("retry pass failed: %w", err)
	}

	count, _ := res.RowsAffected()
	if count > 0 {
		q.log.Info("retry pass requeued jobs", slog.Int64("count", count))
	}
	return int(count), nil
}

// RecoverStaleJobs resets processing jobs whose heartbeat went silent.
// A job is stale when updated_at is older than the threshold.
func (q *Queue) RecoverStaleJobs(ctx context.Context, threshold time.Duration) (int, error) {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = 'pending'").
		Set("started_at = NULL").
		Set("updated_at = now()").
		Where("status = 'processing'").
		Where("updated_at < now() - (? || ' seconds')::interval", int(threshold.Seconds())).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs failed: %w", err)
	}

	count, _ := res.RowsAffected()
	if count > 0 {
		q.log.Warn("recovered stale jobs",
			slog.Int64("count", count),
			slog.Duration("threshold", threshold),
		)
	}
	return int(count), nil
}

// Stats represents queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Paused     int64 `json:"paused"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'paused') AS paused,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM background_jobs`).
		Scan(&stats.Pending, &stats.Processing, &stats.Paused, &stats.Completed, &stats.Failed, &stats.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}
	return stats, nil
}

// List returns recent jobs, newest first, optionally filtered by status
func (q *Queue) List(ctx context.Context, status JobStatus, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []Job
	query := q.db.NewSelect().
		Model(&jobs).
		Order("created_at DESC").
		Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list jobs failed: %w", err)
	}
	return jobs, nil
}

// HumanMessage builds the single classification message surfaced in
// error_message. Stack traces stay in the logs.
func HumanMessage(kind ErrorKind, err error) string {
	switch kind {
	case ErrorTransient:
		return fmt.Sprintf("Temporary failure, will retry automatically: %v", err)
	case ErrorPaywall:
		return fmt.Sprintf("Provider quota or billing limit reached: %v", err)
	case ErrorInvalid:
		return fmt.Sprintf("Input cannot be processed: %v", err)
	default:
		return fmt.Sprintf("Processing failed: %v", err)
	}
}

// truncateError truncates an error message to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}

// marshalJSON marshals v for embedding into raw SQL parameters
func marshalJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %T: %w", v, err)
	}
	return string(raw), nil
}
