package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// ErrJobPaused is returned by a handler that observed a pause request at a
// safe point. The worker exits cleanly without marking the job failed.
var ErrJobPaused = errors.New("job paused")

// ErrJobCancelled is returned by a handler that observed a cancel request.
var ErrJobCancelled = errors.New("job cancelled")

// Handler processes one claimed job and returns the output summary stored in
// output_data.
type Handler func(ctx context.Context, job *Job) (map[string]interface{}, error)

// Registry maps job types to their handlers. Domain modules register
// handlers during fx startup, before the worker loop starts.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type. Last registration wins.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for a job type
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Worker is the single-process polling loop that claims and dispatches jobs.
// One job is processed at a time; handlers may fan out internally.
type Worker struct {
	queue    *Queue
	registry *Registry
	cfg      config.WorkerConfig
	log      *slog.Logger

	cron      *cron.Cron
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex
}

// NewWorker creates the job worker
func NewWorker(queue *Queue, registry *Registry, cfg *config.Config, log *slog.Logger) *Worker {
	return &Worker{
		queue:    queue,
		registry: registry,
		cfg:      cfg.Worker,
		log:      log.With(logger.Scope("jobs.worker")),
	}
}

// Start begins the polling loop and the retry/stale-recovery schedule
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	// Stale jobs from a previous crash become claimable immediately
	threshold := time.Duration(w.cfg.StaleThresholdSec) * time.Second
	if n, err := w.queue.RecoverStaleJobs(ctx, threshold); err != nil {
		w.log.Warn("startup stale recovery failed", logger.Error(err))
	} else if n > 0 {
		staleJobsRecovered.Add(float64(n))
	}

	w.cron = cron.New(cron.WithSeconds())
	sweep := fmt.Sprintf("*/%d * * * * *", w.cfg.RetrySweepSec)
	if _, err := w.cron.AddFunc(sweep, w.runSweep); err != nil {
		return fmt.Errorf("schedule retry sweep: %w", err)
	}
	w.cron.Start()

	w.log.Info("worker starting",
		slog.Duration("poll_interval", w.cfg.PollInterval()),
		slog.Int("retry_sweep_sec", w.cfg.RetrySweepSec),
	)

	go w.run()

	return nil
}

// Stop gracefully stops the worker, waiting for the in-flight job
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	if w.cron != nil {
		w.cron.Stop()
	}

	w.log.Debug("waiting for worker to stop...")

	select {
	case <-w.stoppedCh:
		w.log.Info("worker stopped gracefully")
	case <-ctx.Done():
		w.log.Warn("worker stop timeout, forcing shutdown")
	}

	return nil
}

// IsRunning returns whether the worker loop is active
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run is the main polling loop
func (w *Worker) run() {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	ctx := context.Background()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processNext(ctx)
		}
	}
}

// runSweep requeues due transient failures and recovers silent jobs
func (w *Worker) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if n, err := w.queue.RunRetryPass(ctx); err != nil {
		w.log.Warn("retry pass failed", logger.Error(err))
	} else if n > 0 {
		jobsRetried.Add(float64(n))
	}

	threshold := time.Duration(w.cfg.StaleThresholdSec) * time.Second
	if n, err := w.queue.RecoverStaleJobs(ctx, threshold); err != nil {
		w.log.Warn("stale recovery failed", logger.Error(err))
	} else if n > 0 {
		staleJobsRecovered.Add(float64(n))
	}
}

// processNext claims and runs at most one job
func (w *Worker) processNext(ctx context.Context) {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		w.log.Warn("claim failed", logger.Error(err))
		return
	}
	if job == nil {
		return
	}

	jobsProcessed.WithLabelValues(job.JobType).Inc()

	log := w.log.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", job.JobType),
	)
	log.Info("job claimed",
		slog.Int("retry_count", job.RetryCount),
		slog.Int("resume_count", job.ResumeCount),
	)

	handler, ok := w.registry.Get(job.JobType)
	if !ok {
		err := fmt.Errorf("unknown job type %q", job.JobType)
		if failErr := w.queue.Fail(ctx, job, err); failErr != nil {
			log.Error("failed to mark job failed", logger.Error(failErr))
		}
		jobsFailed.WithLabelValues(job.JobType, string(ErrorInvalid)).Inc()
		return
	}

	// Heartbeat runs until the handler returns, on every exit path
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go w.heartbeat(hbCtx, job.ID, hbDone)

	started := time.Now()
	output, handlerErr := handler(ctx, job)

	stopHeartbeat()
	<-hbDone

	switch {
	case handlerErr == nil:
		if err := w.queue.Complete(ctx, job.ID, output); err != nil {
			log.Error("failed to mark job completed", logger.Error(err))
			return
		}
		jobsSucceeded.WithLabelValues(job.JobType).Inc()
		log.Info("job completed", slog.Duration("took", time.Since(started)))

	case errors.Is(handlerErr, ErrJobPaused):
		// Status was already flipped to paused by the server action;
		// the handler checkpointed and exited cleanly.
		jobsPaused.WithLabelValues(job.JobType).Inc()
		log.Info("job paused", slog.Duration("took", time.Since(started)))

	case errors.Is(handlerErr, ErrJobCancelled):
		log.Info("job cancelled", slog.Duration("took", time.Since(started)))

	default:
		kind := ClassifyError(handlerErr)
		if err := w.queue.Fail(ctx, job, handlerErr); err != nil {
			log.Error("failed to mark job failed", logger.Error(err))
		}
		jobsFailed.WithLabelValues(job.JobType, string(kind)).Inc()
	}
}

// heartbeat refreshes updated_at until its context is cancelled.
// Failures are logged and counted, never propagated.
func (w *Worker) heartbeat(ctx context.Context, jobID string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(context.Background(), jobID); err != nil {
				heartbeatFailures.Inc()
				w.log.Warn("heartbeat write failed",
					slog.String("job_id", jobID),
					logger.Error(err),
				)
				continue
			}
			heartbeatsWritten.Inc()
		}
	}
}
