package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/internal/jobs"
	"github.com/rhizome-app/rhizome/internal/storage"
	"github.com/rhizome-app/rhizome/internal/version"
	"github.com/rhizome-app/rhizome/pkg/apperror"
	"github.com/rhizome-app/rhizome/pkg/extract"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

const defaultListLimit = 50

// RouteParams are the dependencies for the admin API routes
type RouteParams struct {
	fx.In

	Echo    *echo.Echo
	Config  *config.Config
	DB      *bun.DB
	Queue   *jobs.Queue
	Worker  *jobs.Worker
	Storage *storage.Service
	Docling *extract.DoclingClient
	Log     *slog.Logger
}

type routes struct {
	cfg     *config.Config
	db      *bun.DB
	queue   *jobs.Queue
	worker  *jobs.Worker
	storage *storage.Service
	docling *extract.DoclingClient
	log     *slog.Logger
}

// RegisterRoutes mounts the health, metrics and job admin endpoints
func RegisterRoutes(p RouteParams) {
	r := &routes{
		cfg:     p.Config,
		db:      p.DB,
		queue:   p.Queue,
		worker:  p.Worker,
		storage: p.Storage,
		docling: p.Docling,
		log:     p.Log.With(logger.Scope("server.routes")),
	}

	e := p.Echo
	e.GET("/health", r.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/jobs")
	g.GET("", r.listJobs)
	g.POST("", r.createJob)
	g.GET("/stats", r.jobStats)
	g.GET("/:id", r.getJob)
	g.POST("/:id/pause", r.pauseJob)
	g.POST("/:id/resume", r.resumeJob)
	g.POST("/:id/cancel", r.cancelJob)
	g.POST("/:id/retry", r.retryJob)
	g.DELETE("/:id", r.removeJob)
}

func (r *routes) health(c echo.Context) error {
	ctx := c.Request().Context()
	healthy := true

	checks := map[string]string{}

	if err := r.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if r.cfg.Extractor.Enabled {
		if resp, err := r.docling.HealthCheck(ctx); err != nil || resp.Status != "ok" {
			// extraction degrades to the native path, so this is not fatal
			checks["docling"] = "unhealthy"
		} else {
			checks["docling"] = "ok"
		}
	} else {
		checks["docling"] = "disabled"
	}

	if r.storage.Enabled() {
		checks["storage"] = "ok"
	} else {
		checks["storage"] = "disabled"
	}

	if r.worker.IsRunning() {
		checks["worker"] = "ok"
	} else {
		checks["worker"] = "stopped"
		healthy = false
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	return c.JSON(status, map[string]any{
		"status":  overall,
		"checks":  checks,
		"version": version.Info(),
	})
}

func (r *routes) listJobs(c echo.Context) error {
	status := jobs.JobStatus(c.QueryParam("status"))

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperror.NewBadRequest("limit must be a positive integer")
		}
		limit = n
	}

	list, err := r.queue.List(c.Request().Context(), status, limit)
	if err != nil {
		return apperror.NewInternal("failed to list jobs", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"jobs":  list,
		"count": len(list),
	})
}

type createJobRequest struct {
	JobType    string                 `json:"job_type"`
	UserID     string                 `json:"user_id"`
	DocumentID *string                `json:"document_id"`
	Input      map[string]interface{} `json:"input"`
	MaxRetries *int                   `json:"max_retries"`
}

func (r *routes) createJob(c echo.Context) error {
	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.JobType == "" {
		return apperror.NewBadRequest("job_type is required")
	}
	if req.UserID == "" {
		return apperror.NewBadRequest("user_id is required")
	}

	maxRetries := r.cfg.Worker.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	job, err := r.queue.Enqueue(c.Request().Context(), req.UserID, req.JobType, req.DocumentID, req.Input, maxRetries)
	if err != nil {
		return apperror.NewInternal("failed to enqueue job", err)
	}
	return c.JSON(http.StatusCreated, job)
}

func (r *routes) jobStats(c echo.Context) error {
	stats, err := r.queue.GetStats(c.Request().Context())
	if err != nil {
		return apperror.NewInternal("failed to read queue stats", err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (r *routes) getJob(c echo.Context) error {
	id := c.Param("id")
	job, err := r.queue.GetByID(c.Request().Context(), id)
	if err != nil {
		return apperror.NewInternal("failed to get job", err)
	}
	if job == nil {
		return apperror.NewNotFound("job", id)
	}
	return c.JSON(http.StatusOK, job)
}

func (r *routes) pauseJob(c echo.Context) error {
	if err := r.queue.Pause(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *routes) resumeJob(c echo.Context) error {
	if err := r.queue.Resume(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *routes) cancelJob(c echo.Context) error {
	if err := r.queue.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.NewInternal("failed to cancel job", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *routes) retryJob(c echo.Context) error {
	if err := r.queue.Retry(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *routes) removeJob(c echo.Context) error {
	if err := r.queue.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.NewInternal("failed to remove job", err)
	}
	return c.NoContent(http.StatusNoContent)
}
