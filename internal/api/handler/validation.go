package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/service"
)

// ValidationHandler exposes catalog validation runs and the per-record job queue.
type ValidationHandler struct {
	catalog *service.CatalogService
}

// NewValidationHandler creates a new validation handler.
// Parameters:
//   - catalog: catalog service instance.
// Returns:
//   - *ValidationHandler: initialized handler.
func NewValidationHandler(catalog *service.CatalogService) *ValidationHandler {
	return &ValidationHandler{catalog: catalog}
}

// CatalogValidationRequest starts a catalog validation run. Omitted fields
// keep the configured defaults; empty ids validate the whole catalog.
type CatalogValidationRequest struct {
	IDs        []string `json:"ids"`
	BatchSize  int      `json:"batch_size" binding:"omitempty,min=1,max=1000"`
	MaxBatches int      `json:"max_batches" binding:"omitempty,min=0"`
	PauseMs    *int64   `json:"pause_ms" binding:"omitempty,min=0"`
	WebSearch  *bool    `json:"web_search"`
}

// CatalogValidationStatus is the body of GET /api/v1/validation/catalog.
type CatalogValidationStatus struct {
	Status     service.RunStatus         `json:"status"`
	LastResult *service.ValidationResult `json:"last_result,omitempty"`
}

// JobsRequest queues per-record validation jobs.
type JobsRequest struct {
	IDs     []string `json:"ids" binding:"required,min=1"`
	Sources []string `json:"sources"`
}

// JobsResponse lists queued jobs with aggregate counts.
type JobsResponse struct {
	Jobs  []domain.ValidationJob `json:"jobs"`
	Stats service.QueueStats     `json:"stats"`
}

// StartCatalogValidation handles POST /api/v1/validation/catalog. The run
// continues in the background; poll GetCatalogValidation for progress.
func (h *ValidationHandler) StartCatalogValidation(c *gin.Context) {
	var req CatalogValidationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	opts := &service.ValidationOptions{
		BatchSize:  req.BatchSize,
		MaxBatches: req.MaxBatches,
		WebSearch:  req.WebSearch,
	}
	if req.PauseMs != nil {
		pause := time.Duration(*req.PauseMs) * time.Millisecond
		opts.Pause = &pause
	}

	if err := h.catalog.StartValidation(req.IDs, opts); err != nil {
		abortWithError(c, err)
		return
	}

	logger.CtxInfo(c.Request.Context(), "Catalog validation started: records=%d, batch_size=%d, max_batches=%d",
		len(req.IDs), req.BatchSize, req.MaxBatches)
	c.JSON(http.StatusAccepted, gin.H{"message": "Catalog validation started"})
}

// GetCatalogValidation handles GET /api/v1/validation/catalog.
func (h *ValidationHandler) GetCatalogValidation(c *gin.Context) {
	c.JSON(http.StatusOK, CatalogValidationStatus{
		Status:     h.catalog.Validator().Status(),
		LastResult: h.catalog.LastResult(),
	})
}

// CancelCatalogValidation handles POST /api/v1/validation/catalog/cancel.
func (h *ValidationHandler) CancelCatalogValidation(c *gin.Context) {
	if !h.catalog.Validator().Status().Running {
		c.JSON(http.StatusConflict, gin.H{"error": "no validation run in progress"})
		return
	}
	h.catalog.Validator().Cancel()
	logger.CtxInfo(c.Request.Context(), "Catalog validation cancel requested")
	c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation requested"})
}

// queue returns the job queue or writes 503 when none is configured.
func (h *ValidationHandler) queue(c *gin.Context) *service.ValidationQueue {
	q := h.catalog.Queue()
	if q == nil {
		abortWithError(c, service.ErrNoProvider)
	}
	return q
}

// AddJobs handles POST /api/v1/validation/jobs.
func (h *ValidationHandler) AddJobs(c *gin.Context) {
	if h.queue(c) == nil {
		return
	}
	var req JobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	jobs, err := h.catalog.ValidateSelected(req.IDs, req.Sources)
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.With(logger.Fields{
		logger.FieldCount: len(jobs),
	}).Info(c.Request.Context(), "Validation jobs queued: sources=%v", req.Sources)
	c.JSON(http.StatusAccepted, JobsResponse{Jobs: jobs, Stats: h.catalog.Queue().Stats()})
}

// ListJobs handles GET /api/v1/validation/jobs. The optional status query
// parameter filters by job status.
func (h *ValidationHandler) ListJobs(c *gin.Context) {
	q := h.queue(c)
	if q == nil {
		return
	}
	jobs := q.Jobs()
	if status := c.Query("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	c.JSON(http.StatusOK, JobsResponse{Jobs: jobs, Stats: q.Stats()})
}

// GetJob handles GET /api/v1/validation/jobs/:id.
func (h *ValidationHandler) GetJob(c *gin.Context) {
	q := h.queue(c)
	if q == nil {
		return
	}
	job, ok := q.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// PauseJobs handles POST /api/v1/validation/jobs/pause.
func (h *ValidationHandler) PauseJobs(c *gin.Context) {
	q := h.queue(c)
	if q == nil {
		return
	}
	q.Pause()
	c.JSON(http.StatusOK, q.Stats())
}

// ResumeJobs handles POST /api/v1/validation/jobs/resume.
func (h *ValidationHandler) ResumeJobs(c *gin.Context) {
	q := h.queue(c)
	if q == nil {
		return
	}
	q.Resume()
	c.JSON(http.StatusOK, q.Stats())
}

// ApplyJobs handles POST /api/v1/validation/jobs/apply.
func (h *ValidationHandler) ApplyJobs(c *gin.Context) {
	if h.queue(c) == nil {
		return
	}
	applied, err := h.catalog.ApplyCompletedJobs(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// ClearJobs handles DELETE /api/v1/validation/jobs. In-flight work is
// aborted and the queue is left paused.
func (h *ValidationHandler) ClearJobs(c *gin.Context) {
	q := h.queue(c)
	if q == nil {
		return
	}
	q.ClearAllJobs()
	logger.CtxWarn(c.Request.Context(), "All validation jobs cleared")
	c.JSON(http.StatusOK, q.Stats())
}

// ClearFinishedJobs handles DELETE /api/v1/validation/jobs/finished.
func (h *ValidationHandler) ClearFinishedJobs(c *gin.Context) {
	q := h.queue(c)
	if q == nil {
		return
	}
	removed := q.ClearFinishedJobs()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
