package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/minhvtq/streamgate/internal/api/dto"
	"github.com/minhvtq/streamgate/internal/queue"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger             *slog.Logger
	queues             *queue.Set
	reporter           *queue.Reporter
	defaultMaxAttempts int
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:             deps.Logger,
		queues:             deps.Queues,
		reporter:           deps.Reporter,
		defaultMaxAttempts: deps.DefaultMaxAttempts,
	}
}

// SubmitJob handles POST /api/v1/jobs
// Enqueues a job on one of the service queues.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	q, ok := h.queues.ByName(req.Queue)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown queue: " + req.Queue,
		})
		return
	}

	jobType := queue.JobType(req.JobType)
	if !q.Handles(jobType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "queue " + req.Queue + " does not handle job type " + req.JobType,
		})
		return
	}

	payload, err := queue.ParsePayload(jobType, req.Payload)
	if err != nil {
		h.logger.Error("Invalid job payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid job payload",
		})
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = h.defaultMaxAttempts
	}

	job, err := q.Add(payload, req.Priority, maxAttempts)
	if err != nil {
		h.logger.Error("Failed to enqueue job", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "queue is shutting down",
		})
		return
	}

	c.JSON(http.StatusAccepted, jobDTO(req.Queue, job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns a snapshot of a job, searching every queue.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	for _, q := range h.queues.All() {
		if job, ok := q.Job(jobID); ok {
			c.JSON(http.StatusOK, jobDTO(q.Name(), job))
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{
		"error": "job not found",
	})
}

// Stats handles GET /api/v1/jobs/stats
// Returns per-queue job counts.
func (h *JobHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.reporter.Report())
}
