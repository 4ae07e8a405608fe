package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mediaflow/jobqueue/internal/api/dto"
	"github.com/mediaflow/jobqueue/internal/jobstore"
	"github.com/mediaflow/jobqueue/internal/pipeline"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// validatePayload runs the pipeline boundary validation for the kind, so a
// payload that can never process is rejected at submission instead of at the
// worker.
func validatePayload(req *dto.CreateJobRequest) error {
	switch req.Kind {
	case pipeline.KindTranscription:
		_, err := pipeline.DecodeTranscription(req.Payload)
		return err
	case pipeline.KindScreenshot:
		_, err := pipeline.DecodeScreenshot(req.Payload)
		return err
	default:
		return fmt.Errorf("%w: %q", pipeline.ErrUnknownKind, req.Kind)
	}
}

// CreateJob handles POST /api/v1/jobs.
// The record is written first, the queue message second; a crash between the
// two leaves an unclaimed record the reclaim sweep will pick up.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if err := validatePayload(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
		})
		return
	}

	jobID := uuid.New().String()
	if err := h.store.Create(c.Request.Context(), jobID, req.Kind, req.Payload); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	envelope := fmt.Sprintf(`{"job_id":%q}`, jobID)
	if err := h.sender.Send(c.Request.Context(), []byte(envelope)); err != nil {
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Job created but not enqueued; it will be reclaimed",
			"job_id": jobID,
		})
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", jobID),
		slog.String("kind", req.Kind),
	)

	c.JSON(http.StatusCreated, gin.H{
		"job_id": jobID,
		"kind":   req.Kind,
		"status": string(jobstore.StatusUnclaimed),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(job))
}

// ListJobs handles GET /api/v1/jobs with kind/status filters and keyset
// pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	pageSize := defaultPageSize
	if raw := c.Query("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "page_size must be a positive integer",
			})
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		pageSize = n
	}

	cursor, err := DecodeJobCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid cursor",
		})
		return
	}

	filter := jobstore.Filter{
		Kind:     c.Query("kind"),
		Status:   c.Query("status"),
		PageSize: pageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobResponse, 0, len(jobs))}
	if len(jobs) > pageSize {
		last := jobs[pageSize-1]
		resp.NextCursor = EncodeJobCursor(&jobstore.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
		jobs = jobs[:pageSize]
	}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(&jobs[i]))
	}

	c.JSON(http.StatusOK, resp)
}

// ResetJob handles POST /api/v1/jobs/:job_id/reset. This is the operator
// escape hatch; it returns a job to unclaimed from any state, including
// terminal ones.
func (h *JobHandler) ResetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.store.Reset(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, jobstore.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to reset job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to reset job",
		})
		return
	}

	envelope := fmt.Sprintf(`{"job_id":%q}`, jobID)
	if err := h.sender.Send(c.Request.Context(), []byte(envelope)); err != nil {
		h.logger.Warn("Reset job not re-enqueued; reclaim will pick it up",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("Job reset", slog.String("job_id", jobID))
	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": string(jobstore.StatusUnclaimed),
	})
}

// ListReclaimable handles GET /api/v1/jobs/reclaimable: the jobs a worker
// sweep would pick up right now.
func (h *JobHandler) ListReclaimable(c *gin.Context) {
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	ids, err := h.store.FindReclaimable(c.Request.Context(), limit, h.worker.StalenessThreshold())
	if err != nil {
		h.logger.Error("Failed to list reclaimable jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list reclaimable jobs",
		})
		return
	}
	if ids == nil {
		ids = []string{}
	}

	c.JSON(http.StatusOK, dto.ReclaimableResponse{
		JobIDs: ids,
		Count:  len(ids),
	})
}

// WorkerStatus handles GET /api/v1/worker/status with a store-side view of
// the processing backlog.
func (h *JobHandler) WorkerStatus(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get job stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job stats",
		})
		return
	}

	ids, err := h.store.FindReclaimable(c.Request.Context(), maxPageSize, h.worker.StalenessThreshold())
	if err != nil {
		h.logger.Error("Failed to count reclaimable jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count reclaimable jobs",
		})
		return
	}

	counts := make(map[string]int, len(stats))
	for status, n := range stats {
		counts[string(status)] = n
	}

	c.JSON(http.StatusOK, dto.WorkerStatusResponse{
		StatusCounts: counts,
		Reclaimable:  len(ids),
	})
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	if h.dbHealth != nil {
		if err := h.dbHealth.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "jobqueue-api",
	})
}

func toJobResponse(job *jobstore.Job) dto.JobResponse {
	resp := dto.JobResponse{
		JobID:        job.JobID,
		Kind:         job.Kind,
		Payload:      job.Payload,
		Status:       string(job.Status),
		AttemptCount: job.AttemptCount,
		Result:       job.Result,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if job.ClaimedAt.Valid {
		t := job.ClaimedAt.Time
		resp.ClaimedAt = &t
	}
	if job.ClaimedBy.Valid {
		resp.ClaimedBy = job.ClaimedBy.String
	}
	if job.LastError.Valid {
		resp.LastError = job.LastError.String
	}
	if job.FinalizedAt.Valid {
		t := job.FinalizedAt.Time
		resp.FinalizedAt = &t
	}
	return resp
}
