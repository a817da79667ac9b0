package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/trackgen-be/internal/api/dto"
	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
)

// jobID returns the validated :job_id path parameter
func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Debug("Invalid job_id format", slog.String("job_id", jobID))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with an optional filter and skip/take pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Take <= 0 {
		req.Take = 20
	}
	if req.Take > 100 {
		req.Take = 100
	}
	if req.Skip < 0 {
		req.Skip = 0
	}

	jobs, total, err := h.jobs.List(c.Request.Context(), usecase.JobFilter{
		UserID:  req.UserID,
		Status:  domain.JobStatus(req.Status),
		Type:    domain.JobType(req.JobType),
		TrackID: req.TrackID,
		Skip:    req.Skip,
		Take:    req.Take,
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to list jobs")
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:  dto.NewJobDTOs(jobs),
		Total: total,
		Skip:  req.Skip,
		Take:  req.Take,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get job")
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// Re-enqueues a failed job that still has attempts left
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Retry(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to retry job")
		return
	}

	h.logger.Info("Job retried",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
	)
	c.JSON(http.StatusAccepted, dto.NewJobDTO(job))
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not started
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to cancel job")
		return
	}

	h.logger.Info("Job cancelled", slog.String("job_id", job.ID))
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Permanently deletes a job in a terminal state
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.jobs.Delete(c.Request.Context(), jobID); err != nil {
		respondError(c, h.logger, err, "Failed to delete job")
		return
	}

	h.logger.Info("Job deleted", slog.String("job_id", jobID))
	c.Status(http.StatusNoContent)
}

// JobStats handles GET /api/v1/stats/jobs
func (h *JobHandler) JobStats(c *gin.Context) {
	stats, err := h.jobs.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "Failed to get job stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
