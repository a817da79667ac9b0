package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/trackgen-be/internal/api/dto"
	"github.com/cuongbtq/trackgen-be/internal/queue"
)

// queueName returns the :queue path parameter when it is a known queue
func (h *QueueHandler) queueName(c *gin.Context) (string, bool) {
	name := c.Param("queue")
	if !h.known[name] {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "unknown queue " + name,
		})
		return "", false
	}
	return name, true
}

// QueueStats handles GET /api/v1/queues/:queue/stats
func (h *QueueHandler) QueueStats(c *gin.Context) {
	name, ok := h.queueName(c)
	if !ok {
		return
	}

	stats, err := h.queue.GetQueueStats(c.Request.Context(), name)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get queue stats")
		return
	}
	c.JSON(http.StatusOK, dto.NewQueueStatsDTO(name, stats))
}

// ListQueueJobs handles GET /api/v1/queues/:queue/jobs
func (h *QueueHandler) ListQueueJobs(c *gin.Context) {
	name, ok := h.queueName(c)
	if !ok {
		return
	}

	var req dto.QueueJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}
	state := queue.State(req.State)
	if state == "" {
		state = queue.StateWaiting
	}
	if !state.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown state " + req.State,
		})
		return
	}
	if req.Take <= 0 || req.Take > 100 {
		req.Take = 20
	}

	infos, err := h.queue.GetJobs(c.Request.Context(), name, state, req.Skip, req.Take)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list queue jobs")
		return
	}

	out := make([]dto.QueueJobDTO, len(infos))
	for i, info := range infos {
		out[i] = dto.NewQueueJobDTO(info)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

// GetQueueJob handles GET /api/v1/queues/:queue/jobs/:id
func (h *QueueHandler) GetQueueJob(c *gin.Context) {
	name, ok := h.queueName(c)
	if !ok {
		return
	}

	info, err := h.queue.GetJob(c.Request.Context(), name, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "Failed to get queue job")
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "queue job not found",
		})
		return
	}
	c.JSON(http.StatusOK, dto.NewQueueJobDTO(info))
}

// PauseQueue handles POST /api/v1/queues/:queue/pause
func (h *QueueHandler) PauseQueue(c *gin.Context) {
	name, ok := h.queueName(c)
	if !ok {
		return
	}
	if err := h.queue.PauseQueue(c.Request.Context(), name); err != nil {
		respondError(c, h.logger, err, "Failed to pause queue")
		return
	}
	h.logger.Info("Queue paused", slog.String("queue", name))
	c.JSON(http.StatusOK, gin.H{"queue": name, "paused": true})
}

// ResumeQueue handles POST /api/v1/queues/:queue/resume
func (h *QueueHandler) ResumeQueue(c *gin.Context) {
	name, ok := h.queueName(c)
	if !ok {
		return
	}
	if err := h.queue.ResumeQueue(c.Request.Context(), name); err != nil {
		respondError(c, h.logger, err, "Failed to resume queue")
		return
	}
	h.logger.Info("Queue resumed", slog.String("queue", name))
	c.JSON(http.StatusOK, gin.H{"queue": name, "paused": false})
}

// CleanQueue handles POST /api/v1/queues/:queue/clean
// Removes completed or failed entries older than the grace period
func (h *QueueHandler) CleanQueue(c *gin.Context) {
	name, ok := h.queueName(c)
	if !ok {
		return
	}

	var req dto.CleanQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	grace := time.Duration(req.GraceSeconds) * time.Second
	removed, err := h.queue.CleanQueue(c.Request.Context(), name, grace, queue.State(req.State))
	if err != nil {
		respondError(c, h.logger, err, "Failed to clean queue")
		return
	}

	h.logger.Info("Queue cleaned",
		slog.String("queue", name),
		slog.String("state", req.State),
		slog.Int("removed", removed),
	)
	c.JSON(http.StatusOK, gin.H{"queue": name, "removed": removed})
}
