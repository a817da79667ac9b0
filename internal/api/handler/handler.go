package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
)

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	CreateTrack *usecase.CreateTrack
	Trends      *usecase.AnalyzeTrends
	Jobs        *usecase.Jobs
	TrackRepo   storage.TrackRepository
	Queue       queue.Service
	// Queues lists the queue names exposed by the queue endpoints
	Queues       []string
	HealthChecks map[string]HealthCheck
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   *usecase.Jobs
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{logger: deps.Logger, jobs: deps.Jobs}
}

// TrackHandler handles track-related HTTP requests
type TrackHandler struct {
	logger      *slog.Logger
	createTrack *usecase.CreateTrack
	tracks      storage.TrackRepository
	jobs        *usecase.Jobs
}

func NewTrackHandler(deps *Dependencies) *TrackHandler {
	return &TrackHandler{
		logger:      deps.Logger,
		createTrack: deps.CreateTrack,
		tracks:      deps.TrackRepo,
		jobs:        deps.Jobs,
	}
}

// TrendHandler handles trend-related HTTP requests
type TrendHandler struct {
	logger *slog.Logger
	trends *usecase.AnalyzeTrends
}

func NewTrendHandler(deps *Dependencies) *TrendHandler {
	return &TrendHandler{logger: deps.Logger, trends: deps.Trends}
}

// QueueHandler exposes transport queue inspection and control
type QueueHandler struct {
	logger *slog.Logger
	queue  queue.Service
	known  map[string]bool
}

func NewQueueHandler(deps *Dependencies) *QueueHandler {
	known := make(map[string]bool, len(deps.Queues))
	for _, q := range deps.Queues {
		known[q] = true
	}
	return &QueueHandler{logger: deps.Logger, queue: deps.Queue, known: known}
}

// statusFor maps use case errors to HTTP status codes
func statusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, queue.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrTrackNotFound),
		errors.Is(err, domain.ErrTrendNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrMaxAttemptsReached),
		errors.Is(err, domain.ErrJobNotTerminal),
		errors.Is(err, queue.ErrJobActive):
		return http.StatusConflict
	case errors.Is(err, queue.ErrServiceClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the mapped status. Internal errors are logged and
// hidden behind msg; client errors carry their own message.
func respondError(c *gin.Context, logger *slog.Logger, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg,
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
