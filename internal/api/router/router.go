package router

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/trackgen-be/internal/api/handler"
)

const healthTimeout = 3 * time.Second

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobHandler := handler.NewJobHandler(deps)
	trackHandler := handler.NewTrackHandler(deps)
	trendHandler := handler.NewTrendHandler(deps)
	queueHandler := handler.NewQueueHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		tracks := v1.Group("/tracks")
		{
			tracks.GET("", trackHandler.ListTracks)
			tracks.POST("", trackHandler.CreateTrack)
			tracks.GET("/:track_id", trackHandler.GetTrack)
		}

		trends := v1.Group("/trends")
		{
			trends.GET("", trendHandler.ListTrends)
			trends.POST("/analyze", trendHandler.AnalyzeTrends)
			trends.POST("/hashtags/:hashtag", trendHandler.AnalyzeHashtag)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		v1.GET("/stats/jobs", jobHandler.JobStats)

		queues := v1.Group("/queues/:queue")
		{
			queues.GET("/stats", queueHandler.QueueStats)
			queues.GET("/jobs", queueHandler.ListQueueJobs)
			queues.GET("/jobs/:id", queueHandler.GetQueueJob)
			queues.POST("/pause", queueHandler.PauseQueue)
			queues.POST("/resume", queueHandler.ResumeQueue)
			queues.POST("/clean", queueHandler.CleanQueue)
		}
	}

	return r
}

// healthHandler runs every registered check and reports 503 if any fails
func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	names := make([]string, 0, len(deps.HealthChecks))
	for name := range deps.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		checks := make(gin.H, len(names))
		for _, name := range names {
			if err := deps.HealthChecks[name](ctx); err != nil {
				deps.Logger.Warn("Health check failed",
					slog.String("check", name),
					slog.Any("error", err),
				)
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"service": deps.ServiceName,
			"checks":  checks,
		})
	}
}
