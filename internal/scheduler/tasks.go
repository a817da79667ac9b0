package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
)

const (
	refreshRegion     = "global"
	refreshCount      = 20
	jobRetentionDays  = 7
	trendInactiveFor  = 30 * 24 * time.Hour
	completedGrace    = 24 * time.Hour
	failedGrace       = 7 * 24 * time.Hour
	topTrendCount     = 5
	minEngagementRate = 7.0
	minGrowthRate     = 20.0
	suggestionDelay   = time.Hour
	stuckAfter        = 30 * time.Minute
	stuckBatch        = 100
	retryBatch        = 50
	unlinkedAfter     = time.Minute
)

// JobMaintainer is the part of usecase.Jobs the sweeps use
type JobMaintainer interface {
	RetryFailed(ctx context.Context, limit int) (int, error)
	RequeueUnlinked(ctx context.Context, cutoff time.Time, limit int) (int, error)
	TimeOutStuck(ctx context.Context, before time.Time, limit int) (int, error)
}

// Deps are the collaborators of the built-in tasks
type Deps struct {
	Jobs       storage.JobRepository
	Tracks     storage.TrackRepository
	Trends     storage.TrendRepository
	Maintainer JobMaintainer
	Queue      queue.Service
	Provider   provider.TrendProvider
	Logger     *slog.Logger

	// Queues are cleaned of old finished entries by the cleanup task
	Queues []string

	now   func() time.Time
	delay func() time.Duration
}

// DefaultQueues are every queue a worker consumes
var DefaultQueues = []string{
	domain.QueueTrackGeneration,
	domain.QueueImageGeneration,
	domain.QueueTrendAnalysis,
	domain.QueueTrackSuggestion,
}

// DefaultTasks returns the five maintenance tasks on their default schedules
func DefaultTasks(d Deps) []Task {
	if d.now == nil {
		d.now = time.Now
	}
	if d.delay == nil {
		d.delay = func() time.Duration { return rand.N(suggestionDelay) }
	}
	if d.Queues == nil {
		d.Queues = DefaultQueues
	}
	r := &runner{Deps: d}

	return []Task{
		{Name: TaskRefreshTrends, Spec: DefaultSpecs[TaskRefreshTrends], Run: r.refreshTrends},
		{Name: TaskCleanup, Spec: DefaultSpecs[TaskCleanup], Run: r.cleanup},
		{Name: TaskSuggestions, Spec: DefaultSpecs[TaskSuggestions], Run: r.suggestions},
		{Name: TaskStuckSweep, Spec: DefaultSpecs[TaskStuckSweep], Run: r.stuckSweep},
		{Name: TaskRequeue, Spec: DefaultSpecs[TaskRequeue], Run: r.requeue},
	}
}

type runner struct {
	Deps
}

func (r *runner) refreshTrends(ctx context.Context) error {
	data, err := r.Provider.GetTrendingHashtags(ctx, refreshRegion, refreshCount)
	if err != nil {
		return fmt.Errorf("failed to fetch trending hashtags: %w", err)
	}

	var (
		created, updated int
		errs             []error
	)
	for _, td := range data {
		meta := domain.Metadata{
			"engagementRate": td.EngagementRate,
			"averageViews":   td.AverageViews,
			"region":         td.Region,
		}
		if len(td.RelatedHashtags) > 0 {
			meta["relatedHashtags"] = td.RelatedHashtags
		}
		_, inserted, err := r.Trends.Upsert(ctx, domain.NewTrend{
			Hashtag:     td.Hashtag,
			Title:       td.Title,
			Description: td.Description,
			VideoCount:  td.VideoCount,
			ViewCount:   td.ViewCount,
			Category:    td.Category,
			Metadata:    meta,
		})
		if err != nil {
			r.Logger.Error("Failed to store trend",
				slog.String("hashtag", td.Hashtag),
				slog.Any("error", err),
			)
			errs = append(errs, err)
			continue
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}

	r.Logger.Info("Trends refreshed",
		slog.Int("fetched", len(data)),
		slog.Int("created", created),
		slog.Int("updated", updated),
	)
	return errors.Join(errs...)
}

func (r *runner) cleanup(ctx context.Context) error {
	var errs []error

	removed, err := r.Jobs.CleanupOldJobs(ctx, jobRetentionDays)
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup jobs: %w", err))
	}

	deactivated, err := r.Trends.DeactivateInactive(ctx, r.now().Add(-trendInactiveFor))
	if err != nil {
		errs = append(errs, fmt.Errorf("deactivate trends: %w", err))
	}

	cleaned := 0
	for _, q := range r.Queues {
		n, err := r.Queue.CleanQueue(ctx, q, completedGrace, queue.StateCompleted)
		if err != nil {
			errs = append(errs, fmt.Errorf("clean %s completed: %w", q, err))
		}
		cleaned += n

		n, err = r.Queue.CleanQueue(ctx, q, failedGrace, queue.StateFailed)
		if err != nil {
			errs = append(errs, fmt.Errorf("clean %s failed: %w", q, err))
		}
		cleaned += n
	}

	r.Logger.Info("Cleanup completed",
		slog.Int64("jobs_removed", removed),
		slog.Int64("trends_deactivated", deactivated),
		slog.Int("queue_entries_removed", cleaned),
	)
	return errors.Join(errs...)
}

func (r *runner) suggestions(ctx context.Context) error {
	top, _, err := r.Trends.FindMany(ctx, 0, topTrendCount)
	if err != nil {
		return fmt.Errorf("failed to load top trends: %w", err)
	}

	var (
		queued int
		errs   []error
	)
	for _, trend := range top {
		engagement, err := r.Provider.AnalyzeHashtagEngagement(ctx, trend.Hashtag)
		if err != nil {
			errs = append(errs, fmt.Errorf("engagement of %s: %w", trend.Hashtag, err))
			continue
		}
		if engagement.EngagementRate <= minEngagementRate || engagement.GrowthRate <= minGrowthRate {
			continue
		}

		_, err = r.Queue.AddJob(ctx, domain.QueueTrackSuggestion, usecase.JobNameTrendSuggestion, usecase.SuggestionPayload{
			TrendID:        trend.ID,
			Hashtag:        trend.Hashtag,
			Category:       trend.Category,
			SuggestedGenre: usecase.GenreForCategory(trend.Category),
			EngagementRate: engagement.EngagementRate,
			GrowthRate:     engagement.GrowthRate,
		}, queue.JobOptions{
			Priority: 5,
			Delay:    r.delay(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue suggestion for %s: %w", trend.Hashtag, err))
			continue
		}
		queued++
		r.Logger.Debug("Suggestion queued", slog.String("hashtag", trend.Hashtag))
	}

	r.Logger.Info("Trend suggestions generated",
		slog.Int("considered", len(top)),
		slog.Int("queued", queued),
	)
	return errors.Join(errs...)
}

func (r *runner) stuckSweep(ctx context.Context) error {
	now := r.now()
	cutoff := now.Add(-stuckAfter)
	var errs []error

	tracks, err := r.Tracks.FindStuck(ctx, cutoff, stuckBatch)
	if err != nil {
		errs = append(errs, fmt.Errorf("find stuck tracks: %w", err))
	}
	failed := domain.TrackStatusFailed
	for _, track := range tracks {
		_, err := r.Tracks.Update(ctx, track.ID, domain.TrackPatch{
			Status: &failed,
			Metadata: domain.Metadata{
				"generationParams": domain.Metadata{
					"error":    "Processing timeout - track stuck for too long",
					"failedAt": now.UTC().Format(time.RFC3339),
				},
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("fail track %s: %w", track.ID, err))
			continue
		}
		r.Logger.Warn("Marked stuck track as failed", slog.String("track_id", track.ID))
	}

	timedOut, err := r.Maintainer.TimeOutStuck(ctx, cutoff, stuckBatch)
	if err != nil {
		errs = append(errs, fmt.Errorf("time out jobs: %w", err))
	}

	if len(tracks) > 0 || timedOut > 0 {
		r.Logger.Warn("Stuck work failed",
			slog.Int("tracks", len(tracks)),
			slog.Int("jobs", timedOut),
		)
	}
	return errors.Join(errs...)
}

func (r *runner) requeue(ctx context.Context) error {
	var errs []error

	retried, err := r.Maintainer.RetryFailed(ctx, retryBatch)
	if err != nil {
		errs = append(errs, fmt.Errorf("retry failed jobs: %w", err))
	}

	requeued, err := r.Maintainer.RequeueUnlinked(ctx, r.now().Add(-unlinkedAfter), retryBatch)
	if err != nil {
		errs = append(errs, fmt.Errorf("requeue unlinked jobs: %w", err))
	}

	if retried > 0 || requeued > 0 {
		r.Logger.Info("Jobs requeued",
			slog.Int("retried", retried),
			slog.Int("unlinked", requeued),
		)
	}
	return errors.Join(errs...)
}
