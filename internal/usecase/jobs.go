package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/events"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
)

// dispatch settings per job type, shared by first enqueue and explicit retries
var dispatchDefaults = map[domain.JobType]struct {
	name    string
	backoff time.Duration
}{
	domain.JobTypeAudioGeneration: {JobNameGenerateAudio, 5 * time.Second},
	domain.JobTypeImageGeneration: {JobNameGenerateImage, 3 * time.Second},
	domain.JobTypeTrendAnalysis:   {JobNameAnalyzeTrends, 10 * time.Second},
	domain.JobTypeTikTokUpload:    {"upload-tiktok", 5 * time.Second},
}

// JobFilter selects jobs for List. At most one of UserID, Status, Type and
// TrackID is applied, in that order of precedence.
type JobFilter struct {
	UserID  string
	Status  domain.JobStatus
	Type    domain.JobType
	TrackID string
	Skip    int
	Take    int
}

// JobStats counts durable records per status
type JobStats struct {
	Total    int                      `json:"total"`
	ByStatus map[domain.JobStatus]int `json:"byStatus"`
}

// Jobs manages durable job records after creation
type Jobs struct {
	jobs       storage.JobRepository
	queue      queue.Service
	dispatcher *Dispatcher
	events     events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewJobs(jobs storage.JobRepository, q queue.Service, dispatcher *Dispatcher, publisher events.Publisher, logger *slog.Logger) *Jobs {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Jobs{
		jobs:       jobs,
		queue:      q,
		dispatcher: dispatcher,
		events:     publisher,
		logger:     logger,
		now:        time.Now,
	}
}

func (uc *Jobs) Get(ctx context.Context, id string) (*domain.Job, error) {
	return uc.jobs.FindByID(ctx, id)
}

// List returns one page of jobs and the total number matching the filter
func (uc *Jobs) List(ctx context.Context, f JobFilter) ([]*domain.Job, int, error) {
	var (
		all []*domain.Job
		err error
	)
	switch {
	case f.UserID != "":
		all, err = uc.jobs.FindByUserID(ctx, f.UserID)
	case f.Status != "":
		if !f.Status.Valid() {
			return nil, 0, domain.NewValidationError("status", fmt.Sprintf("unknown status %s", f.Status))
		}
		all, err = uc.jobs.FindByStatus(ctx, f.Status)
	case f.Type != "":
		if !f.Type.Valid() {
			return nil, 0, domain.NewValidationError("type", fmt.Sprintf("unknown type %s", f.Type))
		}
		all, err = uc.jobs.FindByType(ctx, f.Type)
	case f.TrackID != "":
		all, err = uc.jobs.FindByTrackID(ctx, f.TrackID)
	default:
		return uc.jobs.FindMany(ctx, f.Skip, f.Take)
	}
	if err != nil {
		return nil, 0, err
	}
	return page(all, f.Skip, f.Take), len(all), nil
}

func page(all []*domain.Job, skip, take int) []*domain.Job {
	if take <= 0 {
		take = 20
	}
	if take > 100 {
		take = 100
	}
	if skip < 0 {
		skip = 0
	}
	if skip >= len(all) {
		return []*domain.Job{}
	}
	all = all[skip:]
	if len(all) > take {
		all = all[:take]
	}
	return all
}

func (uc *Jobs) Stats(ctx context.Context) (*JobStats, error) {
	counts, err := uc.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &JobStats{ByStatus: counts}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// Retry re-opens a failed job with one more priority step and enqueues it
// with the attempts it has left.
func (uc *Jobs) Retry(ctx context.Context, id string) (*domain.Job, error) {
	job, err := uc.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return uc.retry(ctx, job)
}

func (uc *Jobs) retry(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if err := job.Retry(uc.now()); err != nil {
		return nil, err
	}
	job.Priority++

	// the old entry is spent; an unlinked PENDING record is adopted by
	// RequeueUnlinked if the enqueue below fails
	status, errMsg, priority, unlinked := job.Status, job.Error, job.Priority, ""
	updated, err := uc.jobs.Update(ctx, job.ID, domain.JobPatch{
		Status:           &status,
		Error:            &errMsg,
		Priority:         &priority,
		QueueName:        &unlinked,
		QueueJobID:       &unlinked,
		ClearProcessedAt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reopen job %s: %w", job.ID, err)
	}

	remaining := updated.MaxAttempts - updated.Attempts
	updated, err = uc.dispatcher.Enqueue(ctx, updated, jobName(updated.Type), queue.JobOptions{
		Priority: updated.Priority,
		Attempts: remaining,
		Backoff:  exponential(dispatchDefaults[updated.Type].backoff),
	})
	if err != nil {
		return updated, err
	}

	uc.publish(ctx, events.JobRetrying, updated)
	return updated, nil
}

// RetryFailed re-enqueues up to limit failed jobs that still have attempts left
func (uc *Jobs) RetryFailed(ctx context.Context, limit int) (int, error) {
	failed, err := uc.jobs.FindRetryableJobs(ctx, limit)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)
	for _, job := range failed {
		if _, err := uc.retry(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// RequeueUnlinked enqueues PENDING jobs created before cutoff that never
// reached the transport, such as after a broker outage during creation.
func (uc *Jobs) RequeueUnlinked(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	pending, err := uc.jobs.FindUnlinkedJobs(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)
	for _, job := range pending {
		_, err := uc.dispatcher.Enqueue(ctx, job, jobName(job.Type), queue.JobOptions{
			Priority: job.Priority,
			Attempts: job.MaxAttempts - job.Attempts,
			Backoff:  exponential(dispatchDefaults[job.Type].backoff),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// TimeOutStuck fails and exhausts up to limit jobs still PROCESSING with no
// update since before.
func (uc *Jobs) TimeOutStuck(ctx context.Context, before time.Time, limit int) (int, error) {
	stuck, err := uc.jobs.FindStuckJobs(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)
	for _, job := range stuck {
		if err := job.TimeOut("Job timed out while processing", uc.now()); err != nil {
			errs = append(errs, err)
			continue
		}
		updated, err := uc.jobs.Update(ctx, job.ID, job.StatePatch())
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		uc.publish(ctx, events.JobFailed, updated)
		n++
	}
	return n, errors.Join(errs...)
}

// Cancel stops a pending job and removes its transport entry when possible
func (uc *Jobs) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	job, err := uc.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.Cancel(uc.now()); err != nil {
		return nil, err
	}

	status := job.Status
	updated, err := uc.jobs.Update(ctx, job.ID, domain.JobPatch{Status: &status})
	if err != nil {
		return nil, err
	}

	uc.removeEntry(ctx, updated)
	uc.publish(ctx, events.JobCancelled, updated)
	return updated, nil
}

// Delete removes a job that can no longer change
func (uc *Jobs) Delete(ctx context.Context, id string) error {
	job, err := uc.jobs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", domain.ErrJobNotTerminal, job.ID, job.Status)
	}
	if err := uc.jobs.Delete(ctx, job.ID); err != nil {
		return err
	}
	uc.removeEntry(ctx, job)
	return nil
}

// removeEntry is best effort; the transport entry expires with retention anyway
func (uc *Jobs) removeEntry(ctx context.Context, job *domain.Job) {
	if job.QueueName == "" || job.QueueJobID == "" {
		return
	}
	if err := uc.queue.RemoveJob(ctx, job.QueueName, job.QueueJobID); err != nil {
		uc.logger.Warn("Failed to remove queue entry",
			slog.String("job_id", job.ID),
			slog.String("queue", job.QueueName),
			slog.String("queue_job_id", job.QueueJobID),
			slog.Any("error", err),
		)
	}
}

func (uc *Jobs) publish(ctx context.Context, kind events.Kind, job *domain.Job) {
	if err := uc.events.Publish(ctx, events.FromJob(kind, job)); err != nil {
		uc.logger.Warn("Failed to publish job event",
			slog.String("kind", string(kind)),
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}

func jobName(t domain.JobType) string {
	if d, ok := dispatchDefaults[t]; ok {
		return d.name
	}
	return string(t)
}
