package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/events"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
)

// Handler does the work for one delivery of a tracked job
type Handler func(ctx context.Context, job *queue.Job, record *domain.Job) (any, error)

// Tracker keeps the durable job record in step with the transport entry
type Tracker struct {
	jobs   storage.JobRepository
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewTracker(jobs storage.JobRepository, publisher events.Publisher, logger *slog.Logger) *Tracker {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Tracker{jobs: jobs, events: publisher, logger: logger, now: time.Now}
}

// Wrap returns a Processor that loads the record named by the payload's
// jobId, runs h and records the outcome.
func (t *Tracker) Wrap(h Handler) queue.Processor {
	return queue.ProcessorFunc(func(ctx context.Context, job *queue.Job) (any, error) {
		return t.process(ctx, job, h)
	})
}

func (t *Tracker) process(ctx context.Context, job *queue.Job, h Handler) (any, error) {
	var ref struct {
		JobID string `json:"jobId"`
	}
	if err := job.Decode(&ref); err != nil {
		return nil, err
	}
	if ref.JobID == "" {
		return nil, queue.Permanent(fmt.Errorf("%w: %s job %s has no jobId", domain.ErrInvalidPayload, job.Queue, job.ID))
	}

	record, err := t.jobs.FindByID(ctx, ref.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, fmt.Errorf("failed to load job %s: %w", ref.JobID, err)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("job.id", record.ID),
		attribute.String("job.type", string(record.Type)),
	)

	switch {
	case record.IsCompleted(), record.IsCancelled():
		t.logger.Info("Skipping finished job",
			slog.String("job_id", record.ID),
			slog.String("status", string(record.Status)),
			slog.String("queue_job_id", job.ID),
		)
		return map[string]string{"skipped": string(record.Status)}, nil

	case record.HasFailed():
		// delivered before the retry reached storage
		if err := record.Retry(t.now()); err != nil {
			return nil, queue.Permanent(err)
		}
	}

	if record.IsPending() {
		if err := record.Start(t.now()); err != nil {
			return nil, queue.Permanent(err)
		}
		if record, err = t.save(ctx, record); err != nil {
			return nil, err
		}
		t.publish(ctx, events.JobStarted, record)
	}

	result, runErr := h(ctx, job, record)
	if runErr != nil {
		return nil, t.fail(ctx, job, record, runErr)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, t.fail(ctx, job, record, queue.Permanent(fmt.Errorf("encode result: %w", err)))
	}
	if err := record.Complete(raw, t.now()); err != nil {
		return nil, queue.Permanent(err)
	}
	if record, err = t.save(ctx, record); err != nil {
		// the work is done; a redelivery would repeat it
		t.logger.Error("Failed to record job completion",
			slog.String("job_id", record.ID),
			slog.Any("error", err),
		)
		return result, nil
	}
	t.publish(ctx, events.JobCompleted, record)

	t.logger.Info("Job completed",
		slog.String("job_id", record.ID),
		slog.String("type", string(record.Type)),
		slog.String("queue_job_id", job.ID),
	)
	return result, nil
}

// fail records the failed attempt and returns cause for the broker
func (t *Tracker) fail(ctx context.Context, job *queue.Job, record *domain.Job, cause error) error {
	now := t.now()
	if err := record.Fail(cause.Error(), now); err != nil {
		t.logger.Error("Failed to mark job failed",
			slog.String("job_id", record.ID),
			slog.Any("error", err),
		)
		return cause
	}

	kind := events.JobFailed
	if job.FinalAttempt(cause) {
		record.Exhaust()
	} else if err := record.Retry(now); err != nil {
		// storage says no attempts are left even though the broker has some
		record.Exhaust()
		cause = queue.Permanent(cause)
	} else {
		kind = events.JobRetrying
	}

	saved, err := t.save(ctx, record)
	if err != nil {
		t.logger.Error("Failed to record job failure",
			slog.String("job_id", record.ID),
			slog.Any("error", err),
		)
		return cause
	}
	t.publish(ctx, kind, saved)

	t.logger.Warn("Job attempt failed",
		slog.String("job_id", saved.ID),
		slog.String("type", string(saved.Type)),
		slog.String("status", string(saved.Status)),
		slog.Int("attempts", saved.Attempts),
		slog.Int("max_attempts", saved.MaxAttempts),
		slog.Any("error", cause),
	)
	return cause
}

func (t *Tracker) save(ctx context.Context, record *domain.Job) (*domain.Job, error) {
	saved, err := t.jobs.Update(ctx, record.ID, record.StatePatch())
	if err != nil {
		return record, fmt.Errorf("failed to update job %s: %w", record.ID, err)
	}
	return saved, nil
}

func (t *Tracker) publish(ctx context.Context, kind events.Kind, record *domain.Job) {
	if err := t.events.Publish(ctx, events.FromJob(kind, record)); err != nil {
		t.logger.Warn("Failed to publish job event",
			slog.String("kind", string(kind)),
			slog.String("job_id", record.ID),
			slog.Any("error", err),
		)
	}
}
