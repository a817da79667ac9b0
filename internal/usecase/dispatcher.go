package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
)

// Dispatcher turns durable job records into transport entries
type Dispatcher struct {
	jobs   storage.JobRepository
	queue  queue.Service
	logger *slog.Logger
}

func NewDispatcher(jobs storage.JobRepository, q queue.Service, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{jobs: jobs, queue: q, logger: logger}
}

// Create stores a new PENDING job record and enqueues it
func (d *Dispatcher) Create(ctx context.Context, in domain.NewJob, payload any, name string, opts queue.JobOptions) (*domain.Job, error) {
	if in.Data == nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode job data: %w", err)
		}
		in.Data = data
	}
	if in.MaxAttempts <= 0 && opts.Attempts > 0 {
		in.MaxAttempts = opts.Attempts
	}

	job, err := d.jobs.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	return d.Enqueue(ctx, job, name, opts)
}

// Enqueue adds the transport entry for job and links it on the record.
// When AddJob fails the record stays PENDING without a queue link.
func (d *Dispatcher) Enqueue(ctx context.Context, job *domain.Job, name string, opts queue.JobOptions) (*domain.Job, error) {
	queueName := domain.QueueFor(job.Type)
	if queueName == "" {
		return job, domain.NewValidationError("type", fmt.Sprintf("no queue for job type %s", job.Type))
	}

	payload, err := withJobID(job.Data, job.ID)
	if err != nil {
		return job, fmt.Errorf("failed to build payload for job %s: %w", job.ID, err)
	}

	queueJobID, err := d.queue.AddJob(ctx, queueName, name, payload, opts)
	if err != nil {
		return job, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	updated, err := d.jobs.Update(ctx, job.ID, domain.JobPatch{QueueName: &queueName, QueueJobID: &queueJobID})
	if err != nil {
		// the entry is already dispatched; the worker can still resolve the record by id
		d.logger.Warn("Failed to link job to queue entry",
			slog.String("job_id", job.ID),
			slog.String("queue", queueName),
			slog.String("queue_job_id", queueJobID),
			slog.Any("error", err),
		)
		job.QueueName, job.QueueJobID = queueName, queueJobID
		return job, nil
	}

	d.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("queue", queueName),
		slog.String("queue_job_id", queueJobID),
		slog.Int("priority", opts.Priority),
	)
	return updated, nil
}

func exponential(delay time.Duration) *queue.Backoff {
	return &queue.Backoff{Type: queue.BackoffExponential, Delay: delay}
}
