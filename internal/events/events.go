// Package events publishes job lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
)

// Kind is the routing key of a lifecycle event
type Kind string

const (
	JobStarted   Kind = "job.started"
	JobCompleted Kind = "job.completed"
	JobFailed    Kind = "job.failed"
	JobRetrying  Kind = "job.retrying"
	JobCancelled Kind = "job.cancelled"
)

// Event describes one change of a durable job record
type Event struct {
	Kind       Kind             `json:"kind"`
	JobID      string           `json:"jobId"`
	JobType    domain.JobType   `json:"jobType"`
	Status     domain.JobStatus `json:"status"`
	UserID     string           `json:"userId,omitempty"`
	TrackID    string           `json:"trackId,omitempty"`
	Attempts   int              `json:"attempts"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// FromJob builds an event for the current state of job
func FromJob(kind Kind, job *domain.Job) Event {
	return Event{
		Kind:       kind,
		JobID:      job.ID,
		JobType:    job.Type,
		Status:     job.Status,
		UserID:     job.UserID,
		TrackID:    job.TrackID,
		Attempts:   job.Attempts,
		Error:      job.Error,
		OccurredAt: job.UpdatedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Broker is the subset of the RabbitMQ client used for publishing
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitPublisher sends events as JSON to the configured exchange, routed by kind
type RabbitPublisher struct {
	broker Broker
	logger *slog.Logger
}

func NewRabbitPublisher(broker Broker, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{broker: broker, logger: logger}
}

func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, string(event.Kind), body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s for job %s: %w", event.Kind, event.JobID, err)
	}

	p.logger.Debug("Published job event",
		slog.String("kind", string(event.Kind)),
		slog.String("job_id", event.JobID),
	)
	return nil
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Kinds returns the kinds published so far, in order
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
