// Package queue is the transport layer for background work: named queues on a
// shared Redis broker with priority, delay, automatic retry and bounded
// retention. Entries here are disposable; durable job state lives in storage.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// State is where a transport entry currently sits
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Valid reports whether s is a known state
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed:
		return true
	}
	return false
}

// Priority bounds keep the dispatch score exact in a float64
const (
	MaxPriority = 1 << 20
	MinPriority = -MaxPriority
)

// JobOptions controls dispatch and retry for one entry.
// Zero values fall back to the service defaults.
type JobOptions struct {
	Priority int
	Delay    time.Duration
	Attempts int
	Backoff  *Backoff
}

// JobInfo is a snapshot of a transport entry
type JobInfo struct {
	ID           string
	Queue        string
	Name         string
	Data         json.RawMessage
	State        State
	Priority     int
	Progress     int
	Result       json.RawMessage
	Error        string
	AttemptsMade int
	MaxAttempts  int
	Delay        time.Duration
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	FinishedAt   *time.Time
}

// Stats holds per-state entry counts for one queue
type Stats struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
	Paused    bool
}

// Job is what a Processor receives for one invocation
type Job struct {
	ID           string
	Queue        string
	Name         string
	Data         json.RawMessage
	Priority     int
	AttemptsMade int
	MaxAttempts  int
	CreatedAt    time.Time

	progress func(ctx context.Context, pct int) error
}

// Decode unmarshals the payload; a malformed payload is a permanent failure
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Data, v); err != nil {
		return Permanent(fmt.Errorf("decode payload of %s job %s: %w", j.Queue, j.ID, err))
	}
	return nil
}

// UpdateProgress records a 0-100 progress value on the entry
func (j *Job) UpdateProgress(ctx context.Context, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if j.progress == nil {
		return nil
	}
	return j.progress(ctx, pct)
}

// OnProgress replaces the progress sink, for running a Processor outside the broker
func (j *Job) OnProgress(fn func(ctx context.Context, pct int) error) {
	j.progress = fn
}

// FinalAttempt reports whether failing with err ends the entry
// instead of scheduling another delivery
func (j *Job) FinalAttempt(err error) bool {
	return IsPermanent(err) || j.AttemptsMade >= j.MaxAttempts
}

// Processor handles entries of one queue. The returned value is stored as
// the entry result in JSON form.
type Processor interface {
	Process(ctx context.Context, job *Job) (any, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, job *Job) (any, error)

func (f ProcessorFunc) Process(ctx context.Context, job *Job) (any, error) {
	return f(ctx, job)
}

// Service is the broker abstraction used by use cases, workers and the scheduler
type Service interface {
	AddJob(ctx context.Context, queue, name string, data any, opts JobOptions) (string, error)
	RemoveJob(ctx context.Context, queue, id string) error
	GetJob(ctx context.Context, queue, id string) (*JobInfo, error)
	GetJobs(ctx context.Context, queue string, state State, skip, take int) ([]*JobInfo, error)
	GetQueueStats(ctx context.Context, queue string) (*Stats, error)
	PauseQueue(ctx context.Context, queue string) error
	ResumeQueue(ctx context.Context, queue string) error
	CleanQueue(ctx context.Context, queue string, grace time.Duration, state State) (int, error)
	RegisterProcessor(queue string, processor Processor, opts ...WorkerOption) error
	Close(ctx context.Context) error
}
