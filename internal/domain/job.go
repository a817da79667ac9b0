package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType identifies the kind of asynchronous work a job performs
type JobType string

const (
	JobTypeAudioGeneration JobType = "AUDIO_GENERATION"
	JobTypeImageGeneration JobType = "IMAGE_GENERATION"
	JobTypeTrendAnalysis   JobType = "TREND_ANALYSIS"
	JobTypeTikTokUpload    JobType = "TIKTOK_UPLOAD"
)

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	switch t {
	case JobTypeAudioGeneration, JobTypeImageGeneration, JobTypeTrendAnalysis, JobTypeTikTokUpload:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a durable job record
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Valid reports whether s is a known job status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// DefaultMaxAttempts is the retry ceiling applied when a job is created without one
const DefaultMaxAttempts = 3

// Job is the durable record of one unit of asynchronous work.
// The transport queue entry referenced by QueueName/QueueJobID is disposable;
// this record is the source of truth for status queries.
type Job struct {
	ID          string
	Type        JobType
	Data        json.RawMessage
	Status      JobStatus
	Priority    int
	Result      json.RawMessage
	Error       string
	Attempts    int
	MaxAttempts int
	UserID      string
	TrackID     string
	QueueName   string
	QueueJobID  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// allowed transitions; FAILED -> PENDING is the explicit retry path
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
	JobStatusFailed:     {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (j *Job) transition(to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, j.ID, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// Start moves a pending job into processing
func (j *Job) Start(now time.Time) error {
	return j.transition(JobStatusProcessing, now)
}

// Complete records a successful result
func (j *Job) Complete(result json.RawMessage, now time.Time) error {
	if err := j.transition(JobStatusCompleted, now); err != nil {
		return err
	}
	j.Result = result
	j.Error = ""
	j.ProcessedAt = &now
	return nil
}

// Fail records a failed attempt. Attempts never exceeds MaxAttempts.
func (j *Job) Fail(message string, now time.Time) error {
	if err := j.transition(JobStatusFailed, now); err != nil {
		return err
	}
	if j.Attempts < j.MaxAttempts {
		j.Attempts++
	}
	j.Result = nil
	j.Error = message
	j.ProcessedAt = &now
	return nil
}

// Retry re-opens a failed job for another attempt
func (j *Job) Retry(now time.Time) error {
	if j.Status == JobStatusFailed && j.HasReachedMaxAttempts() {
		return fmt.Errorf("%w: job %s (%d/%d)", ErrMaxAttemptsReached, j.ID, j.Attempts, j.MaxAttempts)
	}
	if err := j.transition(JobStatusPending, now); err != nil {
		return err
	}
	j.Error = ""
	j.ProcessedAt = nil
	return nil
}

// Cancel stops a job that has not started yet
func (j *Job) Cancel(now time.Time) error {
	return j.transition(JobStatusCancelled, now)
}

// Exhaust marks a failed job as not retryable
func (j *Job) Exhaust() {
	if j.Status == JobStatusFailed {
		j.Attempts = j.MaxAttempts
	}
}

// TimeOut fails a job stuck in processing and makes it terminal
func (j *Job) TimeOut(reason string, now time.Time) error {
	if err := j.Fail(reason, now); err != nil {
		return err
	}
	j.Exhaust()
	return nil
}

func (j *Job) IsPending() bool    { return j.Status == JobStatusPending }
func (j *Job) IsProcessing() bool { return j.Status == JobStatusProcessing }
func (j *Job) IsCompleted() bool  { return j.Status == JobStatusCompleted }
func (j *Job) HasFailed() bool    { return j.Status == JobStatusFailed }
func (j *Job) IsCancelled() bool  { return j.Status == JobStatusCancelled }

// IsTerminal reports whether the job can no longer change on its own
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return j.HasReachedMaxAttempts()
	}
	return false
}

// CanRetry reports whether a failed job still has attempts left
func (j *Job) CanRetry() bool {
	return j.HasFailed() && j.Attempts < j.MaxAttempts
}

func (j *Job) HasReachedMaxAttempts() bool {
	return j.Attempts >= j.MaxAttempts
}

// ProcessingTime is the time between creation and the last terminal stamp
func (j *Job) ProcessingTime() (time.Duration, bool) {
	if j.ProcessedAt == nil || j.CreatedAt.IsZero() {
		return 0, false
	}
	return j.ProcessedAt.Sub(j.CreatedAt), true
}

// NewJob is the input for creating a durable job record
type NewJob struct {
	Type        JobType
	Data        json.RawMessage
	Priority    int
	MaxAttempts int
	UserID      string
	TrackID     string
}

// JobPatch is a partial update; nil fields are left untouched.
// Result and Error pointers to zero values clear the column.
type JobPatch struct {
	Status      *JobStatus
	Priority    *int
	Data        *json.RawMessage
	Result      *json.RawMessage
	Error       *string
	Attempts    *int
	MaxAttempts *int
	QueueName   *string
	QueueJobID  *string
	ProcessedAt *time.Time

	// ClearProcessedAt resets processed_at to NULL
	ClearProcessedAt bool
}

// StatePatch captures every mutable lifecycle field of j
func (j *Job) StatePatch() JobPatch {
	status := j.Status
	result := j.Result
	errMsg := j.Error
	attempts := j.Attempts
	patch := JobPatch{
		Status:   &status,
		Result:   &result,
		Error:    &errMsg,
		Attempts: &attempts,
	}
	if j.ProcessedAt != nil {
		at := *j.ProcessedAt
		patch.ProcessedAt = &at
	} else {
		patch.ClearProcessedAt = true
	}
	return patch
}

// Queue names used for each job type
const (
	QueueTrackGeneration = "track-generation"
	QueueImageGeneration = "image-generation"
	QueueTrendAnalysis   = "trend-analysis"
	QueueTrackSuggestion = "track-suggestions"
	QueueTikTokUpload    = "tiktok-upload"
)

// QueueFor returns the transport queue that processes jobs of type t
func QueueFor(t JobType) string {
	switch t {
	case JobTypeAudioGeneration:
		return QueueTrackGeneration
	case JobTypeImageGeneration:
		return QueueImageGeneration
	case JobTypeTrendAnalysis:
		return QueueTrendAnalysis
	case JobTypeTikTokUpload:
		return QueueTikTokUpload
	}
	return ""
}
