package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/queue"
)

type CreateTrackRequest struct {
	Title       string   `json:"title" binding:"required"`
	UserID      string   `json:"user_id" binding:"required"`
	Description string   `json:"description"`
	Genre       string   `json:"genre"`
	Tags        []string `json:"tags"`
	AudioPrompt string   `json:"audio_prompt"`
	ImagePrompt string   `json:"image_prompt"`
	WithCover   bool     `json:"with_cover"`
}

type CreateTrackResponse struct {
	Track TrackDTO `json:"track"`
	Job   *JobDTO  `json:"job,omitempty"`
}

type TrackDTO struct {
	TrackID     string          `json:"track_id"`
	Title       string          `json:"title"`
	UserID      string          `json:"user_id"`
	Description string          `json:"description,omitempty"`
	AudioURL    string          `json:"audio_url,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Genre       string          `json:"genre,omitempty"`
	Tags        []string        `json:"tags"`
	Duration    int             `json:"duration"`
	Status      string          `json:"status"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

type TrackDetailResponse struct {
	Track TrackDTO `json:"track"`
	Jobs  []JobDTO `json:"jobs"`
}

type ListTracksRequest struct {
	UserID string `form:"user_id" binding:"required"`
	Skip   int    `form:"skip"`
	Take   int    `form:"take"`
}

type ListTracksResponse struct {
	Tracks []TrackDTO `json:"tracks"`
	Total  int        `json:"total"`
	Skip   int        `json:"skip"`
	Take   int        `json:"take"`
}

type ListJobsRequest struct {
	UserID  string `form:"user_id"`
	Status  string `form:"status"`
	JobType string `form:"type"`
	TrackID string `form:"track_id"`
	Skip    int    `form:"skip"`
	Take    int    `form:"take"`
}

type ListJobsResponse struct {
	Jobs  []JobDTO `json:"jobs"`
	Total int      `json:"total"`
	Skip  int      `json:"skip"`
	Take  int      `json:"take"`
}

type JobDTO struct {
	JobID            string          `json:"job_id"`
	JobType          string          `json:"job_type"`
	Status           string          `json:"status"`
	Priority         int             `json:"priority"`
	Data             json.RawMessage `json:"data,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"max_attempts"`
	UserID           string          `json:"user_id,omitempty"`
	TrackID          string          `json:"track_id,omitempty"`
	QueueName        string          `json:"queue_name,omitempty"`
	QueueJobID       string          `json:"queue_job_id,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
	ProcessedAt      string          `json:"processed_at,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms,omitempty"`
}

type AnalyzeTrendsRequest struct {
	Region string `json:"region"`
}

type ListTrendsRequest struct {
	Active bool `form:"active"`
	Limit  int  `form:"limit"`
	Skip   int  `form:"skip"`
	Take   int  `form:"take"`
}

type ListTrendsResponse struct {
	Trends []TrendDTO `json:"trends"`
	Total  int        `json:"total"`
}

type TrendDTO struct {
	TrendID     string          `json:"trend_id"`
	Hashtag     string          `json:"hashtag"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	VideoCount  int64           `json:"video_count"`
	ViewCount   int64           `json:"view_count"`
	Views       string          `json:"views"`
	Category    string          `json:"category,omitempty"`
	IsActive    bool            `json:"is_active"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

type QueueJobsRequest struct {
	State string `form:"state"`
	Skip  int    `form:"skip"`
	Take  int    `form:"take"`
}

type QueueJobDTO struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data,omitempty"`
	State        string          `json:"state"`
	Priority     int             `json:"priority"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	CreatedAt    string          `json:"created_at"`
	ProcessedAt  string          `json:"processed_at,omitempty"`
	FinishedAt   string          `json:"finished_at,omitempty"`
}

type QueueStatsDTO struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Delayed   int64  `json:"delayed"`
	Paused    bool   `json:"paused"`
}

type CleanQueueRequest struct {
	State        string `json:"state" binding:"required"`
	GraceSeconds int    `json:"grace_seconds"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func NewTrackDTO(t *domain.Track) TrackDTO {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return TrackDTO{
		TrackID:     t.ID,
		Title:       t.Title,
		UserID:      t.UserID,
		Description: t.Description,
		AudioURL:    t.AudioURL,
		ImageURL:    t.ImageURL,
		Genre:       t.Genre,
		Tags:        tags,
		Duration:    t.Duration,
		Status:      string(t.Status),
		Metadata:    t.Metadata,
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
}

func NewJobDTO(j *domain.Job) JobDTO {
	out := JobDTO{
		JobID:       j.ID,
		JobType:     string(j.Type),
		Status:      string(j.Status),
		Priority:    j.Priority,
		Data:        j.Data,
		Result:      j.Result,
		Error:       j.Error,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		UserID:      j.UserID,
		TrackID:     j.TrackID,
		QueueName:   j.QueueName,
		QueueJobID:  j.QueueJobID,
		CreatedAt:   formatTime(j.CreatedAt),
		UpdatedAt:   formatTime(j.UpdatedAt),
		ProcessedAt: formatTimePtr(j.ProcessedAt),
	}
	if d, ok := j.ProcessingTime(); ok {
		out.ProcessingTimeMs = d.Milliseconds()
	}
	return out
}

func NewJobDTOs(jobs []*domain.Job) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = NewJobDTO(j)
	}
	return out
}

func NewTrendDTO(t *domain.Trend) TrendDTO {
	return TrendDTO{
		TrendID:     t.ID,
		Hashtag:     t.Hashtag,
		Title:       t.Title,
		Description: t.Description,
		VideoCount:  t.VideoCount,
		ViewCount:   t.ViewCount,
		Views:       t.FormattedViewCount(),
		Category:    t.Category,
		IsActive:    t.IsActive,
		Metadata:    t.Metadata,
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
}

func NewTrendDTOs(trends []*domain.Trend) []TrendDTO {
	out := make([]TrendDTO, len(trends))
	for i, t := range trends {
		out[i] = NewTrendDTO(t)
	}
	return out
}

func NewQueueJobDTO(info *queue.JobInfo) QueueJobDTO {
	return QueueJobDTO{
		ID:           info.ID,
		Queue:        info.Queue,
		Name:         info.Name,
		Data:         info.Data,
		State:        string(info.State),
		Priority:     info.Priority,
		Progress:     info.Progress,
		Result:       info.Result,
		Error:        info.Error,
		AttemptsMade: info.AttemptsMade,
		MaxAttempts:  info.MaxAttempts,
		CreatedAt:    formatTime(info.CreatedAt),
		ProcessedAt:  formatTimePtr(info.ProcessedAt),
		FinishedAt:   formatTimePtr(info.FinishedAt),
	}
}

func NewQueueStatsDTO(name string, s *queue.Stats) QueueStatsDTO {
	return QueueStatsDTO{
		Queue:     name,
		Waiting:   s.Waiting,
		Active:    s.Active,
		Completed: s.Completed,
		Failed:    s.Failed,
		Delayed:   s.Delayed,
		Paused:    s.Paused,
	}
}
