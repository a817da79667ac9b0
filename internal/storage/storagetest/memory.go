// Package storagetest provides in-memory repositories for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/storage"
)

// Jobs is an in-memory storage.JobRepository
type Jobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	seq  int

	// Err, when set, is returned by every call
	Err error
}

var _ storage.JobRepository = (*Jobs)(nil)

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*domain.Job)}
}

func copyJob(j *domain.Job) *domain.Job {
	c := *j
	if j.ProcessedAt != nil {
		at := *j.ProcessedAt
		c.ProcessedAt = &at
	}
	return &c
}

// Put stores a copy of job as-is
func (r *Jobs) Put(job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Microsecond)
	}
	r.jobs[job.ID] = copyJob(job)
}

// Get returns the stored job or nil, without an error
func (r *Jobs) Get(id string) *domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		return copyJob(j)
	}
	return nil
}

func (r *Jobs) Create(_ context.Context, in domain.NewJob) (*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if !in.Type.Valid() {
		return nil, domain.NewValidationError("type", "unknown job type")
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	now := time.Now().Add(time.Duration(r.seq) * time.Microsecond)
	job := &domain.Job{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Data:        in.Data,
		Status:      domain.JobStatusPending,
		Priority:    in.Priority,
		MaxAttempts: maxAttempts,
		UserID:      in.UserID,
		TrackID:     in.TrackID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.jobs[job.ID] = job
	return copyJob(job), nil
}

func (r *Jobs) FindByID(_ context.Context, id string) (*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if j := r.Get(id); j != nil {
		return j, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
}

func (r *Jobs) filter(keep func(*domain.Job) bool) []*domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.Job{}
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

func (r *Jobs) FindByUserID(_ context.Context, userID string) ([]*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.filter(func(j *domain.Job) bool { return j.UserID == userID }), nil
}

func (r *Jobs) FindByStatus(_ context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.filter(func(j *domain.Job) bool { return j.Status == status }), nil
}

func (r *Jobs) FindByType(_ context.Context, jobType domain.JobType) ([]*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.filter(func(j *domain.Job) bool { return j.Type == jobType }), nil
}

func (r *Jobs) FindByTrackID(_ context.Context, trackID string) ([]*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.filter(func(j *domain.Job) bool { return j.TrackID == trackID }), nil
}

func (r *Jobs) FindNextJobs(_ context.Context, limit int) ([]*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	out := r.filter(func(j *domain.Job) bool { return j.Status == domain.JobStatusPending })
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return limitJobs(out, limit), nil
}

func limitJobs(jobs []*domain.Job, limit int) []*domain.Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

func (r *Jobs) Update(_ context.Context, id string, patch domain.JobPatch) (*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.Priority != nil {
		j.Priority = *patch.Priority
	}
	if patch.Data != nil {
		j.Data = *patch.Data
	}
	if patch.Result != nil {
		j.Result = *patch.Result
		if len(j.Result) == 0 {
			j.Result = nil
		}
	}
	if patch.Error != nil {
		j.Error = *patch.Error
	}
	if patch.Attempts != nil {
		j.Attempts = *patch.Attempts
	}
	if patch.MaxAttempts != nil {
		j.MaxAttempts = *patch.MaxAttempts
	}
	if patch.QueueName != nil {
		j.QueueName = *patch.QueueName
	}
	if patch.QueueJobID != nil {
		j.QueueJobID = *patch.QueueJobID
	}
	if patch.ProcessedAt != nil {
		at := *patch.ProcessedAt
		j.ProcessedAt = &at
	} else if patch.ClearProcessedAt {
		j.ProcessedAt = nil
	}
	if j.Attempts > j.MaxAttempts {
		return nil, fmt.Errorf("attempts %d exceed max %d", j.Attempts, j.MaxAttempts)
	}
	j.UpdatedAt = time.Now()
	return copyJob(j), nil
}

func (r *Jobs) Delete(_ context.Context, id string) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	delete(r.jobs, id)
	return nil
}

func (r *Jobs) FindMany(_ context.Context, skip, take int) ([]*domain.Job, int, error) {
	if r.Err != nil {
		return nil, 0, r.Err
	}
	all := r.filter(func(*domain.Job) bool { return true })
	if skip >= len(all) {
		return []*domain.Job{}, len(all), nil
	}
	page := all[skip:]
	return limitJobs(page, take), len(all), nil
}

func (r *Jobs) CountByStatus(_ context.Context) (map[domain.JobStatus]int, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	counts := map[domain.JobStatus]int{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusCompleted:  0,
		domain.JobStatusFailed:     0,
		domain.JobStatusCancelled:  0,
	}
	for _, j := range r.filter(func(*domain.Job) bool { return true }) {
		counts[j.Status]++
	}
	return counts, nil
}

func (r *Jobs) FindRetryableJobs(_ context.Context, limit int) ([]*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return limitJobs(r.filter(func(j *domain.Job) bool { return j.CanRetry() }), limit), nil
}

func (r *Jobs) CleanupOldJobs(_ context.Context, olderThanDays int) (int64, error) {
	if r.Err != nil {
		return 0, r.Err
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, j := range r.jobs {
		finished := j.Status == domain.JobStatusCompleted || j.Status == domain.JobStatusFailed
		if finished && j.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func (r *Jobs) FindStuckJobs(_ context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return limitJobs(r.filter(func(j *domain.Job) bool {
		return j.Status == domain.JobStatusProcessing && j.UpdatedAt.Before(before)
	}), limit), nil
}

func (r *Jobs) FindUnlinkedJobs(_ context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	out := r.filter(func(j *domain.Job) bool {
		return j.Status == domain.JobStatusPending && j.QueueJobID == "" && j.CreatedAt.Before(before)
	})
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return limitJobs(out, limit), nil
}

// Tracks is an in-memory storage.TrackRepository
type Tracks struct {
	mu     sync.Mutex
	tracks map[string]*domain.Track

	Err error
}

var _ storage.TrackRepository = (*Tracks)(nil)

func NewTracks() *Tracks {
	return &Tracks{tracks: make(map[string]*domain.Track)}
}

func copyTrack(t *domain.Track) *domain.Track {
	c := *t
	c.Tags = append([]string{}, t.Tags...)
	if t.Metadata != nil {
		c.Metadata = t.Metadata.Merge(nil)
	}
	return &c
}

// Put stores a copy of track as-is
func (r *Tracks) Put(track *domain.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks[track.ID] = copyTrack(track)
}

// Get returns the stored track or nil
func (r *Tracks) Get(id string) *domain.Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tracks[id]; ok {
		return copyTrack(t)
	}
	return nil
}

func (r *Tracks) Create(_ context.Context, in domain.NewTrack) (*domain.Track, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	now := time.Now()
	track := &domain.Track{
		ID:          uuid.NewString(),
		Title:       in.Title,
		UserID:      in.UserID,
		Description: in.Description,
		Genre:       in.Genre,
		Tags:        in.Tags,
		Status:      domain.TrackStatusProcessing,
		Metadata:    in.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.Put(track)
	return copyTrack(track), nil
}

func (r *Tracks) FindByID(_ context.Context, id string) (*domain.Track, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if t := r.Get(id); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrTrackNotFound, id)
}

func (r *Tracks) FindByUserID(_ context.Context, userID string) ([]*domain.Track, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.Track{}
	for _, t := range r.tracks {
		if t.UserID == userID {
			out = append(out, copyTrack(t))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (r *Tracks) Update(_ context.Context, id string, patch domain.TrackPatch) (*domain.Track, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTrackNotFound, id)
	}
	if patch.AudioURL != nil {
		t.AudioURL = *patch.AudioURL
	}
	if patch.ImageURL != nil {
		t.ImageURL = *patch.ImageURL
	}
	if patch.Duration != nil {
		t.Duration = *patch.Duration
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if len(patch.Metadata) > 0 {
		t.Metadata = t.Metadata.Merge(patch.Metadata)
	}
	t.UpdatedAt = time.Now()
	return copyTrack(t), nil
}

func (r *Tracks) FindStuck(_ context.Context, before time.Time, limit int) ([]*domain.Track, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.Track{}
	for _, t := range r.tracks {
		if t.Status == domain.TrackStatusProcessing && t.CreatedAt.Before(before) {
			out = append(out, copyTrack(t))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Trends is an in-memory storage.TrendRepository keyed by hashtag
type Trends struct {
	mu     sync.Mutex
	trends map[string]*domain.Trend

	Err error
}

var _ storage.TrendRepository = (*Trends)(nil)

func NewTrends() *Trends {
	return &Trends{trends: make(map[string]*domain.Trend)}
}

func copyTrend(t *domain.Trend) *domain.Trend {
	c := *t
	if t.Metadata != nil {
		c.Metadata = t.Metadata.Merge(nil)
	}
	return &c
}

// Put stores a copy of trend as-is
func (r *Trends) Put(trend *domain.Trend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if trend.ID == "" {
		trend.ID = uuid.NewString()
	}
	r.trends[trend.Hashtag] = copyTrend(trend)
}

// All returns every stored trend ordered by view count, highest first
func (r *Trends) All() []*domain.Trend {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Trend, 0, len(r.trends))
	for _, t := range r.trends {
		out = append(out, copyTrend(t))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ViewCount > out[b].ViewCount })
	return out
}

func (r *Trends) Create(ctx context.Context, in domain.NewTrend) (*domain.Trend, error) {
	trend, _, err := r.Upsert(ctx, in)
	return trend, err
}

func (r *Trends) Upsert(_ context.Context, in domain.NewTrend) (*domain.Trend, bool, error) {
	if r.Err != nil {
		return nil, false, r.Err
	}
	hashtag := domain.NormalizeHashtag(in.Hashtag)
	if hashtag == "" {
		return nil, false, domain.NewValidationError("hashtag", "must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	t, ok := r.trends[hashtag]
	if !ok {
		t = &domain.Trend{ID: uuid.NewString(), Hashtag: hashtag, CreatedAt: now}
		r.trends[hashtag] = t
	}
	t.Title = in.Title
	t.Description = in.Description
	t.VideoCount = in.VideoCount
	t.ViewCount = in.ViewCount
	t.Category = in.Category
	t.IsActive = true
	t.Metadata = t.Metadata.Merge(in.Metadata)
	t.UpdatedAt = now
	return copyTrend(t), !ok, nil
}

func (r *Trends) find(match func(*domain.Trend) bool) *domain.Trend {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.trends {
		if match(t) {
			return t
		}
	}
	return nil
}

func (r *Trends) FindByID(_ context.Context, id string) (*domain.Trend, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if t := r.find(func(t *domain.Trend) bool { return t.ID == id }); t != nil {
		return copyTrend(t), nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrTrendNotFound, id)
}

func (r *Trends) FindByHashtag(_ context.Context, hashtag string) (*domain.Trend, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	hashtag = domain.NormalizeHashtag(hashtag)
	if t := r.find(func(t *domain.Trend) bool { return t.Hashtag == hashtag }); t != nil {
		return copyTrend(t), nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrTrendNotFound, hashtag)
}

func (r *Trends) Update(_ context.Context, id string, patch domain.TrendPatch) (*domain.Trend, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	t := r.find(func(t *domain.Trend) bool { return t.ID == id })
	if t == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTrendNotFound, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Category != nil {
		t.Category = *patch.Category
	}
	if patch.VideoCount != nil {
		t.VideoCount = *patch.VideoCount
	}
	if patch.ViewCount != nil {
		t.ViewCount = *patch.ViewCount
	}
	if patch.IsActive != nil {
		t.IsActive = *patch.IsActive
	}
	if len(patch.Metadata) > 0 {
		t.Metadata = t.Metadata.Merge(patch.Metadata)
	}
	t.UpdatedAt = time.Now()
	return copyTrend(t), nil
}

func (r *Trends) UpdateStats(ctx context.Context, id string, videoCount, viewCount int64) (*domain.Trend, error) {
	return r.Update(ctx, id, domain.TrendPatch{VideoCount: &videoCount, ViewCount: &viewCount})
}

func (r *Trends) Deactivate(ctx context.Context, id string) error {
	inactive := false
	_, err := r.Update(ctx, id, domain.TrendPatch{IsActive: &inactive})
	return err
}

func (r *Trends) FindMany(_ context.Context, skip, take int) ([]*domain.Trend, int, error) {
	if r.Err != nil {
		return nil, 0, r.Err
	}
	all := r.All()
	if skip >= len(all) {
		return []*domain.Trend{}, len(all), nil
	}
	page := all[skip:]
	if take > 0 && len(page) > take {
		page = page[:take]
	}
	return page, len(all), nil
}

func (r *Trends) FindActive(_ context.Context, limit int) ([]*domain.Trend, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	out := []*domain.Trend{}
	for _, t := range r.All() {
		if t.IsActive {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Trends) DeactivateInactive(_ context.Context, before time.Time) (int64, error) {
	if r.Err != nil {
		return 0, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.trends {
		if t.IsActive && t.UpdatedAt.Before(before) {
			t.IsActive = false
			n++
		}
	}
	return n, nil
}
