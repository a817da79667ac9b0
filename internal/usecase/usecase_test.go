package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/events"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/queue/queuetest"
	"github.com/cuongbtq/trackgen-be/internal/storage/storagetest"
	"github.com/cuongbtq/trackgen-be/shared/logger"
)

type fixture struct {
	jobs       *storagetest.Jobs
	tracks     *storagetest.Tracks
	trends     *storagetest.Trends
	queue      *queuetest.Fake
	dispatcher *Dispatcher
}

func newFixture() *fixture {
	f := &fixture{
		jobs:   storagetest.NewJobs(),
		tracks: storagetest.NewTracks(),
		trends: storagetest.NewTrends(),
		queue:  queuetest.New(),
	}
	f.dispatcher = NewDispatcher(f.jobs, f.queue, logger.Discard())
	return f
}

func decodeMap(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestCreateTrack_AudioPrompt(t *testing.T) {
	f := newFixture()
	uc := NewCreateTrack(f.tracks, f.dispatcher, logger.Discard())

	out, err := uc.Execute(context.Background(), CreateTrackInput{
		Title:       "  Night Drive ",
		UserID:      "user-1",
		Description: "An upbeat synthwave ride",
		Genre:       "synthwave",
		Tags:        []string{"retro", " ", "night"},
		AudioPrompt: "80s synth lead",
		WithCover:   true,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Job)

	assert.Equal(t, "Night Drive", out.Track.Title)
	assert.Equal(t, []string{"retro", "night"}, out.Track.Tags)
	assert.Equal(t, domain.TrackStatusProcessing, out.Track.Status)

	assert.Equal(t, domain.JobTypeAudioGeneration, out.Job.Type)
	assert.Equal(t, 1, out.Job.Priority)
	assert.Equal(t, 3, out.Job.MaxAttempts)
	assert.Equal(t, out.Track.ID, out.Job.TrackID)
	assert.Equal(t, domain.QueueTrackGeneration, out.Job.QueueName)
	assert.NotEmpty(t, out.Job.QueueJobID)

	entries := f.queue.Entries(domain.QueueTrackGeneration)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, JobNameGenerateAudio, e.Name)
	assert.Equal(t, 1, e.Options.Priority)
	assert.Equal(t, 3, e.Options.Attempts)
	require.NotNil(t, e.Options.Backoff)
	assert.Equal(t, queue.BackoffExponential, e.Options.Backoff.Type)
	assert.Equal(t, 5*time.Second, e.Options.Backoff.Delay)

	var payload TrackGenerationPayload
	require.NoError(t, json.Unmarshal(e.Data, &payload))
	assert.Equal(t, out.Job.ID, payload.JobID)
	assert.Equal(t, out.Track.ID, payload.TrackID)
	assert.Equal(t, "80s synth lead", payload.Prompt)
	assert.Equal(t, "energetic", payload.Mood)
	assert.Equal(t, DefaultTrackDuration, payload.Duration)
	require.NotNil(t, payload.Image)
	assert.Empty(t, payload.Image.Prompt)

	// the durable record keeps the payload without the transport id
	assert.NotContains(t, decodeMap(t, out.Job.Data), "jobId")
}

func TestCreateTrack_ImagePromptOnly(t *testing.T) {
	f := newFixture()
	uc := NewCreateTrack(f.tracks, f.dispatcher, logger.Discard())

	out, err := uc.Execute(context.Background(), CreateTrackInput{
		Title:       "Cover only",
		UserID:      "user-1",
		ImagePrompt: "neon skyline",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Job)
	assert.Equal(t, domain.JobTypeImageGeneration, out.Job.Type)
	assert.Equal(t, 2, out.Job.Priority)

	entries := f.queue.Entries(domain.QueueImageGeneration)
	require.Len(t, entries, 1)
	assert.Equal(t, JobNameGenerateImage, entries[0].Name)
	assert.Equal(t, 3*time.Second, entries[0].Options.Backoff.Delay)

	var payload ImageGenerationPayload
	require.NoError(t, json.Unmarshal(entries[0].Data, &payload))
	assert.Equal(t, "neon skyline", payload.Prompt)
	assert.Equal(t, "artistic", payload.Style)
	assert.Equal(t, "1:1", payload.AspectRatio)
}

func TestCreateTrack_NoPrompt(t *testing.T) {
	f := newFixture()
	uc := NewCreateTrack(f.tracks, f.dispatcher, logger.Discard())

	out, err := uc.Execute(context.Background(), CreateTrackInput{Title: "Draft", UserID: "user-1"})
	require.NoError(t, err)
	assert.Nil(t, out.Job)
	assert.NotNil(t, f.tracks.Get(out.Track.ID))
	assert.Empty(t, f.queue.Entries(""))
}

func TestCreateTrack_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input CreateTrackInput
	}{
		{"missing title", CreateTrackInput{Title: "  ", UserID: "user-1"}},
		{"missing user", CreateTrackInput{Title: "Song"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			uc := NewCreateTrack(f.tracks, f.dispatcher, logger.Discard())
			_, err := uc.Execute(context.Background(), tt.input)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestCreateTrack_EnqueueFailureKeepsPendingRecord(t *testing.T) {
	f := newFixture()
	f.queue.AddErr = errors.New("redis down")
	uc := NewCreateTrack(f.tracks, f.dispatcher, logger.Discard())

	out, err := uc.Execute(context.Background(), CreateTrackInput{
		Title:       "Song",
		UserID:      "user-1",
		AudioPrompt: "piano",
	})
	require.Error(t, err)
	require.NotNil(t, out)
	require.NotNil(t, out.Job)

	stored := f.jobs.Get(out.Job.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Empty(t, stored.QueueJobID)
}

func TestMoodFromDescription(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"", ""},
		{"A VIBRANT anthem", "energetic"},
		{"soft piano for sleep", "calm"},
		{"heavy riffs", "dark"},
		{"joyful summer", "happy"},
		{"nostalgic memories", "sad"},
		{"upbeat but melancholic", "energetic"},
		{"just a song", ""},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.want, MoodFromDescription(tt.desc))
		})
	}
}

func TestSuggestionTrack(t *testing.T) {
	in := SuggestionTrack(SuggestionPayload{Hashtag: "dancechallenge", Category: "dance"})
	assert.Equal(t, "#dancechallenge inspired phonk", in.Title)
	assert.Equal(t, SystemUserID, in.UserID)
	assert.Equal(t, "phonk", in.Genre)
	assert.NotEmpty(t, in.AudioPrompt)
	assert.True(t, in.WithCover)

	assert.Equal(t, "trap", GenreForCategory("unknown"))
	assert.Equal(t, "lofi", GenreForCategory("Lifestyle"))
}

type stubTrends struct {
	trending []provider.TrendData
	hashtag  *provider.TrendData
	err      error
}

func (s *stubTrends) GetTrendingHashtags(context.Context, string, int) ([]provider.TrendData, error) {
	return s.trending, s.err
}

func (s *stubTrends) GetHashtagData(context.Context, string, string) (*provider.TrendData, error) {
	return s.hashtag, s.err
}

func (s *stubTrends) AnalyzeHashtagEngagement(context.Context, string) (*provider.Engagement, error) {
	return &provider.Engagement{}, s.err
}

func TestAnalyzeTrends_Execute(t *testing.T) {
	f := newFixture()
	uc := NewAnalyzeTrends(f.trends, &stubTrends{}, f.dispatcher, logger.Discard())

	job, err := uc.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeTrendAnalysis, job.Type)
	assert.Equal(t, 3, job.Priority)
	assert.Equal(t, 2, job.MaxAttempts)

	entries := f.queue.Entries(domain.QueueTrendAnalysis)
	require.Len(t, entries, 1)
	assert.Equal(t, JobNameAnalyzeTrends, entries[0].Name)
	assert.Equal(t, 2, entries[0].Options.Attempts)
	assert.Equal(t, 10*time.Second, entries[0].Options.Backoff.Delay)
	assert.Equal(t, DefaultRegion, decodeMap(t, entries[0].Data)["region"])
}

func TestAnalyzeTrends_ProcessAnalysis(t *testing.T) {
	f := newFixture()
	stale := &domain.Trend{Hashtag: "oldtag", IsActive: true, UpdatedAt: time.Now().Add(-10 * 24 * time.Hour)}
	f.trends.Put(stale)

	p := &stubTrends{trending: []provider.TrendData{
		{Hashtag: "fyp", Title: "For you", ViewCount: 1000, Category: "music", RelatedHashtags: []string{"viral"}},
		{Hashtag: "#dance", Title: "Dance", ViewCount: 500, Category: "dance"},
	}}
	uc := NewAnalyzeTrends(f.trends, p, f.dispatcher, logger.Discard())

	summary, err := uc.ProcessAnalysis(context.Background(), "us")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, int64(1), summary.Deactivated)

	fyp, err := f.trends.FindByHashtag(context.Background(), "fyp")
	require.NoError(t, err)
	assert.Equal(t, "tiktok", fyp.Metadata["platform"])
	assert.Equal(t, "us", fyp.Metadata["region"])
	_, err = f.trends.FindByHashtag(context.Background(), "dance")
	require.NoError(t, err)

	summary, err = uc.ProcessAnalysis(context.Background(), "us")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 2, summary.Updated)
}

func TestAnalyzeTrends_ProcessAnalysisProviderError(t *testing.T) {
	f := newFixture()
	uc := NewAnalyzeTrends(f.trends, &stubTrends{err: errors.New("rate limited")}, f.dispatcher, logger.Discard())

	_, err := uc.ProcessAnalysis(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestAnalyzeTrends_AnalyzeHashtag(t *testing.T) {
	t.Run("stores provider data", func(t *testing.T) {
		f := newFixture()
		p := &stubTrends{hashtag: &provider.TrendData{Hashtag: "whatever", Title: "Lofi", ViewCount: 42}}
		uc := NewAnalyzeTrends(f.trends, p, f.dispatcher, logger.Discard())

		trend, err := uc.AnalyzeHashtag(context.Background(), " #lofi ", "")
		require.NoError(t, err)
		assert.Equal(t, "lofi", trend.Hashtag)
		assert.Equal(t, int64(42), trend.ViewCount)
		assert.True(t, trend.IsActive)
	})

	t.Run("unknown hashtag", func(t *testing.T) {
		f := newFixture()
		uc := NewAnalyzeTrends(f.trends, &stubTrends{}, f.dispatcher, logger.Discard())

		_, err := uc.AnalyzeHashtag(context.Background(), "nothing", "")
		assert.ErrorIs(t, err, domain.ErrTrendNotFound)
	})

	t.Run("empty hashtag", func(t *testing.T) {
		f := newFixture()
		uc := NewAnalyzeTrends(f.trends, &stubTrends{}, f.dispatcher, logger.Discard())

		_, err := uc.AnalyzeHashtag(context.Background(), "#", "")
		assert.True(t, domain.IsValidation(err))
	})
}

func TestAnalyzeTrends_PopularTrends(t *testing.T) {
	f := newFixture()
	f.trends.Put(&domain.Trend{Hashtag: "a", ViewCount: 10, IsActive: true})
	f.trends.Put(&domain.Trend{Hashtag: "b", ViewCount: 30, IsActive: true})
	f.trends.Put(&domain.Trend{Hashtag: "c", ViewCount: 20, IsActive: false})
	uc := NewAnalyzeTrends(f.trends, &stubTrends{}, f.dispatcher, logger.Discard())

	trends, err := uc.PopularTrends(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, trends, 2)
	assert.Equal(t, "b", trends[0].Hashtag)
	assert.Equal(t, "a", trends[1].Hashtag)
}

func newJobs(f *fixture) (*Jobs, *events.Recorder) {
	rec := &events.Recorder{}
	return NewJobs(f.jobs, f.queue, f.dispatcher, rec, logger.Discard()), rec
}

func TestJobs_Retry(t *testing.T) {
	f := newFixture()
	uc, rec := newJobs(f)
	f.jobs.Put(&domain.Job{
		ID:          "job-1",
		Type:        domain.JobTypeAudioGeneration,
		Data:        json.RawMessage(`{"trackId":"t1"}`),
		Status:      domain.JobStatusFailed,
		Priority:    1,
		Error:       "provider timeout",
		Attempts:    1,
		MaxAttempts: 3,
	})

	job, err := uc.Retry(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.Priority)
	assert.Empty(t, job.Error)
	assert.Nil(t, job.ProcessedAt)
	assert.Equal(t, domain.QueueTrackGeneration, job.QueueName)

	entries := f.queue.Entries(domain.QueueTrackGeneration)
	require.Len(t, entries, 1)
	assert.Equal(t, JobNameGenerateAudio, entries[0].Name)
	assert.Equal(t, 2, entries[0].Options.Priority)
	assert.Equal(t, 2, entries[0].Options.Attempts)
	assert.Equal(t, "job-1", decodeMap(t, entries[0].Data)["jobId"])
	assert.Equal(t, []events.Kind{events.JobRetrying}, rec.Kinds())
}

func TestJobs_RetryRejected(t *testing.T) {
	tests := []struct {
		name    string
		job     *domain.Job
		wantErr error
	}{
		{
			name:    "exhausted",
			job:     &domain.Job{ID: "j", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusFailed, Attempts: 3, MaxAttempts: 3},
			wantErr: domain.ErrMaxAttemptsReached,
		},
		{
			name:    "completed",
			job:     &domain.Job{ID: "j", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusCompleted, MaxAttempts: 3},
			wantErr: domain.ErrInvalidTransition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			uc, _ := newJobs(f)
			f.jobs.Put(tt.job)

			_, err := uc.Retry(context.Background(), "j")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.queue.Entries(""))
		})
	}
}

func TestJobs_RetryUnknown(t *testing.T) {
	f := newFixture()
	uc, _ := newJobs(f)

	_, err := uc.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobs_Cancel(t *testing.T) {
	t.Run("pending job and its entry", func(t *testing.T) {
		f := newFixture()
		uc, rec := newJobs(f)
		created, err := f.dispatcher.Create(context.Background(), domain.NewJob{Type: domain.JobTypeAudioGeneration},
			TrackGenerationPayload{TrackID: "t1"}, JobNameGenerateAudio, queue.JobOptions{Attempts: 3})
		require.NoError(t, err)

		job, err := uc.Cancel(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, job.Status)
		assert.Equal(t, []string{created.QueueJobID}, f.queue.Removed())
		assert.Empty(t, f.queue.Entries(domain.QueueTrackGeneration))
		assert.Equal(t, []events.Kind{events.JobCancelled}, rec.Kinds())
	})

	t.Run("active entry is left to finish", func(t *testing.T) {
		f := newFixture()
		uc, _ := newJobs(f)
		created, err := f.dispatcher.Create(context.Background(), domain.NewJob{Type: domain.JobTypeAudioGeneration},
			TrackGenerationPayload{TrackID: "t1"}, JobNameGenerateAudio, queue.JobOptions{Attempts: 3})
		require.NoError(t, err)
		f.queue.SetState(created.QueueJobID, queue.StateActive)

		job, err := uc.Cancel(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, job.Status)
		assert.Len(t, f.queue.Entries(domain.QueueTrackGeneration), 1)
	})

	t.Run("processing job", func(t *testing.T) {
		f := newFixture()
		uc, rec := newJobs(f)
		f.jobs.Put(&domain.Job{ID: "j", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusProcessing, MaxAttempts: 3})

		_, err := uc.Cancel(context.Background(), "j")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, domain.JobStatusProcessing, f.jobs.Get("j").Status)
		assert.Empty(t, rec.Kinds())
	})
}

func TestJobs_Delete(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.JobStatus
		attempt int
		wantErr error
	}{
		{"completed", domain.JobStatusCompleted, 1, nil},
		{"cancelled", domain.JobStatusCancelled, 0, nil},
		{"exhausted", domain.JobStatusFailed, 3, nil},
		{"retryable failure", domain.JobStatusFailed, 1, domain.ErrJobNotTerminal},
		{"pending", domain.JobStatusPending, 0, domain.ErrJobNotTerminal},
		{"processing", domain.JobStatusProcessing, 0, domain.ErrJobNotTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			uc, _ := newJobs(f)
			f.jobs.Put(&domain.Job{ID: "j", Type: domain.JobTypeImageGeneration, Status: tt.status, Attempts: tt.attempt, MaxAttempts: 3})

			err := uc.Delete(context.Background(), "j")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NotNil(t, f.jobs.Get("j"))
				return
			}
			require.NoError(t, err)
			assert.Nil(t, f.jobs.Get("j"))
		})
	}
}

func TestJobs_ListAndStats(t *testing.T) {
	f := newFixture()
	uc, _ := newJobs(f)
	f.jobs.Put(&domain.Job{ID: "a", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusPending, UserID: "u1", TrackID: "t1", MaxAttempts: 3})
	f.jobs.Put(&domain.Job{ID: "b", Type: domain.JobTypeImageGeneration, Status: domain.JobStatusCompleted, UserID: "u1", MaxAttempts: 3})
	f.jobs.Put(&domain.Job{ID: "c", Type: domain.JobTypeTrendAnalysis, Status: domain.JobStatusFailed, UserID: "u2", MaxAttempts: 2})

	tests := []struct {
		name      string
		filter    JobFilter
		wantTotal int
		wantLen   int
	}{
		{"all", JobFilter{}, 3, 3},
		{"by user", JobFilter{UserID: "u1"}, 2, 2},
		{"by status", JobFilter{Status: domain.JobStatusFailed}, 1, 1},
		{"by type", JobFilter{Type: domain.JobTypeImageGeneration}, 1, 1},
		{"by track", JobFilter{TrackID: "t1"}, 1, 1},
		{"paged", JobFilter{UserID: "u1", Skip: 1, Take: 1}, 2, 1},
		{"past the end", JobFilter{UserID: "u1", Skip: 5}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, total, err := uc.List(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			assert.Len(t, jobs, tt.wantLen)
		})
	}

	_, _, err := uc.List(context.Background(), JobFilter{Status: "DONE"})
	assert.True(t, domain.IsValidation(err))

	stats, err := uc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[domain.JobStatusPending])
	assert.Equal(t, 0, stats.ByStatus[domain.JobStatusCancelled])
}

func TestJobs_RetryFailed(t *testing.T) {
	f := newFixture()
	uc, _ := newJobs(f)
	f.jobs.Put(&domain.Job{ID: "r1", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusFailed, Attempts: 1, MaxAttempts: 3})
	f.jobs.Put(&domain.Job{ID: "r2", Type: domain.JobTypeImageGeneration, Status: domain.JobStatusFailed, Attempts: 2, MaxAttempts: 3})
	f.jobs.Put(&domain.Job{ID: "done", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusFailed, Attempts: 3, MaxAttempts: 3})

	n, err := uc.RetryFailed(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.JobStatusPending, f.jobs.Get("r1").Status)
	assert.Equal(t, domain.JobStatusPending, f.jobs.Get("r2").Status)
	assert.Equal(t, domain.JobStatusFailed, f.jobs.Get("done").Status)

	image := f.queue.Entries(domain.QueueImageGeneration)
	require.Len(t, image, 1)
	assert.Equal(t, 1, image[0].Options.Attempts)
}

func TestJobs_RequeueUnlinked(t *testing.T) {
	f := newFixture()
	uc, _ := newJobs(f)
	old := time.Now().Add(-10 * time.Minute)
	f.jobs.Put(&domain.Job{ID: "lost", Type: domain.JobTypeTrendAnalysis, Status: domain.JobStatusPending, MaxAttempts: 2, CreatedAt: old})
	f.jobs.Put(&domain.Job{ID: "linked", Type: domain.JobTypeTrendAnalysis, Status: domain.JobStatusPending, MaxAttempts: 2, CreatedAt: old, QueueName: domain.QueueTrendAnalysis, QueueJobID: "99"})
	f.jobs.Put(&domain.Job{ID: "fresh", Type: domain.JobTypeTrendAnalysis, Status: domain.JobStatusPending, MaxAttempts: 2, CreatedAt: time.Now()})

	n, err := uc.RequeueUnlinked(context.Background(), time.Now().Add(-time.Minute), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries := f.queue.Entries(domain.QueueTrendAnalysis)
	require.Len(t, entries, 1)
	assert.Equal(t, "lost", decodeMap(t, entries[0].Data)["jobId"])
	assert.NotEmpty(t, f.jobs.Get("lost").QueueJobID)
}

func TestJobs_RetryEnqueueFailureIsRequeued(t *testing.T) {
	f := newFixture()
	uc, _ := newJobs(f)
	f.jobs.Put(&domain.Job{
		ID:          "job-1",
		Type:        domain.JobTypeAudioGeneration,
		Status:      domain.JobStatusFailed,
		Attempts:    1,
		MaxAttempts: 3,
		QueueName:   domain.QueueTrackGeneration,
		QueueJobID:  "old-7",
		CreatedAt:   time.Now().Add(-time.Hour),
	})

	f.queue.AddErr = errors.New("redis down")
	_, err := uc.Retry(context.Background(), "job-1")
	require.Error(t, err)

	stored := f.jobs.Get("job-1")
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Empty(t, stored.QueueJobID)
	assert.Empty(t, stored.QueueName)

	f.queue.AddErr = nil
	n, err := uc.RequeueUnlinked(context.Background(), time.Now().Add(-time.Minute), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.queue.Entries(domain.QueueTrackGeneration), 1)
	assert.NotEmpty(t, f.jobs.Get("job-1").QueueJobID)
}

func TestJobs_RequeueUnlinkedBehindBacklog(t *testing.T) {
	f := newFixture()
	uc, _ := newJobs(f)
	old := time.Now().Add(-time.Hour)
	for i := 0; i < 60; i++ {
		f.jobs.Put(&domain.Job{
			ID:          fmt.Sprintf("linked-%d", i),
			Type:        domain.JobTypeAudioGeneration,
			Status:      domain.JobStatusPending,
			Priority:    2,
			MaxAttempts: 3,
			QueueName:   domain.QueueTrackGeneration,
			QueueJobID:  fmt.Sprintf("%d", i),
			CreatedAt:   old,
		})
	}
	f.jobs.Put(&domain.Job{ID: "lost", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusPending, Priority: 1, MaxAttempts: 3, CreatedAt: old})

	n, err := uc.RequeueUnlinked(context.Background(), time.Now().Add(-time.Minute), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotEmpty(t, f.jobs.Get("lost").QueueJobID)
}

func TestJobs_TimeOutStuck(t *testing.T) {
	f := newFixture()
	uc, rec := newJobs(f)
	f.jobs.Put(&domain.Job{
		ID:          "stuck",
		Type:        domain.JobTypeAudioGeneration,
		Status:      domain.JobStatusProcessing,
		MaxAttempts: 3,
		UpdatedAt:   time.Now().Add(-time.Hour),
	})

	n, err := uc.TimeOutStuck(context.Background(), time.Now().Add(-30*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job := f.jobs.Get("stuck")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.False(t, job.CanRetry())
	assert.NotEmpty(t, job.Error)
	assert.Equal(t, []events.Kind{events.JobFailed}, rec.Kinds())
}
