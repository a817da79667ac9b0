package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/events"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/queue/queuetest"
	"github.com/cuongbtq/trackgen-be/internal/storage/storagetest"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
	"github.com/cuongbtq/trackgen-be/shared/logger"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisLocker(client, "test:lock:")
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:lock:cleanup"))

	_, ok, err = locker.Acquire(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// other tasks are independent
	otherRelease, ok, err := locker.Acquire(ctx, "requeue", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	otherRelease()

	release()
	assert.False(t, mr.Exists("test:lock:cleanup"))

	_, ok, err = locker.Acquire(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisLocker(client, "test:lock:")

	release, ok, err := locker.Acquire(context.Background(), "cleanup", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// our lock expired and another instance took it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("test:lock:cleanup", "someone-else"))

	release()
	got, err := mr.Get("test:lock:cleanup")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_Unavailable(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, ok, err := NewRedisLocker(client, "").Acquire(context.Background(), "cleanup", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	noop := func(context.Context) error { return nil }

	t.Run("defaults overrides and disabled tasks", func(t *testing.T) {
		s, err := New(Config{Specs: map[string]string{
			TaskCleanup: "30 3 * * *",
			TaskRequeue: Disabled,
		}}, []Task{
			{Name: TaskCleanup, Run: noop},
			{Name: TaskRequeue, Run: noop},
			{Name: TaskStuckSweep, Run: noop},
		}, nil, logger.Discard())
		require.NoError(t, err)

		assert.Len(t, s.cron.Entries(), 2)
		assert.Equal(t, []string{TaskCleanup, TaskRequeue, TaskStuckSweep}, s.Tasks())
	})

	t.Run("invalid spec", func(t *testing.T) {
		_, err := New(Config{}, []Task{{Name: "bad", Spec: "every day", Run: noop}}, nil, logger.Discard())
		assert.Error(t, err)
	})

	t.Run("start and stop", func(t *testing.T) {
		s, err := New(Config{}, []Task{{Name: TaskCleanup, Run: noop}}, nil, logger.Discard())
		require.NoError(t, err)
		s.Start()
		require.NoError(t, s.Stop(context.Background()))
	})
}

func TestScheduler_RunNow(t *testing.T) {
	_, client := newRedis(t)
	locker := NewRedisLocker(client, "test:lock:")

	var runs atomic.Int32
	s, err := New(Config{}, []Task{
		{Name: "count", Spec: "@every 1h", Run: func(context.Context) error {
			runs.Add(1)
			return nil
		}},
		{Name: "broken", Spec: "@every 1h", Run: func(context.Context) error {
			return errors.New("boom")
		}},
	}, locker, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.RunNow(ctx, "count"))
	assert.Equal(t, int32(1), runs.Load())

	assert.EqualError(t, s.RunNow(ctx, "broken"), "boom")
	assert.Error(t, s.RunNow(ctx, "missing"))

	// while another instance holds the lock the run is skipped
	release, ok, err := locker.Acquire(ctx, "count", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.RunNow(ctx, "count"))
	assert.Equal(t, int32(1), runs.Load())
	release()

	require.NoError(t, s.RunNow(ctx, "count"))
	assert.Equal(t, int32(2), runs.Load())
}

type stubProvider struct {
	trending   []provider.TrendData
	engagement map[string]*provider.Engagement
	err        error
}

func (s *stubProvider) GetTrendingHashtags(context.Context, string, int) ([]provider.TrendData, error) {
	return s.trending, s.err
}

func (s *stubProvider) GetHashtagData(context.Context, string, string) (*provider.TrendData, error) {
	return nil, s.err
}

func (s *stubProvider) AnalyzeHashtagEngagement(_ context.Context, hashtag string) (*provider.Engagement, error) {
	if s.err != nil {
		return nil, s.err
	}
	if e, ok := s.engagement[hashtag]; ok {
		return e, nil
	}
	return &provider.Engagement{}, nil
}

type env struct {
	jobs   *storagetest.Jobs
	tracks *storagetest.Tracks
	trends *storagetest.Trends
	queue  *queuetest.Fake
	prov   *stubProvider
	tasks  map[string]Task
}

func newEnv(now time.Time) *env {
	e := &env{
		jobs:   storagetest.NewJobs(),
		tracks: storagetest.NewTracks(),
		trends: storagetest.NewTrends(),
		queue:  queuetest.New(),
		prov:   &stubProvider{},
		tasks:  map[string]Task{},
	}
	dispatcher := usecase.NewDispatcher(e.jobs, e.queue, logger.Discard())
	maintainer := usecase.NewJobs(e.jobs, e.queue, dispatcher, events.Nop{}, logger.Discard())
	for _, task := range DefaultTasks(Deps{
		Jobs:       e.jobs,
		Tracks:     e.tracks,
		Trends:     e.trends,
		Maintainer: maintainer,
		Queue:      e.queue,
		Provider:   e.prov,
		Logger:     logger.Discard(),
		now:        func() time.Time { return now },
		delay:      func() time.Duration { return 15 * time.Minute },
	}) {
		e.tasks[task.Name] = task
	}
	return e
}

func TestDefaultTasks_Specs(t *testing.T) {
	e := newEnv(time.Now())
	require.Len(t, e.tasks, 5)
	for name, task := range e.tasks {
		assert.Equal(t, DefaultSpecs[name], task.Spec, name)
	}
}

func TestTask_RefreshTrends(t *testing.T) {
	e := newEnv(time.Now())
	e.trends.Put(&domain.Trend{Hashtag: "fyp", Title: "old", ViewCount: 1, IsActive: false})
	e.prov.trending = []provider.TrendData{
		{Hashtag: "fyp", Title: "For You", ViewCount: 900, Region: "global"},
		{Hashtag: "dance", Title: "Dance", ViewCount: 500, Region: "global", RelatedHashtags: []string{"moves"}},
	}

	require.NoError(t, e.tasks[TaskRefreshTrends].Run(context.Background()))

	fyp, err := e.trends.FindByHashtag(context.Background(), "fyp")
	require.NoError(t, err)
	assert.Equal(t, "For You", fyp.Title)
	assert.Equal(t, int64(900), fyp.ViewCount)
	assert.True(t, fyp.IsActive)
	assert.Len(t, e.trends.All(), 2)
}

func TestTask_RefreshTrendsProviderError(t *testing.T) {
	e := newEnv(time.Now())
	e.prov.err = errors.New("upstream down")
	assert.Error(t, e.tasks[TaskRefreshTrends].Run(context.Background()))
}

func TestTask_Cleanup(t *testing.T) {
	now := time.Now()
	e := newEnv(now)
	old := now.AddDate(0, 0, -10)
	e.jobs.Put(&domain.Job{ID: "old-done", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusCompleted, MaxAttempts: 3, CreatedAt: old})
	e.jobs.Put(&domain.Job{ID: "old-pending", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusPending, MaxAttempts: 3, CreatedAt: old})
	e.jobs.Put(&domain.Job{ID: "new-done", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusCompleted, MaxAttempts: 3})
	e.trends.Put(&domain.Trend{Hashtag: "stale", IsActive: true, UpdatedAt: now.Add(-40 * 24 * time.Hour)})
	e.trends.Put(&domain.Trend{Hashtag: "recent", IsActive: true, UpdatedAt: now.Add(-10 * 24 * time.Hour)})

	id, err := e.queue.AddJob(context.Background(), domain.QueueTrackGeneration, "generate-audio", map[string]string{}, queue.JobOptions{})
	require.NoError(t, err)
	e.queue.SetState(id, queue.StateCompleted)
	_, err = e.queue.AddJob(context.Background(), domain.QueueTrackGeneration, "generate-audio", map[string]string{}, queue.JobOptions{})
	require.NoError(t, err)

	require.NoError(t, e.tasks[TaskCleanup].Run(context.Background()))

	assert.Nil(t, e.jobs.Get("old-done"))
	assert.NotNil(t, e.jobs.Get("old-pending"))
	assert.NotNil(t, e.jobs.Get("new-done"))

	stale, err := e.trends.FindByHashtag(context.Background(), "stale")
	require.NoError(t, err)
	assert.False(t, stale.IsActive)
	recent, err := e.trends.FindByHashtag(context.Background(), "recent")
	require.NoError(t, err)
	assert.True(t, recent.IsActive)

	assert.Len(t, e.queue.Entries(domain.QueueTrackGeneration), 1)
}

func TestTask_Suggestions(t *testing.T) {
	e := newEnv(time.Now())
	e.trends.Put(&domain.Trend{Hashtag: "hot", Category: "dance", ViewCount: 300, IsActive: true})
	e.trends.Put(&domain.Trend{Hashtag: "warm", Category: "music", ViewCount: 200, IsActive: true})
	e.trends.Put(&domain.Trend{Hashtag: "slow", Category: "gaming", ViewCount: 100, IsActive: true})
	e.prov.engagement = map[string]*provider.Engagement{
		"hot":  {EngagementRate: 8.5, GrowthRate: 35},
		"warm": {EngagementRate: 7.0, GrowthRate: 50},
		"slow": {EngagementRate: 9.0, GrowthRate: 10},
	}

	require.NoError(t, e.tasks[TaskSuggestions].Run(context.Background()))

	entries := e.queue.Entries(domain.QueueTrackSuggestion)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, usecase.JobNameTrendSuggestion, entry.Name)
	assert.Equal(t, 5, entry.Options.Priority)
	assert.Equal(t, 15*time.Minute, entry.Options.Delay)
	assert.Equal(t, queue.StateDelayed, entry.State)
	assert.Contains(t, string(entry.Data), `"suggestedGenre":"phonk"`)
	assert.Contains(t, string(entry.Data), `"hashtag":"hot"`)
}

func TestTask_StuckSweep(t *testing.T) {
	now := time.Now()
	e := newEnv(now)
	e.tracks.Put(&domain.Track{ID: "stuck", Status: domain.TrackStatusProcessing, CreatedAt: now.Add(-time.Hour)})
	e.tracks.Put(&domain.Track{ID: "fresh", Status: domain.TrackStatusProcessing, CreatedAt: now.Add(-5 * time.Minute)})
	e.tracks.Put(&domain.Track{ID: "done", Status: domain.TrackStatusCompleted, CreatedAt: now.Add(-time.Hour)})
	e.jobs.Put(&domain.Job{ID: "stuck-job", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusProcessing, MaxAttempts: 3, UpdatedAt: now.Add(-time.Hour)})

	require.NoError(t, e.tasks[TaskStuckSweep].Run(context.Background()))

	assert.Equal(t, domain.TrackStatusFailed, e.tracks.Get("stuck").Status)
	assert.Equal(t, domain.TrackStatusProcessing, e.tracks.Get("fresh").Status)
	assert.Equal(t, domain.TrackStatusCompleted, e.tracks.Get("done").Status)

	job := e.jobs.Get("stuck-job")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.False(t, job.CanRetry())
}

func TestTask_Requeue(t *testing.T) {
	now := time.Now()
	e := newEnv(now)
	e.jobs.Put(&domain.Job{ID: "failed", Type: domain.JobTypeAudioGeneration, Status: domain.JobStatusFailed, Attempts: 1, MaxAttempts: 3})
	e.jobs.Put(&domain.Job{ID: "orphan", Type: domain.JobTypeImageGeneration, Status: domain.JobStatusPending, MaxAttempts: 3, CreatedAt: now.Add(-5 * time.Minute)})

	require.NoError(t, e.tasks[TaskRequeue].Run(context.Background()))

	assert.Equal(t, domain.JobStatusPending, e.jobs.Get("failed").Status)
	assert.Len(t, e.queue.Entries(domain.QueueTrackGeneration), 1)
	assert.Len(t, e.queue.Entries(domain.QueueImageGeneration), 1)
	assert.NotEmpty(t, e.jobs.Get("orphan").QueueJobID)
}
