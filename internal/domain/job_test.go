package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingJob() *Job {
	return &Job{
		ID:          "job-1",
		Type:        JobTypeAudioGeneration,
		Status:      JobStatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now().Add(-time.Minute),
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusFailed, JobStatusPending, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusCompleted, JobStatusPending, false},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusCancelled, JobStatusPending, false},
		{JobStatusFailed, JobStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	now := time.Now()

	t.Run("start and complete", func(t *testing.T) {
		job := newPendingJob()
		require.NoError(t, job.Start(now))
		assert.True(t, job.IsProcessing())

		require.NoError(t, job.Complete(json.RawMessage(`{"ok":true}`), now))
		assert.True(t, job.IsCompleted())
		assert.True(t, job.IsTerminal())
		assert.Empty(t, job.Error)
		assert.JSONEq(t, `{"ok":true}`, string(job.Result))
		require.NotNil(t, job.ProcessedAt)

		d, ok := job.ProcessingTime()
		assert.True(t, ok)
		assert.Greater(t, d, time.Duration(0))
	})

	t.Run("complete without start is rejected", func(t *testing.T) {
		job := newPendingJob()
		err := job.Complete(nil, now)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.True(t, job.IsPending())
	})

	t.Run("fail counts attempts and clears result", func(t *testing.T) {
		job := newPendingJob()
		job.Result = json.RawMessage(`{}`)
		require.NoError(t, job.Start(now))
		require.NoError(t, job.Fail("boom", now))

		assert.True(t, job.HasFailed())
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, "boom", job.Error)
		assert.Nil(t, job.Result)
		assert.True(t, job.CanRetry())
		assert.False(t, job.IsTerminal())
	})

	t.Run("retry until attempts are exhausted", func(t *testing.T) {
		job := newPendingJob()
		for i := 1; i <= job.MaxAttempts; i++ {
			require.NoError(t, job.Start(now))
			require.NoError(t, job.Fail("boom", now))
			assert.Equal(t, i, job.Attempts)
			if i < job.MaxAttempts {
				require.NoError(t, job.Retry(now))
				assert.True(t, job.IsPending())
				assert.Empty(t, job.Error)
			}
		}

		assert.False(t, job.CanRetry())
		assert.True(t, job.HasReachedMaxAttempts())
		assert.True(t, job.IsTerminal())

		err := job.Retry(now)
		require.ErrorIs(t, err, ErrMaxAttemptsReached)
		assert.True(t, job.HasFailed())
	})

	t.Run("attempts never exceed max", func(t *testing.T) {
		job := newPendingJob()
		job.Attempts = job.MaxAttempts
		job.Status = JobStatusProcessing
		require.NoError(t, job.Fail("again", now))
		assert.Equal(t, job.MaxAttempts, job.Attempts)
	})

	t.Run("cancel only pending", func(t *testing.T) {
		job := newPendingJob()
		require.NoError(t, job.Cancel(now))
		assert.True(t, job.IsCancelled())

		running := newPendingJob()
		require.NoError(t, running.Start(now))
		require.ErrorIs(t, running.Cancel(now), ErrInvalidTransition)
	})

	t.Run("timeout exhausts the job", func(t *testing.T) {
		job := newPendingJob()
		require.NoError(t, job.Start(now))
		require.NoError(t, job.TimeOut("processing timeout", now))
		assert.True(t, job.HasFailed())
		assert.Equal(t, "processing timeout", job.Error)
		assert.False(t, job.CanRetry())
	})

	t.Run("timeout requires processing", func(t *testing.T) {
		job := newPendingJob()
		require.ErrorIs(t, job.TimeOut("x", now), ErrInvalidTransition)
	})
}

func TestJob_StatePatch(t *testing.T) {
	now := time.Now()
	job := newPendingJob()
	require.NoError(t, job.Start(now))
	require.NoError(t, job.Fail("boom", now))

	patch := job.StatePatch()
	require.NotNil(t, patch.Status)
	assert.Equal(t, JobStatusFailed, *patch.Status)
	assert.Equal(t, "boom", *patch.Error)
	assert.Equal(t, 1, *patch.Attempts)
	require.NotNil(t, patch.ProcessedAt)
	assert.False(t, patch.ClearProcessedAt)

	require.NoError(t, job.Retry(now))
	patch = job.StatePatch()
	assert.True(t, patch.ClearProcessedAt)
	assert.Nil(t, patch.ProcessedAt)
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, QueueTrackGeneration, QueueFor(JobTypeAudioGeneration))
	assert.Equal(t, QueueImageGeneration, QueueFor(JobTypeImageGeneration))
	assert.Equal(t, QueueTrendAnalysis, QueueFor(JobTypeTrendAnalysis))
	assert.Equal(t, QueueTikTokUpload, QueueFor(JobTypeTikTokUpload))
	assert.Empty(t, QueueFor(JobType("UNKNOWN")))
}

func TestJobType_Valid(t *testing.T) {
	assert.True(t, JobTypeTrendAnalysis.Valid())
	assert.False(t, JobType("nope").Valid())
	assert.True(t, JobStatusCancelled.Valid())
	assert.False(t, JobStatus("DONE").Valid())
}
