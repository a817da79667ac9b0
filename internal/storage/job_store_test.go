package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/trackgen-be/internal/domain"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const jobID = "3f1c9a52-2b7e-4a57-9d61-0c4a8f7e2b10"

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

func newTestJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	store := NewJobStore(db)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

var jobRowColumns = []string{
	"id", "type", "data", "status", "priority", "result", "error", "attempts", "max_attempts",
	"user_id", "track_id", "queue_name", "queue_job_id", "created_at", "updated_at", "processed_at",
}

func jobRows(status domain.JobStatus, attempts int) *sqlmock.Rows {
	return sqlmock.NewRows(jobRowColumns).AddRow(
		jobID, "AUDIO_GENERATION", []byte(`{"prompt":"lofi"}`), string(status), 1, nil, nil, attempts, 3,
		"user-1", nil, "track-generation", "42", fixedNow, fixedNow, nil,
	)
}

func TestJobStore_Create(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(sqlmock.AnyArg(), "AUDIO_GENERATION", `{"prompt":"lofi"}`, "PENDING", 1, 3, "user-1", nil, fixedNow).
		WillReturnRows(jobRows(domain.JobStatusPending, 0))

	job, err := store.Create(context.Background(), domain.NewJob{
		Type:     domain.JobTypeAudioGeneration,
		Data:     json.RawMessage(`{"prompt":"lofi"}`),
		Priority: 1,
		UserID:   "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, "track-generation", job.QueueName)
	assert.Empty(t, job.TrackID)
	assert.Nil(t, job.Result)
	assert.Nil(t, job.ProcessedAt)
	assert.JSONEq(t, `{"prompt":"lofi"}`, string(job.Data))
}

func TestJobStore_CreateRejectsUnknownType(t *testing.T) {
	store, _ := newTestJobStore(t)

	_, err := store.Create(context.Background(), domain.NewJob{Type: "RENDER_VIDEO"})
	assert.True(t, domain.IsValidation(err))
}

func TestJobStore_FindByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newTestJobStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1")).
			WithArgs(jobID).
			WillReturnRows(jobRows(domain.JobStatusProcessing, 1))

		job, err := store.FindByID(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, job.Status)
		assert.Equal(t, 1, job.Attempts)
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newTestJobStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1")).
			WithArgs(jobID).
			WillReturnError(sql.ErrNoRows)

		_, err := store.FindByID(context.Background(), jobID)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("malformed id never hits the database", func(t *testing.T) {
		store, _ := newTestJobStore(t)

		_, err := store.FindByID(context.Background(), "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestJobStore_FindNextJobs(t *testing.T) {
	store, mock := newTestJobStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 ORDER BY priority DESC, created_at ASC LIMIT $2")).
		WithArgs("PENDING", 10).
		WillReturnRows(jobRows(domain.JobStatusPending, 0))

	jobs, err := store.FindNextJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobStore_FindUnlinkedJobs(t *testing.T) {
	store, mock := newTestJobStore(t)
	cutoff := fixedNow.Add(-5 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND queue_job_id IS NULL AND created_at < $2 ORDER BY priority DESC, created_at ASC LIMIT $3")).
		WithArgs("PENDING", cutoff, 50).
		WillReturnRows(jobRows(domain.JobStatusPending, 0))

	jobs, err := store.FindUnlinkedJobs(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobStore_Update(t *testing.T) {
	store, mock := newTestJobStore(t)

	status := domain.JobStatusFailed
	msg := "provider timeout"
	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE jobs SET status = $1, error = $2, processed_at = NULL, updated_at = $3 WHERE id = $4 RETURNING")).
		WithArgs("FAILED", msg, fixedNow, jobID).
		WillReturnRows(jobRows(domain.JobStatusFailed, 1))

	job, err := store.Update(context.Background(), jobID, domain.JobPatch{
		Status:           &status,
		Error:            &msg,
		ClearProcessedAt: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestJobStore_UpdateMissing(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE jobs SET updated_at = $1 WHERE id = $2")).
		WithArgs(fixedNow, jobID).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Update(context.Background(), jobID, domain.JobPatch{})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobStore_Delete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "deleted", affected: 1},
		{name: "missing", affected: 0, wantErr: domain.ErrJobNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newTestJobStore(t)
			mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE id = $1")).
				WithArgs(jobID).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := store.Delete(context.Background(), jobID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJobStore_FindMany(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM jobs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC OFFSET $1 LIMIT $2")).
		WithArgs(0, 100).
		WillReturnRows(jobRows(domain.JobStatusPending, 0))

	jobs, total, err := store.FindMany(context.Background(), -5, 1000)
	require.NoError(t, err)
	assert.Equal(t, 41, total)
	assert.Len(t, jobs, 1)
}

func TestJobStore_CountByStatus(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM jobs GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("PENDING", 4).
			AddRow("FAILED", 2))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[domain.JobStatus]int{
		domain.JobStatusPending:    4,
		domain.JobStatusProcessing: 0,
		domain.JobStatusCompleted:  0,
		domain.JobStatusFailed:     2,
		domain.JobStatusCancelled:  0,
	}, counts)
}

func TestJobStore_FindRetryableJobs(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND attempts < max_attempts")).
		WithArgs("FAILED", 50).
		WillReturnRows(jobRows(domain.JobStatusFailed, 1))

	jobs, err := store.FindRetryableJobs(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].CanRetry())
}

func TestJobStore_CleanupOldJobs(t *testing.T) {
	store, mock := newTestJobStore(t)

	cutoff := fixedNow.AddDate(0, 0, -7)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE status IN ($1, $2) AND created_at < $3")).
		WithArgs("COMPLETED", "FAILED", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := store.CleanupOldJobs(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestJobStore_FindStuckJobs(t *testing.T) {
	store, mock := newTestJobStore(t)

	before := fixedNow.Add(-30 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND updated_at < $2")).
		WithArgs("PROCESSING", before, 100).
		WillReturnRows(jobRows(domain.JobStatusProcessing, 0))

	jobs, err := store.FindStuckJobs(context.Background(), before, 100)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
