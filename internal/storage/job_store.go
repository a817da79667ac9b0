package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/trackgen-be/internal/domain"
)

const jobColumns = `id, type, data, status, priority, result, error, attempts, max_attempts,
	user_id, track_id, queue_name, queue_job_id, created_at, updated_at, processed_at`

type jobRow struct {
	ID          string         `db:"id"`
	Type        string         `db:"type"`
	Data        []byte         `db:"data"`
	Status      string         `db:"status"`
	Priority    int            `db:"priority"`
	Result      []byte         `db:"result"`
	Error       sql.NullString `db:"error"`
	Attempts    int            `db:"attempts"`
	MaxAttempts int            `db:"max_attempts"`
	UserID      sql.NullString `db:"user_id"`
	TrackID     sql.NullString `db:"track_id"`
	QueueName   sql.NullString `db:"queue_name"`
	QueueJobID  sql.NullString `db:"queue_job_id"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	ProcessedAt sql.NullTime   `db:"processed_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:          r.ID,
		Type:        domain.JobType(r.Type),
		Data:        json.RawMessage(r.Data),
		Status:      domain.JobStatus(r.Status),
		Priority:    r.Priority,
		Error:       r.Error.String,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		UserID:      r.UserID.String,
		TrackID:     r.TrackID.String,
		QueueName:   r.QueueName.String,
		QueueJobID:  r.QueueJobID.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Result) > 0 {
		job.Result = json.RawMessage(r.Result)
	}
	if r.ProcessedAt.Valid {
		at := r.ProcessedAt.Time
		job.ProcessedAt = &at
	}
	return job
}

func jobsFromRows(rows []jobRow) []*domain.Job {
	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs
}

// JobStore is the PostgreSQL JobRepository
type JobStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ JobRepository = (*JobStore)(nil)

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

func (s *JobStore) Create(ctx context.Context, in domain.NewJob) (*domain.Job, error) {
	if !in.Type.Valid() {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown job type %q", in.Type))
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	data := in.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO jobs (
			id, type, data, status, priority, attempts, max_attempts,
			user_id, track_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, 0, $6,
			$7, $8, $9, $9
		)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		uuid.NewString(),
		string(in.Type),
		string(data),
		string(domain.JobStatusPending),
		in.Priority,
		maxAttempts,
		nullString(in.UserID),
		nullString(in.TrackID),
		s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return row.toDomain(), nil
}

func (s *JobStore) FindByID(ctx context.Context, id string) (*domain.Job, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *JobStore) selectJobs(ctx context.Context, what string, query string, args ...any) ([]*domain.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find jobs by %s: %w", what, err)
	}
	return jobsFromRows(rows), nil
}

func (s *JobStore) FindByUserID(ctx context.Context, userID string) ([]*domain.Job, error) {
	return s.selectJobs(ctx, "user",
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *JobStore) FindByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	return s.selectJobs(ctx, "status",
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC`, string(status))
}

func (s *JobStore) FindByType(ctx context.Context, jobType domain.JobType) ([]*domain.Job, error) {
	return s.selectJobs(ctx, "type",
		`SELECT `+jobColumns+` FROM jobs WHERE type = $1 ORDER BY created_at DESC`, string(jobType))
}

func (s *JobStore) FindByTrackID(ctx context.Context, trackID string) ([]*domain.Job, error) {
	if !validID(trackID) {
		return []*domain.Job{}, nil
	}
	return s.selectJobs(ctx, "track",
		`SELECT `+jobColumns+` FROM jobs WHERE track_id = $1 ORDER BY created_at DESC`, trackID)
}

// FindNextJobs returns pending jobs, highest priority first then oldest
func (s *JobStore) FindNextJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.selectJobs(ctx, "next",
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY priority DESC, created_at ASC LIMIT $2`,
		string(domain.JobStatusPending), limit)
}

// Update applies the non-nil fields of patch and returns the stored job
func (s *JobStore) Update(ctx context.Context, id string, patch domain.JobPatch) (*domain.Job, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.Priority != nil {
		set("priority", *patch.Priority)
	}
	if patch.Data != nil {
		set("data", jsonArg(*patch.Data))
	}
	if patch.Result != nil {
		set("result", jsonArg(*patch.Result))
	}
	if patch.Error != nil {
		set("error", nullString(*patch.Error))
	}
	if patch.Attempts != nil {
		set("attempts", *patch.Attempts)
	}
	if patch.MaxAttempts != nil {
		set("max_attempts", *patch.MaxAttempts)
	}
	if patch.QueueName != nil {
		set("queue_name", nullString(*patch.QueueName))
	}
	if patch.QueueJobID != nil {
		set("queue_job_id", nullString(*patch.QueueJobID))
	}
	if patch.ProcessedAt != nil {
		set("processed_at", *patch.ProcessedAt)
	} else if patch.ClearProcessedAt {
		sets = append(sets, "processed_at = NULL")
	}
	set("updated_at", s.now())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), jobColumns)

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return nil
}

// FindMany pages through all jobs, newest first, and returns the total count
func (s *JobStore) FindMany(ctx context.Context, skip, take int) ([]*domain.Job, int, error) {
	skip, take = pageBounds(skip, take)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM jobs`); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	jobs, err := s.selectJobs(ctx, "page",
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC OFFSET $1 LIMIT $2`, skip, take)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// CountByStatus returns a count for every status, including zeros
func (s *JobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	counts := map[domain.JobStatus]int{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusCompleted:  0,
		domain.JobStatusFailed:     0,
		domain.JobStatusCancelled:  0,
	}
	for _, r := range rows {
		counts[domain.JobStatus(r.Status)] = r.Count
	}
	return counts, nil
}

// FindRetryableJobs returns failed jobs that still have attempts left
func (s *JobStore) FindRetryableJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.selectJobs(ctx, "retryable",
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND attempts < max_attempts ORDER BY updated_at ASC LIMIT $2`,
		string(domain.JobStatusFailed), limit)
}

// CleanupOldJobs deletes completed and failed jobs created more than olderThanDays ago
func (s *JobStore) CleanupOldJobs(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -olderThanDays)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2) AND created_at < $3`,
		string(domain.JobStatusCompleted), string(domain.JobStatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old jobs: %w", err)
	}
	return n, nil
}

// FindStuckJobs returns processing jobs not updated since before
func (s *JobStore) FindStuckJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	return s.selectJobs(ctx, "stuck",
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`,
		string(domain.JobStatusProcessing), before, limit)
}

// FindUnlinkedJobs returns pending jobs created before before that have no
// queue entry, highest priority first then oldest
func (s *JobStore) FindUnlinkedJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	return s.selectJobs(ctx, "unlinked",
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND queue_job_id IS NULL AND created_at < $2 ORDER BY priority DESC, created_at ASC LIMIT $3`,
		string(domain.JobStatusPending), before, limit)
}
