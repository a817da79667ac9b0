// Package storage persists jobs, tracks and trends in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/shared/postgresql"
)

// JobRepository is the durable store for job records
type JobRepository interface {
	Create(ctx context.Context, in domain.NewJob) (*domain.Job, error)
	FindByID(ctx context.Context, id string) (*domain.Job, error)
	FindByUserID(ctx context.Context, userID string) ([]*domain.Job, error)
	FindByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error)
	FindByType(ctx context.Context, jobType domain.JobType) ([]*domain.Job, error)
	FindByTrackID(ctx context.Context, trackID string) ([]*domain.Job, error)
	FindNextJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	Update(ctx context.Context, id string, patch domain.JobPatch) (*domain.Job, error)
	Delete(ctx context.Context, id string) error
	FindMany(ctx context.Context, skip, take int) ([]*domain.Job, int, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	FindRetryableJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	CleanupOldJobs(ctx context.Context, olderThanDays int) (int64, error)
	FindStuckJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error)
	FindUnlinkedJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error)
}

// TrackRepository is the durable store for tracks
type TrackRepository interface {
	Create(ctx context.Context, in domain.NewTrack) (*domain.Track, error)
	FindByID(ctx context.Context, id string) (*domain.Track, error)
	FindByUserID(ctx context.Context, userID string) ([]*domain.Track, error)
	Update(ctx context.Context, id string, patch domain.TrackPatch) (*domain.Track, error)
	FindStuck(ctx context.Context, before time.Time, limit int) ([]*domain.Track, error)
}

// TrendRepository is the durable store for trends, keyed by hashtag
type TrendRepository interface {
	Create(ctx context.Context, in domain.NewTrend) (*domain.Trend, error)
	Upsert(ctx context.Context, in domain.NewTrend) (*domain.Trend, bool, error)
	FindByID(ctx context.Context, id string) (*domain.Trend, error)
	FindByHashtag(ctx context.Context, hashtag string) (*domain.Trend, error)
	Update(ctx context.Context, id string, patch domain.TrendPatch) (*domain.Trend, error)
	UpdateStats(ctx context.Context, id string, videoCount, viewCount int64) (*domain.Trend, error)
	Deactivate(ctx context.Context, id string) error
	FindMany(ctx context.Context, skip, take int) ([]*domain.Trend, int, error)
	FindActive(ctx context.Context, limit int) ([]*domain.Trend, error)
	DeactivateInactive(ctx context.Context, before time.Time) (int64, error)
}

//go:embed migrations/*.sql
var migrations embed.FS

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// Migrate applies embedded migrations that have not run yet, each in its own transaction
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var applied []string
	if err := db.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version := file[len("migrations/"):]
		if done[version] {
			continue
		}

		body, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", version, err)
		}

		err = postgresql.WithTx(ctx, db, logger, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info("Applied migration", slog.String("version", version))
	}
	return nil
}

// validID reports whether id can be compared with a UUID column
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// jsonArg sends JSON as text so lib/pq hands it to a jsonb column; empty is NULL
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func pageBounds(skip, take int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = 20
	}
	if take > 100 {
		take = 100
	}
	return skip, take
}
