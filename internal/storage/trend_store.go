package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/trackgen-be/internal/domain"
)

const trendColumns = `id, hashtag, title, description, video_count, view_count, category,
	is_active, metadata, created_at, updated_at`

type trendRow struct {
	ID          string          `db:"id"`
	Hashtag     string          `db:"hashtag"`
	Title       string          `db:"title"`
	Description string          `db:"description"`
	VideoCount  int64           `db:"video_count"`
	ViewCount   int64           `db:"view_count"`
	Category    string          `db:"category"`
	IsActive    bool            `db:"is_active"`
	Metadata    domain.Metadata `db:"metadata"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r *trendRow) toDomain() *domain.Trend {
	return &domain.Trend{
		ID:          r.ID,
		Hashtag:     r.Hashtag,
		Title:       r.Title,
		Description: r.Description,
		VideoCount:  r.VideoCount,
		ViewCount:   r.ViewCount,
		Category:    r.Category,
		IsActive:    r.IsActive,
		Metadata:    r.Metadata,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func trendsFromRows(rows []trendRow) []*domain.Trend {
	trends := make([]*domain.Trend, len(rows))
	for i := range rows {
		trends[i] = rows[i].toDomain()
	}
	return trends
}

// TrendStore is the PostgreSQL TrendRepository
type TrendStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ TrendRepository = (*TrendStore)(nil)

func NewTrendStore(db *sqlx.DB) *TrendStore {
	return &TrendStore{db: db, now: time.Now}
}

func (s *TrendStore) Create(ctx context.Context, in domain.NewTrend) (*domain.Trend, error) {
	hashtag := domain.NormalizeHashtag(in.Hashtag)
	if hashtag == "" {
		return nil, domain.NewValidationError("hashtag", "must not be empty")
	}

	query := `
		INSERT INTO trends (
			id, hashtag, title, description, video_count, view_count, category,
			is_active, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $9
		)
		RETURNING ` + trendColumns

	var row trendRow
	err := s.db.GetContext(ctx, &row, query,
		uuid.NewString(), hashtag, in.Title, in.Description,
		in.VideoCount, in.ViewCount, in.Category, in.Metadata, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to create trend: %w", err)
	}
	return row.toDomain(), nil
}

// Upsert inserts a trend or refreshes the existing row with the same hashtag.
// The bool reports whether a new row was inserted.
func (s *TrendStore) Upsert(ctx context.Context, in domain.NewTrend) (*domain.Trend, bool, error) {
	hashtag := domain.NormalizeHashtag(in.Hashtag)
	if hashtag == "" {
		return nil, false, domain.NewValidationError("hashtag", "must not be empty")
	}

	query := `
		INSERT INTO trends (
			id, hashtag, title, description, video_count, view_count, category,
			is_active, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $9
		)
		ON CONFLICT (hashtag) DO UPDATE SET
			title       = EXCLUDED.title,
			description = EXCLUDED.description,
			video_count = EXCLUDED.video_count,
			view_count  = EXCLUDED.view_count,
			category    = EXCLUDED.category,
			metadata    = COALESCE(trends.metadata, '{}'::jsonb) || COALESCE(EXCLUDED.metadata, '{}'::jsonb),
			is_active   = TRUE,
			updated_at  = EXCLUDED.updated_at
		RETURNING ` + trendColumns + `, (xmax = 0) AS inserted`

	var row struct {
		trendRow
		Inserted bool `db:"inserted"`
	}
	err := s.db.GetContext(ctx, &row, query,
		uuid.NewString(), hashtag, in.Title, in.Description,
		in.VideoCount, in.ViewCount, in.Category, in.Metadata, s.now())
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert trend %s: %w", hashtag, err)
	}
	return row.trendRow.toDomain(), row.Inserted, nil
}

func (s *TrendStore) FindByID(ctx context.Context, id string) (*domain.Trend, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTrendNotFound, id)
	}
	return s.getOne(ctx, id, `SELECT `+trendColumns+` FROM trends WHERE id = $1`, id)
}

func (s *TrendStore) FindByHashtag(ctx context.Context, hashtag string) (*domain.Trend, error) {
	hashtag = domain.NormalizeHashtag(hashtag)
	return s.getOne(ctx, hashtag, `SELECT `+trendColumns+` FROM trends WHERE hashtag = $1`, hashtag)
}

func (s *TrendStore) getOne(ctx context.Context, key, query string, args ...any) (*domain.Trend, error) {
	var row trendRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTrendNotFound, key)
		}
		return nil, fmt.Errorf("failed to get trend %s: %w", key, err)
	}
	return row.toDomain(), nil
}

func (s *TrendStore) Update(ctx context.Context, id string, patch domain.TrendPatch) (*domain.Trend, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTrendNotFound, id)
	}

	var sets []string
	var args []any
	set := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Title != nil {
		set("title = $%d", *patch.Title)
	}
	if patch.Description != nil {
		set("description = $%d", *patch.Description)
	}
	if patch.Category != nil {
		set("category = $%d", *patch.Category)
	}
	if patch.VideoCount != nil {
		set("video_count = $%d", *patch.VideoCount)
	}
	if patch.ViewCount != nil {
		set("view_count = $%d", *patch.ViewCount)
	}
	if patch.IsActive != nil {
		set("is_active = $%d", *patch.IsActive)
	}
	if len(patch.Metadata) > 0 {
		set("metadata = COALESCE(metadata, '{}'::jsonb) || $%d::jsonb", patch.Metadata)
	}
	set("updated_at = $%d", s.now())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE trends SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), trendColumns)

	return s.getOne(ctx, id, query, args...)
}

func (s *TrendStore) UpdateStats(ctx context.Context, id string, videoCount, viewCount int64) (*domain.Trend, error) {
	return s.Update(ctx, id, domain.TrendPatch{VideoCount: &videoCount, ViewCount: &viewCount})
}

func (s *TrendStore) Deactivate(ctx context.Context, id string) error {
	inactive := false
	_, err := s.Update(ctx, id, domain.TrendPatch{IsActive: &inactive})
	return err
}

// FindMany pages through trends ordered by view count, highest first
func (s *TrendStore) FindMany(ctx context.Context, skip, take int) ([]*domain.Trend, int, error) {
	skip, take = pageBounds(skip, take)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM trends`); err != nil {
		return nil, 0, fmt.Errorf("failed to count trends: %w", err)
	}

	var rows []trendRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+trendColumns+` FROM trends ORDER BY view_count DESC OFFSET $1 LIMIT $2`, skip, take)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find trends: %w", err)
	}
	return trendsFromRows(rows), total, nil
}

// FindActive returns active trends by view count, highest first
func (s *TrendStore) FindActive(ctx context.Context, limit int) ([]*domain.Trend, error) {
	var rows []trendRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+trendColumns+` FROM trends WHERE is_active = TRUE ORDER BY view_count DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find active trends: %w", err)
	}
	return trendsFromRows(rows), nil
}

// DeactivateInactive switches off active trends not refreshed since before
func (s *TrendStore) DeactivateInactive(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trends SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND updated_at < $2`,
		s.now(), before)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate trends: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate trends: %w", err)
	}
	return n, nil
}
