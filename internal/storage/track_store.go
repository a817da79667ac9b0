package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/trackgen-be/internal/domain"
)

const trackColumns = `id, title, user_id, description, audio_url, image_url, genre, tags,
	duration, status, metadata, created_at, updated_at`

type trackRow struct {
	ID          string          `db:"id"`
	Title       string          `db:"title"`
	UserID      string          `db:"user_id"`
	Description string          `db:"description"`
	AudioURL    string          `db:"audio_url"`
	ImageURL    string          `db:"image_url"`
	Genre       string          `db:"genre"`
	Tags        pq.StringArray  `db:"tags"`
	Duration    int             `db:"duration"`
	Status      string          `db:"status"`
	Metadata    domain.Metadata `db:"metadata"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r *trackRow) toDomain() *domain.Track {
	tags := []string(r.Tags)
	if tags == nil {
		tags = []string{}
	}
	return &domain.Track{
		ID:          r.ID,
		Title:       r.Title,
		UserID:      r.UserID,
		Description: r.Description,
		AudioURL:    r.AudioURL,
		ImageURL:    r.ImageURL,
		Genre:       r.Genre,
		Tags:        tags,
		Duration:    r.Duration,
		Status:      domain.TrackStatus(r.Status),
		Metadata:    r.Metadata,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// TrackStore is the PostgreSQL TrackRepository
type TrackStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ TrackRepository = (*TrackStore)(nil)

func NewTrackStore(db *sqlx.DB) *TrackStore {
	return &TrackStore{db: db, now: time.Now}
}

func (s *TrackStore) Create(ctx context.Context, in domain.NewTrack) (*domain.Track, error) {
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO tracks (
			id, title, user_id, description, genre, tags, status, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $9
		)
		RETURNING ` + trackColumns

	var row trackRow
	err := s.db.GetContext(ctx, &row, query,
		uuid.NewString(),
		in.Title,
		in.UserID,
		in.Description,
		in.Genre,
		pq.Array(tags),
		string(domain.TrackStatusProcessing),
		in.Metadata,
		s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	return row.toDomain(), nil
}

func (s *TrackStore) FindByID(ctx context.Context, id string) (*domain.Track, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTrackNotFound, id)
	}

	var row trackRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+trackColumns+` FROM tracks WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTrackNotFound, id)
		}
		return nil, fmt.Errorf("failed to get track %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *TrackStore) FindByUserID(ctx context.Context, userID string) ([]*domain.Track, error) {
	var rows []trackRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+trackColumns+` FROM tracks WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find tracks by user: %w", err)
	}
	return tracksFromRows(rows), nil
}

// Update applies patch; Metadata keys are merged into the stored object
func (s *TrackStore) Update(ctx context.Context, id string, patch domain.TrackPatch) (*domain.Track, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTrackNotFound, id)
	}

	var sets []string
	var args []any
	set := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.AudioURL != nil {
		set("audio_url = $%d", *patch.AudioURL)
	}
	if patch.ImageURL != nil {
		set("image_url = $%d", *patch.ImageURL)
	}
	if patch.Duration != nil {
		set("duration = $%d", *patch.Duration)
	}
	if patch.Status != nil {
		set("status = $%d", string(*patch.Status))
	}
	if len(patch.Metadata) > 0 {
		set("metadata = COALESCE(metadata, '{}'::jsonb) || $%d::jsonb", patch.Metadata)
	}
	set("updated_at = $%d", s.now())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tracks SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), trackColumns)

	var row trackRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTrackNotFound, id)
		}
		return nil, fmt.Errorf("failed to update track %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// FindStuck returns tracks still processing that were created before the cutoff
func (s *TrackStore) FindStuck(ctx context.Context, before time.Time, limit int) ([]*domain.Track, error) {
	var rows []trackRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+trackColumns+` FROM tracks WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`,
		string(domain.TrackStatusProcessing), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck tracks: %w", err)
	}
	return tracksFromRows(rows), nil
}

func tracksFromRows(rows []trackRow) []*domain.Track {
	tracks := make([]*domain.Track, len(rows))
	for i := range rows {
		tracks[i] = rows[i].toDomain()
	}
	return tracks
}
