package domain

import (
	"fmt"
	"time"
)

// TrackStatus is the generation state of a track
type TrackStatus string

const (
	TrackStatusProcessing TrackStatus = "PROCESSING"
	TrackStatusCompleted  TrackStatus = "COMPLETED"
	TrackStatusFailed     TrackStatus = "FAILED"
)

// Track is a generated song owned by a user
type Track struct {
	ID          string
	Title       string
	UserID      string
	Description string
	AudioURL    string
	ImageURL    string
	Genre       string
	Tags        []string
	Duration    int // seconds
	Status      TrackStatus
	Metadata    Metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *Track) IsProcessing() bool { return t.Status == TrackStatusProcessing }
func (t *Track) IsCompleted() bool  { return t.Status == TrackStatusCompleted }
func (t *Track) HasFailed() bool    { return t.Status == TrackStatusFailed }

// FormattedDuration renders the duration as mm:ss
func (t *Track) FormattedDuration() string {
	return fmt.Sprintf("%02d:%02d", t.Duration/60, t.Duration%60)
}

// NewTrack is the input for creating a track
type NewTrack struct {
	Title       string
	UserID      string
	Description string
	Genre       string
	Tags        []string
	Metadata    Metadata
}

// TrackPatch is a partial track update; nil fields are left untouched
type TrackPatch struct {
	AudioURL *string
	ImageURL *string
	Duration *int
	Status   *TrackStatus
	Metadata Metadata
}
