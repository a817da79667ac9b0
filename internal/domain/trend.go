package domain

import (
	"fmt"
	"strings"
	"time"
)

// Trend is a social media hashtag tracked for track suggestions
type Trend struct {
	ID          string
	Hashtag     string
	Title       string
	Description string
	VideoCount  int64
	ViewCount   int64
	Category    string
	IsActive    bool
	Metadata    Metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeHashtag strips the leading '#' and surrounding whitespace
func NormalizeHashtag(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "#")
}

// AverageViewsPerVideo returns 0 for trends without videos
func (t *Trend) AverageViewsPerVideo() float64 {
	if t.VideoCount == 0 {
		return 0
	}
	return float64(t.ViewCount) / float64(t.VideoCount)
}

func (t *Trend) IsPopular() bool { return t.ViewCount >= 1_000_000 }
func (t *Trend) IsViral() bool   { return t.ViewCount >= 100_000_000 }

// FormattedViewCount renders the view count with a K/M/B suffix
func (t *Trend) FormattedViewCount() string {
	v := float64(t.ViewCount)
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	}
	return fmt.Sprintf("%d", t.ViewCount)
}

// NewTrend is the input for creating a trend
type NewTrend struct {
	Hashtag     string
	Title       string
	Description string
	VideoCount  int64
	ViewCount   int64
	Category    string
	Metadata    Metadata
}

// TrendPatch is a partial trend update; nil fields are left untouched
type TrendPatch struct {
	Title       *string
	Description *string
	Category    *string
	VideoCount  *int64
	ViewCount   *int64
	IsActive    *bool
	Metadata    Metadata
}
