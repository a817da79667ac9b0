// Package provider talks to the external generation and trend services.
package provider

import (
	"context"
	"errors"
)

// ErrRejected marks a request the upstream refused; resending it will not help
var ErrRejected = errors.New("request rejected by provider")

// AudioRequest describes a track to generate
type AudioRequest struct {
	Prompt      string   `json:"prompt"`
	Duration    int      `json:"duration,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	Mood        string   `json:"mood,omitempty"`
	BPM         int      `json:"bpm,omitempty"`
	Key         string   `json:"key,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
}

// AudioResult is a generated audio file
type AudioResult struct {
	AudioURL string         `json:"audioUrl"`
	Duration int            `json:"duration"`
	Format   string         `json:"format"`
	Size     int64          `json:"size"`
	BPM      int            `json:"bpm,omitempty"`
	Key      string         `json:"key,omitempty"`
	Model    string         `json:"model,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// ImageRequest describes a cover image to generate
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Quality     string `json:"quality,omitempty"`
	Size        string `json:"size,omitempty"`
}

// ImageResult is a generated image
type ImageResult struct {
	ImageURL     string `json:"imageUrl"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Format       string `json:"format"`
	Size         int64  `json:"size"`
	AspectRatio  string `json:"aspectRatio"`
}

// TrendData is one trending hashtag as reported by the social platform
type TrendData struct {
	Hashtag         string   `json:"hashtag"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	VideoCount      int64    `json:"videoCount"`
	ViewCount       int64    `json:"viewCount"`
	Category        string   `json:"category,omitempty"`
	Region          string   `json:"region,omitempty"`
	RelatedHashtags []string `json:"relatedHashtags,omitempty"`
	EngagementRate  float64  `json:"engagementRate"`
	AverageViews    float64  `json:"averageViews"`
}

// Engagement summarises how a hashtag performs
type Engagement struct {
	TotalViews     int64   `json:"totalViews"`
	AverageViews   float64 `json:"averageViews"`
	TotalVideos    int64   `json:"totalVideos"`
	EngagementRate float64 `json:"engagementRate"`
	GrowthRate     float64 `json:"growthRate"`
	PeakHours      []int   `json:"peakHours,omitempty"`
}

type AudioGenerator interface {
	GenerateAudio(ctx context.Context, req AudioRequest) (*AudioResult, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// TrendProvider reads trend data from the social platform
type TrendProvider interface {
	GetTrendingHashtags(ctx context.Context, region string, count int) ([]TrendData, error)
	// GetHashtagData returns nil when the platform does not know the hashtag
	GetHashtagData(ctx context.Context, hashtag, region string) (*TrendData, error)
	AnalyzeHashtagEngagement(ctx context.Context, hashtag string) (*Engagement, error)
}
