package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Transport job names
const (
	JobNameGenerateAudio    = "generate-audio"
	JobNameGenerateImage    = "generate-image"
	JobNameAnalyzeTrends    = "analyze-trends"
	JobNameTrendSuggestion  = "generate-trend-suggestion"
	SystemUserID            = "system"
	DefaultTrackDuration    = 30
	DefaultRegion           = "global"
	suggestionTitleTemplate = "#%s inspired %s"
)

// ImageParams controls cover art generation. An empty prompt is derived
// from the track's genre, mood and title.
type ImageParams struct {
	Prompt      string `json:"prompt,omitempty"`
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Quality     string `json:"quality,omitempty"`
}

// TrackGenerationPayload is the data of an AUDIO_GENERATION job
type TrackGenerationPayload struct {
	JobID    string       `json:"jobId,omitempty"`
	TrackID  string       `json:"trackId"`
	UserID   string       `json:"userId,omitempty"`
	Prompt   string       `json:"prompt"`
	Genre    string       `json:"genre,omitempty"`
	Duration int          `json:"duration,omitempty"`
	Mood     string       `json:"mood,omitempty"`
	BPM      int          `json:"bpm,omitempty"`
	Key      string       `json:"key,omitempty"`
	Image    *ImageParams `json:"image,omitempty"`
}

// ImageGenerationPayload is the data of an IMAGE_GENERATION job
type ImageGenerationPayload struct {
	JobID   string `json:"jobId,omitempty"`
	TrackID string `json:"trackId"`
	UserID  string `json:"userId,omitempty"`
	ImageParams
}

// TrendAnalysisPayload is the data of a TREND_ANALYSIS job
type TrendAnalysisPayload struct {
	JobID        string    `json:"jobId,omitempty"`
	Region       string    `json:"region"`
	AnalysisType string    `json:"analysisType,omitempty"`
	RequestedAt  time.Time `json:"requestedAt"`
}

// SuggestionPayload asks for a track inspired by a trending hashtag.
// It has no durable job record.
type SuggestionPayload struct {
	TrendID        string  `json:"trendId,omitempty"`
	Hashtag        string  `json:"hashtag"`
	Category       string  `json:"category,omitempty"`
	SuggestedGenre string  `json:"suggestedGenre"`
	EngagementRate float64 `json:"engagementRate"`
	GrowthRate     float64 `json:"growthRate"`
}

var categoryGenres = map[string]string{
	"music":     "trap",
	"dance":     "phonk",
	"gaming":    "drill",
	"lifestyle": "lofi",
}

// GenreForCategory maps a trend category to the genre suggested for it
func GenreForCategory(category string) string {
	if genre, ok := categoryGenres[strings.ToLower(category)]; ok {
		return genre
	}
	return "trap"
}

// SuggestionTrack derives the track request for a suggestion
func SuggestionTrack(p SuggestionPayload) CreateTrackInput {
	genre := p.SuggestedGenre
	if genre == "" {
		genre = GenreForCategory(p.Category)
	}
	return CreateTrackInput{
		Title:       fmt.Sprintf(suggestionTitleTemplate, p.Hashtag, genre),
		UserID:      SystemUserID,
		Description: fmt.Sprintf("Suggested from trending hashtag #%s", p.Hashtag),
		Genre:       genre,
		Tags:        []string{p.Hashtag, genre, "suggestion"},
		AudioPrompt: fmt.Sprintf("%s track capturing the vibe of #%s", genre, p.Hashtag),
		WithCover:   true,
	}
}

// withJobID returns data with a "jobId" key set, as the transport payload
func withJobID(data json.RawMessage, jobID string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("job data is not an object: %w", err)
		}
	}
	id, err := json.Marshal(jobID)
	if err != nil {
		return nil, err
	}
	fields["jobId"] = id
	return json.Marshal(fields)
}
