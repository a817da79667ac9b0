package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
	"github.com/cuongbtq/trackgen-be/shared/telemetry"
)

// CreateTrackInput is a request for a new generated track
type CreateTrackInput struct {
	Title       string
	UserID      string
	Description string
	Genre       string
	Tags        []string
	AudioPrompt string
	ImagePrompt string
	// WithCover asks the audio job to also render cover art when no image prompt is given
	WithCover bool
}

// CreateTrackOutput is the stored track and the job started for it, if any
type CreateTrackOutput struct {
	Track *domain.Track
	Job   *domain.Job
}

type CreateTrack struct {
	tracks     storage.TrackRepository
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewCreateTrack(tracks storage.TrackRepository, dispatcher *Dispatcher, logger *slog.Logger) *CreateTrack {
	return &CreateTrack{tracks: tracks, dispatcher: dispatcher, logger: logger}
}

// Execute stores the track and starts audio generation when an audio prompt
// is given, or cover generation when only an image prompt is.
func (uc *CreateTrack) Execute(ctx context.Context, in CreateTrackInput) (*CreateTrackOutput, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.NewValidationError("title", "is required")
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}

	tags := make([]string, 0, len(in.Tags))
	for _, tag := range in.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	genre := strings.TrimSpace(in.Genre)
	mood := MoodFromDescription(in.Description)
	var meta domain.Metadata
	if mood != "" {
		meta = domain.Metadata{"mood": mood}
	}
	track, err := uc.tracks.Create(ctx, domain.NewTrack{
		Title:       title,
		UserID:      userID,
		Description: strings.TrimSpace(in.Description),
		Genre:       genre,
		Tags:        tags,
		Metadata:    meta,
	})
	if err != nil {
		return nil, err
	}
	telemetry.TracksCreated.Inc()

	out := &CreateTrackOutput{Track: track}
	audioPrompt := strings.TrimSpace(in.AudioPrompt)
	imagePrompt := strings.TrimSpace(in.ImagePrompt)

	switch {
	case audioPrompt != "":
		payload := TrackGenerationPayload{
			TrackID:  track.ID,
			UserID:   userID,
			Prompt:   audioPrompt,
			Genre:    genre,
			Duration: DefaultTrackDuration,
			Mood:     mood,
		}
		if imagePrompt != "" || in.WithCover {
			payload.Image = &ImageParams{Prompt: imagePrompt, Style: "artistic", AspectRatio: "1:1"}
		}
		out.Job, err = uc.dispatcher.Create(ctx, domain.NewJob{
			Type:     domain.JobTypeAudioGeneration,
			Priority: 1,
			UserID:   userID,
			TrackID:  track.ID,
		}, payload, JobNameGenerateAudio, queue.JobOptions{
			Priority: 1,
			Attempts: 3,
			Backoff:  exponential(5 * time.Second),
		})

	case imagePrompt != "":
		payload := ImageGenerationPayload{
			TrackID:     track.ID,
			UserID:      userID,
			ImageParams: ImageParams{Prompt: imagePrompt, Style: "artistic", AspectRatio: "1:1"},
		}
		out.Job, err = uc.dispatcher.Create(ctx, domain.NewJob{
			Type:     domain.JobTypeImageGeneration,
			Priority: 2,
			UserID:   userID,
			TrackID:  track.ID,
		}, payload, JobNameGenerateImage, queue.JobOptions{
			Priority: 2,
			Attempts: 3,
			Backoff:  exponential(3 * time.Second),
		})
	}
	if err != nil {
		return out, err
	}

	uc.logger.Info("Track created",
		slog.String("track_id", track.ID),
		slog.String("user_id", userID),
		slog.Bool("generating", out.Job != nil),
	)
	return out, nil
}

var moodKeywords = []struct {
	mood     string
	keywords []string
}{
	{"energetic", []string{"energetic", "upbeat", "vibrant", "dynamic", "energético", "animado", "vibrante"}},
	{"calm", []string{"calm", "relaxing", "peaceful", "soft", "calmo", "relaxante", "tranquilo", "suave"}},
	{"dark", []string{"dark", "gloomy", "heavy", "intense", "sombrio", "pesado", "intenso"}},
	{"happy", []string{"happy", "joyful", "cheerful", "positive", "alegre", "feliz", "otimista"}},
	{"sad", []string{"sad", "melancholic", "nostalgic", "triste", "melancólico", "nostálgico"}},
}

// MoodFromDescription returns the first mood whose keyword appears in desc, or ""
func MoodFromDescription(desc string) string {
	lower := strings.ToLower(desc)
	if lower == "" {
		return ""
	}
	for _, m := range moodKeywords {
		for _, kw := range m.keywords {
			if strings.Contains(lower, kw) {
				return m.mood
			}
		}
	}
	return ""
}
