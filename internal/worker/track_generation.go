package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
)

// TrackGenerationResult is stored as the result of an AUDIO_GENERATION job
type TrackGenerationResult struct {
	TrackID     string    `json:"trackId"`
	AudioURL    string    `json:"audioUrl"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Duration    int       `json:"duration"`
	CompletedAt time.Time `json:"completedAt"`
}

// TrackGeneration renders the audio of a track and, when asked, its cover
type TrackGeneration struct {
	tracks storage.TrackRepository
	audio  provider.AudioGenerator
	images provider.ImageGenerator
	logger *slog.Logger
	now    func() time.Time
}

func NewTrackGeneration(tracks storage.TrackRepository, audio provider.AudioGenerator, images provider.ImageGenerator, logger *slog.Logger) *TrackGeneration {
	return &TrackGeneration{tracks: tracks, audio: audio, images: images, logger: logger, now: time.Now}
}

func (p *TrackGeneration) Handle(ctx context.Context, job *queue.Job, record *domain.Job) (any, error) {
	var payload usecase.TrackGenerationPayload
	if err := job.Decode(&payload); err != nil {
		return nil, err
	}
	if payload.TrackID == "" {
		return nil, queue.Permanent(fmt.Errorf("%w: missing trackId", domain.ErrInvalidPayload))
	}

	track, err := p.tracks.FindByID(ctx, payload.TrackID)
	if err != nil {
		if errors.Is(err, domain.ErrTrackNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}

	p.logger.Info("Generating track",
		slog.String("job_id", record.ID),
		slog.String("track_id", track.ID),
		slog.Int("attempt", job.AttemptsMade),
	)

	result, err := p.generate(ctx, job, record, track, payload)
	if err != nil {
		p.markFailed(ctx, record, track.ID, err)
		return nil, err
	}
	return result, nil
}

func (p *TrackGeneration) generate(ctx context.Context, job *queue.Job, record *domain.Job, track *domain.Track, payload usecase.TrackGenerationPayload) (*TrackGenerationResult, error) {
	progress(ctx, p.logger, job, 20)

	genre := payload.Genre
	if genre == "" {
		genre = track.Genre
	}
	duration := payload.Duration
	if duration <= 0 {
		duration = usecase.DefaultTrackDuration
	}

	audio, err := p.audio.GenerateAudio(ctx, provider.AudioRequest{
		Prompt:      payload.Prompt,
		Duration:    duration,
		Genre:       genre,
		Mood:        payload.Mood,
		BPM:         payload.BPM,
		Key:         payload.Key,
		Instruments: provider.InstrumentsFor(genre),
	})
	if err != nil {
		return nil, providerError("audio", err)
	}
	progress(ctx, p.logger, job, 60)

	var cover *provider.ImageResult
	if payload.Image != nil {
		prompt := payload.Image.Prompt
		if prompt == "" {
			prompt = provider.CoverPrompt(genre, payload.Mood, track.Title)
		}
		cover, err = p.images.GenerateImage(ctx, provider.ImageRequest{
			Prompt:      prompt,
			Style:       payload.Image.Style,
			AspectRatio: payload.Image.AspectRatio,
			Quality:     payload.Image.Quality,
		})
		if err != nil {
			return nil, providerError("image", err)
		}
	}
	progress(ctx, p.logger, job, 90)

	now := p.now().UTC()
	status := domain.TrackStatusCompleted
	patch := domain.TrackPatch{
		AudioURL: &audio.AudioURL,
		Duration: &audio.Duration,
		Status:   &status,
		Metadata: domain.Metadata{
			"audio": domain.Metadata{
				"format": audio.Format,
				"size":   audio.Size,
				"bpm":    audio.BPM,
				"key":    audio.Key,
				"model":  audio.Model,
				"mood":   payload.Mood,
			},
			"generationParams": domain.Metadata{
				"prompt":      payload.Prompt,
				"generatedAt": now.Format(time.RFC3339),
				"jobId":       record.ID,
			},
		},
	}
	if cover != nil {
		patch.ImageURL = &cover.ImageURL
		patch.Metadata["cover"] = coverMetadata(cover)
	}

	updated, err := p.tracks.Update(ctx, track.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to store generated track: %w", err)
	}
	progress(ctx, p.logger, job, 100)

	return &TrackGenerationResult{
		TrackID:     updated.ID,
		AudioURL:    updated.AudioURL,
		ImageURL:    updated.ImageURL,
		Duration:    updated.Duration,
		CompletedAt: now,
	}, nil
}

func (p *TrackGeneration) markFailed(ctx context.Context, record *domain.Job, trackID string, cause error) {
	status := domain.TrackStatusFailed
	_, err := p.tracks.Update(ctx, trackID, domain.TrackPatch{
		Status: &status,
		Metadata: domain.Metadata{
			"generationParams": domain.Metadata{
				"error":    cause.Error(),
				"failedAt": p.now().UTC().Format(time.RFC3339),
				"jobId":    record.ID,
			},
		},
	})
	if err != nil {
		p.logger.Error("Failed to mark track failed",
			slog.String("track_id", trackID),
			slog.Any("error", err),
		)
	}
}

func coverMetadata(img *provider.ImageResult) domain.Metadata {
	return domain.Metadata{
		"thumbnailUrl": img.ThumbnailURL,
		"width":        img.Width,
		"height":       img.Height,
		"format":       img.Format,
		"aspectRatio":  img.AspectRatio,
	}
}

// providerError makes rejected requests permanent; everything else is retried
func providerError(kind string, err error) error {
	err = fmt.Errorf("%s generation failed: %w", kind, err)
	if errors.Is(err, provider.ErrRejected) {
		return queue.Permanent(err)
	}
	return err
}

// progress is advisory; a failed update never fails the job
func progress(ctx context.Context, logger *slog.Logger, job *queue.Job, pct int) {
	if err := job.UpdateProgress(ctx, pct); err != nil {
		logger.Warn("Failed to update job progress",
			slog.String("queue_job_id", job.ID),
			slog.Int("progress", pct),
			slog.Any("error", err),
		)
	}
}
