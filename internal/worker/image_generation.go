package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
)

// ImageGenerationResult is stored as the result of an IMAGE_GENERATION job
type ImageGenerationResult struct {
	TrackID      string `json:"trackId"`
	ImageURL     string `json:"imageUrl"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// ImageGeneration renders cover art for an existing track. The track
// status is left alone; a failed cover does not fail the track.
type ImageGeneration struct {
	tracks storage.TrackRepository
	images provider.ImageGenerator
	logger *slog.Logger
}

func NewImageGeneration(tracks storage.TrackRepository, images provider.ImageGenerator, logger *slog.Logger) *ImageGeneration {
	return &ImageGeneration{tracks: tracks, images: images, logger: logger}
}

func (p *ImageGeneration) Handle(ctx context.Context, job *queue.Job, record *domain.Job) (any, error) {
	var payload usecase.ImageGenerationPayload
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
	progress(ctx, p.logger, job, 30)

	prompt := payload.Prompt
	if prompt == "" {
		mood, _ := track.Metadata["mood"].(string)
		prompt = provider.CoverPrompt(track.Genre, mood, track.Title)
	}

	img, err := p.images.GenerateImage(ctx, provider.ImageRequest{
		Prompt:      prompt,
		Style:       payload.Style,
		AspectRatio: payload.AspectRatio,
		Quality:     payload.Quality,
	})
	if err != nil {
		return nil, providerError("image", err)
	}
	progress(ctx, p.logger, job, 80)

	if _, err := p.tracks.Update(ctx, track.ID, domain.TrackPatch{
		ImageURL: &img.ImageURL,
		Metadata: domain.Metadata{"cover": coverMetadata(img)},
	}); err != nil {
		return nil, fmt.Errorf("failed to store cover: %w", err)
	}
	progress(ctx, p.logger, job, 100)

	p.logger.Info("Cover generated",
		slog.String("job_id", record.ID),
		slog.String("track_id", track.ID),
	)
	return &ImageGenerationResult{TrackID: track.ID, ImageURL: img.ImageURL, ThumbnailURL: img.ThumbnailURL}, nil
}
