package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
)

// TrackCreator is the part of usecase.CreateTrack the suggestion worker runs
type TrackCreator interface {
	Execute(ctx context.Context, in usecase.CreateTrackInput) (*usecase.CreateTrackOutput, error)
}

// Suggestion turns a trending hashtag into a system-owned track
type Suggestion struct {
	tracks TrackCreator
	logger *slog.Logger
}

func NewSuggestion(tracks TrackCreator, logger *slog.Logger) *Suggestion {
	return &Suggestion{tracks: tracks, logger: logger}
}

// Process handles entries directly; suggestions have no durable job record
func (p *Suggestion) Process(ctx context.Context, job *queue.Job) (any, error) {
	var payload usecase.SuggestionPayload
	if err := job.Decode(&payload); err != nil {
		return nil, err
	}
	payload.Hashtag = domain.NormalizeHashtag(payload.Hashtag)
	if payload.Hashtag == "" {
		return nil, queue.Permanent(fmt.Errorf("%w: missing hashtag", domain.ErrInvalidPayload))
	}

	out, err := p.tracks.Execute(ctx, usecase.SuggestionTrack(payload))
	if err != nil {
		if domain.IsValidation(err) {
			return nil, queue.Permanent(err)
		}
		if out == nil || out.Track == nil {
			return nil, err
		}
		// the track exists; its job is picked up by the requeue sweep
		p.logger.Warn("Suggested track created without dispatch",
			slog.String("track_id", out.Track.ID),
			slog.Any("error", err),
		)
	}

	p.logger.Info("Suggested track created",
		slog.String("hashtag", payload.Hashtag),
		slog.String("track_id", out.Track.ID),
		slog.String("genre", out.Track.Genre),
	)

	result := map[string]string{"trackId": out.Track.ID, "hashtag": payload.Hashtag}
	if out.Job != nil {
		result["jobId"] = out.Job.ID
	}
	return result, nil
}
