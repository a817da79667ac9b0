package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/trackgen-be/internal/api/dto"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
)

// CreateTrack handles POST /api/v1/tracks
// Stores the track and starts generation when a prompt is given
func (h *TrackHandler) CreateTrack(c *gin.Context) {
	var req dto.CreateTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	out, err := h.createTrack.Execute(c.Request.Context(), usecase.CreateTrackInput{
		Title:       req.Title,
		UserID:      req.UserID,
		Description: req.Description,
		Genre:       req.Genre,
		Tags:        req.Tags,
		AudioPrompt: req.AudioPrompt,
		ImagePrompt: req.ImagePrompt,
		WithCover:   req.WithCover,
	})
	if err != nil && (out == nil || out.Track == nil) {
		respondError(c, h.logger, err, "Failed to create track")
		return
	}

	resp := dto.CreateTrackResponse{Track: dto.NewTrackDTO(out.Track)}
	if out.Job != nil {
		job := dto.NewJobDTO(out.Job)
		resp.Job = &job
	}
	if err != nil {
		// the job record exists and is dispatched by the requeue sweep
		h.logger.Warn("Track created but generation not dispatched",
			slog.String("track_id", out.Track.ID),
			slog.Any("error", err),
		)
	}
	c.JSON(http.StatusCreated, resp)
}

// GetTrack handles GET /api/v1/tracks/:track_id
// Returns the track and the jobs working on it
func (h *TrackHandler) GetTrack(c *gin.Context) {
	trackID := c.Param("track_id")

	track, err := h.tracks.FindByID(c.Request.Context(), trackID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get track")
		return
	}

	jobs, _, err := h.jobs.List(c.Request.Context(), usecase.JobFilter{TrackID: track.ID, Take: 100})
	if err != nil {
		respondError(c, h.logger, err, "Failed to get track jobs")
		return
	}

	c.JSON(http.StatusOK, dto.TrackDetailResponse{
		Track: dto.NewTrackDTO(track),
		Jobs:  dto.NewJobDTOs(jobs),
	})
}

// ListTracks handles GET /api/v1/tracks?user_id=
// Lists a user's tracks, newest first
func (h *TrackHandler) ListTracks(c *gin.Context) {
	var req dto.ListTracksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	if req.Take <= 0 {
		req.Take = 20
	}
	if req.Take > 100 {
		req.Take = 100
	}
	if req.Skip < 0 {
		req.Skip = 0
	}

	tracks, err := h.tracks.FindByUserID(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list tracks")
		return
	}

	total := len(tracks)
	tracks = tracks[min(req.Skip, total):]
	tracks = tracks[:min(req.Take, len(tracks))]

	items := make([]dto.TrackDTO, len(tracks))
	for i, t := range tracks {
		items[i] = dto.NewTrackDTO(t)
	}
	c.JSON(http.StatusOK, dto.ListTracksResponse{
		Tracks: items,
		Total:  total,
		Skip:   req.Skip,
		Take:   req.Take,
	})
}
