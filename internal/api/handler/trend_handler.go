package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/trackgen-be/internal/api/dto"
)

// AnalyzeTrends handles POST /api/v1/trends/analyze
// Starts a background trend analysis for a region
func (h *TrendHandler) AnalyzeTrends(c *gin.Context) {
	var req dto.AnalyzeTrendsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	job, err := h.trends.Execute(c.Request.Context(), req.Region)
	if err != nil && job == nil {
		respondError(c, h.logger, err, "Failed to start trend analysis")
		return
	}
	c.JSON(http.StatusAccepted, dto.NewJobDTO(job))
}

// AnalyzeHashtag handles POST /api/v1/trends/hashtags/:hashtag
// Refreshes a single hashtag synchronously
func (h *TrendHandler) AnalyzeHashtag(c *gin.Context) {
	trend, err := h.trends.AnalyzeHashtag(c.Request.Context(), c.Param("hashtag"), c.Query("region"))
	if err != nil {
		respondError(c, h.logger, err, "Failed to analyze hashtag")
		return
	}
	c.JSON(http.StatusOK, dto.NewTrendDTO(trend))
}

// ListTrends handles GET /api/v1/trends
// active=true returns the most viewed active trends, otherwise all trends paged
func (h *TrendHandler) ListTrends(c *gin.Context) {
	var req dto.ListTrendsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Active {
		trends, err := h.trends.PopularTrends(c.Request.Context(), req.Limit)
		if err != nil {
			respondError(c, h.logger, err, "Failed to list trends")
			return
		}
		c.JSON(http.StatusOK, dto.ListTrendsResponse{Trends: dto.NewTrendDTOs(trends), Total: len(trends)})
		return
	}

	trends, total, err := h.trends.ListTrends(c.Request.Context(), req.Skip, req.Take)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list trends")
		return
	}
	c.JSON(http.StatusOK, dto.ListTrendsResponse{Trends: dto.NewTrendDTOs(trends), Total: total})
}
