package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
)

const (
	analysisHashtagCount = 50
	trendStaleAfter      = 7 * 24 * time.Hour
)

// AnalysisSummary reports what one trend analysis run changed
type AnalysisSummary struct {
	Region      string `json:"region"`
	Fetched     int    `json:"fetched"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Deactivated int64  `json:"deactivated"`
}

type AnalyzeTrends struct {
	trends     storage.TrendRepository
	provider   provider.TrendProvider
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewAnalyzeTrends(trends storage.TrendRepository, p provider.TrendProvider, dispatcher *Dispatcher, logger *slog.Logger) *AnalyzeTrends {
	return &AnalyzeTrends{trends: trends, provider: p, dispatcher: dispatcher, logger: logger, now: time.Now}
}

// Execute records a TREND_ANALYSIS job and enqueues it
func (uc *AnalyzeTrends) Execute(ctx context.Context, region string) (*domain.Job, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		region = DefaultRegion
	}

	return uc.dispatcher.Create(ctx, domain.NewJob{
		Type:     domain.JobTypeTrendAnalysis,
		Priority: 3,
	}, TrendAnalysisPayload{
		Region:       region,
		AnalysisType: "complete",
		RequestedAt:  uc.now().UTC(),
	}, JobNameAnalyzeTrends, queue.JobOptions{
		Priority: 3,
		Attempts: 2,
		Backoff:  exponential(10 * time.Second),
	})
}

// ProcessAnalysis fetches the current trending hashtags for region, upserts
// each one and deactivates trends not refreshed for a week. Hashtags that
// fail to store do not stop the others; their errors are returned joined.
func (uc *AnalyzeTrends) ProcessAnalysis(ctx context.Context, region string) (*AnalysisSummary, error) {
	if region == "" {
		region = DefaultRegion
	}

	data, err := uc.provider.GetTrendingHashtags(ctx, region, analysisHashtagCount)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trends for %s: %w", region, err)
	}

	summary := &AnalysisSummary{Region: region, Fetched: len(data)}
	var errs []error
	for _, td := range data {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		_, inserted, err := uc.trends.Upsert(ctx, trendFromData(td, region))
		if err != nil {
			errs = append(errs, fmt.Errorf("hashtag %s: %w", td.Hashtag, err))
			continue
		}
		if inserted {
			summary.Created++
		} else {
			summary.Updated++
		}
	}

	n, err := uc.trends.DeactivateInactive(ctx, uc.now().Add(-trendStaleAfter))
	if err != nil {
		errs = append(errs, err)
	}
	summary.Deactivated = n

	uc.logger.Info("Trend analysis processed",
		slog.String("region", region),
		slog.Int("fetched", summary.Fetched),
		slog.Int("created", summary.Created),
		slog.Int("updated", summary.Updated),
		slog.Int64("deactivated", summary.Deactivated),
		slog.Int("errors", len(errs)),
	)
	return summary, errors.Join(errs...)
}

// AnalyzeHashtag refreshes one hashtag from the provider and returns the stored trend
func (uc *AnalyzeTrends) AnalyzeHashtag(ctx context.Context, hashtag, region string) (*domain.Trend, error) {
	tag := domain.NormalizeHashtag(hashtag)
	if tag == "" {
		return nil, domain.NewValidationError("hashtag", "is required")
	}
	if region == "" {
		region = DefaultRegion
	}

	td, err := uc.provider.GetHashtagData(ctx, tag, region)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hashtag %s: %w", tag, err)
	}
	if td == nil {
		return nil, fmt.Errorf("%w: no data for hashtag %s", domain.ErrTrendNotFound, tag)
	}
	td.Hashtag = tag

	trend, _, err := uc.trends.Upsert(ctx, trendFromData(*td, region))
	if err != nil {
		return nil, err
	}
	return trend, nil
}

// PopularTrends returns active trends by view count
func (uc *AnalyzeTrends) PopularTrends(ctx context.Context, limit int) ([]*domain.Trend, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return uc.trends.FindActive(ctx, limit)
}

// ListTrends pages through every stored trend
func (uc *AnalyzeTrends) ListTrends(ctx context.Context, skip, take int) ([]*domain.Trend, int, error) {
	return uc.trends.FindMany(ctx, skip, take)
}

func trendFromData(td provider.TrendData, region string) domain.NewTrend {
	if td.Region != "" {
		region = td.Region
	}
	meta := domain.Metadata{
		"platform":       "tiktok",
		"region":         region,
		"engagementRate": td.EngagementRate,
		"averageViews":   td.AverageViews,
	}
	if len(td.RelatedHashtags) > 0 {
		meta["relatedHashtags"] = td.RelatedHashtags
	}
	return domain.NewTrend{
		Hashtag:     td.Hashtag,
		Title:       td.Title,
		Description: td.Description,
		VideoCount:  td.VideoCount,
		ViewCount:   td.ViewCount,
		Category:    td.Category,
		Metadata:    meta,
	}
}
