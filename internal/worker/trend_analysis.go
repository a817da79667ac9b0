package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
)

// TrendAnalyzer is the part of usecase.AnalyzeTrends the worker runs
type TrendAnalyzer interface {
	ProcessAnalysis(ctx context.Context, region string) (*usecase.AnalysisSummary, error)
}

type TrendAnalysis struct {
	analyzer TrendAnalyzer
	logger   *slog.Logger
}

func NewTrendAnalysis(analyzer TrendAnalyzer, logger *slog.Logger) *TrendAnalysis {
	return &TrendAnalysis{analyzer: analyzer, logger: logger}
}

func (p *TrendAnalysis) Handle(ctx context.Context, job *queue.Job, record *domain.Job) (any, error) {
	var payload usecase.TrendAnalysisPayload
	if err := job.Decode(&payload); err != nil {
		return nil, err
	}
	progress(ctx, p.logger, job, 10)

	summary, err := p.analyzer.ProcessAnalysis(ctx, payload.Region)
	if err != nil {
		return nil, err
	}
	progress(ctx, p.logger, job, 100)

	p.logger.Info("Trend analysis finished",
		slog.String("job_id", record.ID),
		slog.String("region", summary.Region),
		slog.Int("fetched", summary.Fetched),
	)
	return summary, nil
}
