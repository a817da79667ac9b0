// Package worker holds the queue processors of the worker-service.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/events"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
)

const defaultConcurrency = 5

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Queue     queue.Service
	Jobs      storage.JobRepository
	Tracks    storage.TrackRepository
	Audio     provider.AudioGenerator
	Images    provider.ImageGenerator
	Analyzer  TrendAnalyzer
	Creator   TrackCreator
	Publisher events.Publisher

	// Concurrency is keyed by queue name; missing queues use 5
	Concurrency  map[string]int
	LockDuration time.Duration
}

// Worker registers one processor per queue and waits for shutdown
type Worker struct {
	cfg    *Config
	logger *slog.Logger
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{cfg: cfg, logger: cfg.Logger}
}

type registration struct {
	queue     string
	processor queue.Processor
}

func (w *Worker) registrations() []registration {
	tracker := NewTracker(w.cfg.Jobs, w.cfg.Publisher, w.logger.With(slog.String("component", "tracker")))
	return []registration{
		{
			queue:     domain.QueueTrackGeneration,
			processor: tracker.Wrap(NewTrackGeneration(w.cfg.Tracks, w.cfg.Audio, w.cfg.Images, w.logger).Handle),
		},
		{
			queue:     domain.QueueImageGeneration,
			processor: tracker.Wrap(NewImageGeneration(w.cfg.Tracks, w.cfg.Images, w.logger).Handle),
		},
		{
			queue:     domain.QueueTrendAnalysis,
			processor: tracker.Wrap(NewTrendAnalysis(w.cfg.Analyzer, w.logger).Handle),
		},
		{
			queue:     domain.QueueTrackSuggestion,
			processor: NewSuggestion(w.cfg.Creator, w.logger),
		},
	}
}

// Register attaches every processor to the queue service
func (w *Worker) Register() error {
	for _, r := range w.registrations() {
		n := w.cfg.Concurrency[r.queue]
		if n <= 0 {
			n = defaultConcurrency
		}
		opts := []queue.WorkerOption{queue.WithConcurrency(n)}
		if w.cfg.LockDuration > 0 {
			opts = append(opts, queue.WithLockDuration(w.cfg.LockDuration))
		}
		if err := w.cfg.Queue.RegisterProcessor(r.queue, r.processor, opts...); err != nil {
			return fmt.Errorf("failed to register %s processor: %w", r.queue, err)
		}
		w.logger.Info("Processor registered",
			slog.String("queue", r.queue),
			slog.Int("concurrency", n),
		)
	}
	return nil
}

// Start registers the processors and blocks until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker")
	if err := w.Register(); err != nil {
		return err
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop drains in-flight handlers and closes the queue service
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping worker...")
	if err := w.cfg.Queue.Close(ctx); err != nil {
		return fmt.Errorf("failed to close queue service: %w", err)
	}
	w.logger.Info("Worker stopped")
	return nil
}
