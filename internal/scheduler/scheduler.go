// Package scheduler runs the periodic maintenance tasks of the worker-service.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/trackgen-be/shared/telemetry"
)

// Task names, also the keys of Config.Specs
const (
	TaskRefreshTrends = "refresh-trends"
	TaskCleanup       = "cleanup"
	TaskSuggestions   = "suggestions"
	TaskStuckSweep    = "stuck-sweep"
	TaskRequeue       = "requeue"
)

// DefaultSpecs are the cron schedules used when Config.Specs has no entry
var DefaultSpecs = map[string]string{
	TaskRefreshTrends: "0 8 * * *",
	TaskCleanup:       "0 2 * * *",
	TaskSuggestions:   "0 12 * * *",
	TaskStuckSweep:    "*/15 * * * *",
	TaskRequeue:       "*/5 * * * *",
}

// Disabled as a spec turns a task off
const Disabled = "off"

// Config holds scheduler configuration
type Config struct {
	// Specs overrides DefaultSpecs per task
	Specs map[string]string
	// Location for schedules; UTC when nil
	Location *time.Location
	// TaskTimeout bounds one run; also the lock TTL
	TaskTimeout time.Duration
}

// Task is one named periodic action
type Task struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs tasks on cron schedules. A slow task only delays its own
// next run; a panic is logged and the schedule continues.
type Scheduler struct {
	cron    *cron.Cron
	tasks   map[string]Task
	locker  Locker
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a scheduler for tasks. A nil locker runs every task locally.
func New(cfg Config, tasks []Task, locker Locker, logger *slog.Logger) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if locker == nil {
		locker = LocalLocker{}
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		tasks:   make(map[string]Task, len(tasks)),
		locker:  locker,
		timeout: timeout,
		logger:  logger,
	}

	for _, task := range tasks {
		spec := task.Spec
		if override, ok := cfg.Specs[task.Name]; ok && override != "" {
			spec = override
		}
		if spec == "" {
			spec = DefaultSpecs[task.Name]
		}
		s.tasks[task.Name] = task
		if spec == Disabled {
			logger.Info("Scheduled task disabled", slog.String("task", task.Name))
			continue
		}

		t := task
		if _, err := s.cron.AddFunc(spec, func() { s.run(context.Background(), t) }); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for task %s: %w", spec, task.Name, err)
		}
		logger.Info("Scheduled task registered",
			slog.String("task", task.Name),
			slog.String("spec", spec),
		)
	}
	return s, nil
}

// Start begins firing schedules in the background
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", slog.Int("tasks", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop stops new runs and waits for running tasks or ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler...")
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Tasks returns the registered task names, sorted
func (s *Scheduler) Tasks() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow executes a task immediately, taking the same lock as a scheduled run
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	task, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("unknown task %s", name)
	}
	return s.run(ctx, task)
}

func (s *Scheduler) run(ctx context.Context, task Task) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logger := s.logger.With(slog.String("task", task.Name))

	release, ok, err := s.locker.Acquire(ctx, task.Name, s.timeout)
	if err != nil {
		telemetry.SchedulerRuns.WithLabelValues(task.Name, "error").Inc()
		logger.Error("Failed to acquire task lock", slog.Any("error", err))
		return err
	}
	if !ok {
		telemetry.SchedulerRuns.WithLabelValues(task.Name, "skipped").Inc()
		logger.Debug("Task already running elsewhere, skipping")
		return nil
	}
	defer release()

	start := time.Now()
	logger.Info("Running scheduled task")

	if err := task.Run(ctx); err != nil {
		telemetry.SchedulerRuns.WithLabelValues(task.Name, "error").Inc()
		logger.Error("Scheduled task failed",
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return err
	}

	telemetry.SchedulerRuns.WithLabelValues(task.Name, "ok").Inc()
	logger.Info("Scheduled task finished", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
