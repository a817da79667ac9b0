package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuongbtq/trackgen-be/shared/telemetry"
)

const (
	defaultConcurrency     = 5
	defaultPollInterval    = 500 * time.Millisecond
	defaultLockDuration    = 30 * time.Second
	defaultStalledInterval = 30 * time.Second
	bookkeepingTimeout     = 5 * time.Second

	stalledReason = "job stalled: lock expired before the handler finished"
)

type workerConfig struct {
	concurrency     int
	pollInterval    time.Duration
	lockDuration    time.Duration
	stalledInterval time.Duration
}

// WorkerOption customizes one queue's worker
type WorkerOption func(*workerConfig)

// WithConcurrency sets how many handlers run at once
func WithConcurrency(n int) WorkerOption {
	return func(c *workerConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithPollInterval sets how often idle slots look for work
func WithPollInterval(d time.Duration) WorkerOption {
	return func(c *workerConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLockDuration sets how long an active entry is owned without renewal
func WithLockDuration(d time.Duration) WorkerOption {
	return func(c *workerConfig) {
		if d > 0 {
			c.lockDuration = d
		}
	}
}

// WithStalledInterval sets how often expired locks are recovered
func WithStalledInterval(d time.Duration) WorkerOption {
	return func(c *workerConfig) {
		if d > 0 {
			c.stalledInterval = d
		}
	}
}

type worker struct {
	svc       *RedisService
	queue     string
	keys      keys
	processor Processor
	cfg       workerConfig
	logger    *slog.Logger

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// handler context, cancelled only when a drain times out
	ctx    context.Context
	cancel context.CancelFunc
}

func newWorker(svc *RedisService, queue string, k keys, processor Processor, cfg workerConfig) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		svc:       svc,
		queue:     queue,
		keys:      k,
		processor: processor,
		cfg:       cfg,
		logger:    svc.logger.With(slog.String("queue", queue)),
		wakeCh:    make(chan struct{}, cfg.concurrency),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// start spawns one goroutine per concurrency slot plus the stalled checker
func (w *worker) start() {
	w.logger.Info("Starting queue worker",
		slog.Int("concurrency", w.cfg.concurrency),
		slog.Duration("poll_interval", w.cfg.pollInterval),
		slog.Duration("lock_duration", w.cfg.lockDuration),
	)

	for i := 0; i < w.cfg.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(i)
	}

	w.wg.Add(1)
	go w.stalledLoop()
}

func (w *worker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// drain waits for running handlers; on ctx expiry they are cancelled
func (w *worker) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		w.logger.Info("Queue worker stopped")
		return nil
	case <-ctx.Done():
		w.cancel()
		w.logger.Warn("Queue worker drain timed out, handlers cancelled")
		return ctx.Err()
	}
}

// idle blocks until there may be work; false means the worker is stopping
func (w *worker) idle() bool {
	timer := time.NewTimer(w.cfg.pollInterval)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-w.wakeCh:
		return true
	case <-timer.C:
		return true
	}
}

func (w *worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *worker) workerLoop(slot int) {
	defer w.wg.Done()

	w.logger.Debug("Worker slot started", slog.Int("slot", slot))

	for !w.stopping() {
		id, err := w.moveToActive()
		if err != nil {
			w.logger.Error("Failed to fetch next job",
				slog.Int("slot", slot),
				slog.Any("error", err),
			)
			if !w.idle() {
				break
			}
			continue
		}
		if id == "" {
			if !w.idle() {
				break
			}
			continue
		}

		w.processJob(id, slot)
	}

	w.logger.Debug("Worker slot stopped", slog.Int("slot", slot))
}

func (w *worker) moveToActive() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	now := w.svc.now()
	id, err := moveToActiveScript.Run(ctx, w.svc.client,
		[]string{w.keys.wait, w.keys.delayed, w.keys.active, w.keys.paused},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(w.cfg.lockDuration).UnixMilli(), 10),
		w.keys.jobPrefix,
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (w *worker) processJob(id string, slot int) {
	loadCtx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	fields, err := w.svc.client.HGetAll(loadCtx, w.keys.job(id)).Result()
	cancel()
	if err != nil {
		// lock expiry hands the entry back through stalled recovery
		w.logger.Error("Failed to load job",
			slog.String("queue_job_id", id),
			slog.Any("error", err),
		)
		return
	}
	if len(fields) == 0 {
		w.logger.Warn("Active job has no data, dropping", slog.String("queue_job_id", id))
		w.svc.client.ZRem(context.Background(), w.keys.active, id)
		return
	}

	info := parseInfo(w.queue, id, fields)
	backoff := Backoff{
		Type:  BackoffType(fields["backoff_type"]),
		Delay: time.Duration(atoi(fields["backoff_delay"])) * time.Millisecond,
	}
	job := &Job{
		ID:           id,
		Queue:        w.queue,
		Name:         info.Name,
		Data:         info.Data,
		Priority:     info.Priority,
		AttemptsMade: info.AttemptsMade,
		MaxAttempts:  info.MaxAttempts,
		CreatedAt:    info.CreatedAt,
		progress: func(ctx context.Context, pct int) error {
			return w.svc.client.HSet(ctx, w.keys.job(id), "progress", pct).Err()
		},
	}

	ctx := w.ctx
	if raw := fields["trace"]; raw != "" {
		carrier := propagation.MapCarrier{}
		if err := json.Unmarshal([]byte(raw), &carrier); err == nil {
			ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
		}
	}
	ctx, span := w.svc.tracer.Start(ctx, "queue.process "+w.queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("queue.name", w.queue),
			attribute.String("queue.job_id", id),
			attribute.String("queue.job_name", job.Name),
			attribute.Int("queue.attempts_made", job.AttemptsMade),
		),
	)
	defer span.End()

	w.logger.Info("Processing job",
		slog.Int("slot", slot),
		slog.String("queue_job_id", id),
		slog.String("name", job.Name),
		slog.Int("attempt", job.AttemptsMade),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	lockDone := make(chan struct{})
	go w.renewLock(id, lockDone)

	telemetry.QueueJobsInFlight.WithLabelValues(w.queue).Inc()
	start := time.Now()

	result, err := w.invoke(ctx, job)

	telemetry.QueueJobDurationSeconds.WithLabelValues(w.queue).Observe(time.Since(start).Seconds())
	telemetry.QueueJobsInFlight.WithLabelValues(w.queue).Dec()
	close(lockDone)

	if err == nil {
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			err = Permanent(fmt.Errorf("encode result: %w", mErr))
		} else {
			w.complete(job, raw)
			return
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	w.fail(job, backoff, err)
}

// invoke runs the processor, turning a panic into an error
func (w *worker) invoke(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, job)
}

// renewLock pushes the active-lock expiry forward while the handler runs
func (w *worker) renewLock(id string, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.lockDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
			expiry := float64(w.svc.now().Add(w.cfg.lockDuration).UnixMilli())
			err := w.svc.client.ZAddXX(ctx, w.keys.active, redis.Z{Score: expiry, Member: id}).Err()
			cancel()
			if err != nil {
				w.logger.Warn("Failed to renew job lock",
					slog.String("queue_job_id", id),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (w *worker) complete(job *Job, result []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	res, err := completeScript.Run(ctx, w.svc.client,
		[]string{w.keys.active, w.keys.completed, w.keys.job(job.ID)},
		job.ID,
		strconv.FormatInt(w.svc.now().UnixMilli(), 10),
		string(result),
		w.svc.cfg.KeepCompleted,
		w.keys.jobPrefix,
	).Int()
	if err != nil {
		w.logger.Error("Failed to mark job completed",
			slog.String("queue_job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}
	if res < 0 {
		w.logger.Warn("Job lock lost before completion", slog.String("queue_job_id", job.ID))
		return
	}

	telemetry.QueueJobsProcessed.WithLabelValues(w.queue, "completed").Inc()
	w.logger.Info("Job completed",
		slog.String("queue_job_id", job.ID),
		slog.Int("attempts_made", job.AttemptsMade),
	)
}

func (w *worker) fail(job *Job, backoff Backoff, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	now := w.svc.now()
	retryAt := ""
	var delay time.Duration
	if !job.FinalAttempt(cause) {
		delay = backoff.Next(job.AttemptsMade)
		retryAt = strconv.FormatInt(now.Add(delay).UnixMilli(), 10)
	}

	res, err := failScript.Run(ctx, w.svc.client,
		[]string{w.keys.active, w.keys.delayed, w.keys.failed, w.keys.job(job.ID)},
		job.ID,
		strconv.FormatInt(now.UnixMilli(), 10),
		cause.Error(),
		retryAt,
		w.svc.cfg.KeepFailed,
		w.keys.jobPrefix,
	).Int()
	if err != nil {
		w.logger.Error("Failed to record job failure",
			slog.String("queue_job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	switch res {
	case 0:
		telemetry.QueueJobsProcessed.WithLabelValues(w.queue, "retried").Inc()
		w.logger.Warn("Job failed, retry scheduled",
			slog.String("queue_job_id", job.ID),
			slog.Int("attempts_made", job.AttemptsMade),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("retry_in", delay),
			slog.Any("error", cause),
		)
	case 1:
		telemetry.QueueJobsProcessed.WithLabelValues(w.queue, "failed").Inc()
		w.logger.Error("Job failed permanently",
			slog.String("queue_job_id", job.ID),
			slog.Int("attempts_made", job.AttemptsMade),
			slog.Bool("permanent", IsPermanent(cause)),
			slog.Any("error", cause),
		)
	default:
		w.logger.Warn("Job lock lost before failure was recorded", slog.String("queue_job_id", job.ID))
	}
}

// stalledLoop recovers entries whose lock expired, as after a crash
func (w *worker) stalledLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.stalledInterval)
	defer ticker.Stop()

	w.recoverStalled()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.recoverStalled()
		}
	}
}

func (w *worker) recoverStalled() {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	n, err := recoverStalledScript.Run(ctx, w.svc.client,
		[]string{w.keys.active, w.keys.wait, w.keys.failed},
		strconv.FormatInt(w.svc.now().UnixMilli(), 10),
		w.keys.jobPrefix,
		stalledReason,
		w.svc.cfg.KeepFailed,
	).Int()
	if err != nil {
		w.logger.Error("Failed to recover stalled jobs", slog.Any("error", err))
		return
	}
	if n > 0 {
		telemetry.QueueStalledRecovered.WithLabelValues(w.queue).Add(float64(n))
		w.logger.Warn("Recovered stalled jobs", slog.Int("count", n))
		w.wake()
	}
}
