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
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuongbtq/trackgen-be/shared/telemetry"
)

const (
	defaultPrefix        = "trackgen"
	defaultAttempts      = 3
	defaultBackoffDelay  = 2 * time.Second
	defaultKeepCompleted = 10
	defaultKeepFailed    = 50
	defaultPageSize      = 20
	cleanBatchSize       = 1000
)

// Config holds broker-wide defaults
type Config struct {
	// Prefix namespaces every key the service writes
	Prefix string

	DefaultAttempts int
	DefaultBackoff  Backoff

	// Finished entries kept per queue; 0 uses the default, negative keeps all
	KeepCompleted int
	KeepFailed    int

	// Worker defaults, overridable per queue with WorkerOption
	Concurrency     int
	PollInterval    time.Duration
	LockDuration    time.Duration
	StalledInterval time.Duration
}

// DefaultConfig returns the standard policy: 3 attempts with exponential
// backoff from 2s, 10 completed and 50 failed entries retained
func DefaultConfig() Config {
	return Config{
		Prefix:          defaultPrefix,
		DefaultAttempts: defaultAttempts,
		DefaultBackoff:  Backoff{Type: BackoffExponential, Delay: defaultBackoffDelay},
		KeepCompleted:   defaultKeepCompleted,
		KeepFailed:      defaultKeepFailed,
		Concurrency:     defaultConcurrency,
		PollInterval:    defaultPollInterval,
		LockDuration:    defaultLockDuration,
		StalledInterval: defaultStalledInterval,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	if c.DefaultAttempts <= 0 {
		c.DefaultAttempts = def.DefaultAttempts
	}
	if c.DefaultBackoff.Type == "" {
		c.DefaultBackoff = def.DefaultBackoff
	}
	if c.KeepCompleted == 0 {
		c.KeepCompleted = def.KeepCompleted
	}
	if c.KeepFailed == 0 {
		c.KeepFailed = def.KeepFailed
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.LockDuration <= 0 {
		c.LockDuration = def.LockDuration
	}
	if c.StalledInterval <= 0 {
		c.StalledInterval = def.StalledInterval
	}
	return c
}

type keys struct {
	wait      string
	delayed   string
	active    string
	completed string
	failed    string
	paused    string
	id        string
	jobPrefix string
}

func newKeys(prefix, queue string) keys {
	base := prefix + ":" + queue + ":"
	return keys{
		wait:      base + "wait",
		delayed:   base + "delayed",
		active:    base + "active",
		completed: base + "completed",
		failed:    base + "failed",
		paused:    base + "paused",
		id:        base + "id",
		jobPrefix: base + "job:",
	}
}

func (k keys) job(id string) string {
	return k.jobPrefix + id
}

func (k keys) set(state State) string {
	switch state {
	case StateWaiting:
		return k.wait
	case StateActive:
		return k.active
	case StateCompleted:
		return k.completed
	case StateFailed:
		return k.failed
	case StateDelayed:
		return k.delayed
	}
	return ""
}

// RedisService implements Service on one shared Redis client. It owns the
// registry of queues and workers for its lifetime; Close tears all of it down.
type RedisService struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu      sync.Mutex
	queues  map[string]keys
	workers map[string]*worker
	closed  bool
}

var _ Service = (*RedisService)(nil)

// NewRedisService creates a service that takes ownership of client
func NewRedisService(client redis.UniversalClient, cfg Config, logger *slog.Logger) *RedisService {
	return &RedisService{
		client:  client,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "queue")),
		tracer:  otel.Tracer("github.com/cuongbtq/trackgen-be/internal/queue"),
		now:     time.Now,
		queues:  make(map[string]keys),
		workers: make(map[string]*worker),
	}
}

// queue returns the key set for name, creating it once
func (s *RedisService) queue(name string) (keys, error) {
	if name == "" {
		return keys{}, fmt.Errorf("%w: queue name is required", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return keys{}, ErrServiceClosed
	}
	k, ok := s.queues[name]
	if !ok {
		k = newKeys(s.cfg.Prefix, name)
		s.queues[name] = k
	}
	return k, nil
}

func (s *RedisService) resolve(opts JobOptions) (JobOptions, error) {
	if opts.Priority < MinPriority || opts.Priority > MaxPriority {
		return opts, fmt.Errorf("%w: priority %d out of range", ErrInvalidJob, opts.Priority)
	}
	if opts.Delay < 0 {
		return opts, fmt.Errorf("%w: negative delay", ErrInvalidJob)
	}
	if opts.Attempts < 0 {
		return opts, fmt.Errorf("%w: negative attempts", ErrInvalidJob)
	}
	if opts.Attempts == 0 {
		opts.Attempts = s.cfg.DefaultAttempts
	}
	if opts.Backoff == nil {
		b := s.cfg.DefaultBackoff
		opts.Backoff = &b
	}
	if err := opts.Backoff.validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// waitScore orders the wait set: higher priority first, then enqueue order
func waitScore(priority int, seq int64) int64 {
	return -int64(priority)<<32 + seq
}

// AddJob validates options, stores the entry and makes it eligible
func (s *RedisService) AddJob(ctx context.Context, queue, name string, data any, opts JobOptions) (string, error) {
	k, err := s.queue(queue)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("%w: job name is required", ErrInvalidJob)
	}
	opts, err = s.resolve(opts)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", ErrInvalidJob, err)
	}

	seq, err := s.client.Incr(ctx, k.id).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate job id on %s: %w", queue, err)
	}
	id := strconv.FormatInt(seq, 10)
	now := s.now()
	score := waitScore(opts.Priority, seq)

	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}

	fields := map[string]any{
		"name":          name,
		"data":          string(payload),
		"priority":      opts.Priority,
		"attempts":      opts.Attempts,
		"attempts_made": 0,
		"backoff_type":  string(opts.Backoff.Type),
		"backoff_delay": opts.Backoff.Delay.Milliseconds(),
		"delay":         opts.Delay.Milliseconds(),
		"created_on":    now.UnixMilli(),
		"wscore":        strconv.FormatInt(score, 10),
		"progress":      0,
		"state":         string(state),
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		if raw, err := json.Marshal(carrier); err == nil {
			fields["trace"] = string(raw)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k.job(id), fields)
	if state == StateDelayed {
		pipe.ZAdd(ctx, k.delayed, redis.Z{Score: float64(now.Add(opts.Delay).UnixMilli()), Member: id})
	} else {
		pipe.ZAdd(ctx, k.wait, redis.Z{Score: float64(score), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to add job to %s: %w", queue, err)
	}

	telemetry.QueueJobsAdded.WithLabelValues(queue).Inc()
	s.logger.Debug("Job added",
		slog.String("queue", queue),
		slog.String("name", name),
		slog.String("queue_job_id", id),
		slog.Int("priority", opts.Priority),
		slog.Duration("delay", opts.Delay),
		slog.Int("attempts", opts.Attempts),
	)

	if state == StateWaiting {
		s.wake(queue)
	}
	return id, nil
}

func (s *RedisService) wake(queue string) {
	s.mu.Lock()
	w := s.workers[queue]
	s.mu.Unlock()
	if w != nil {
		w.wake()
	}
}

// RemoveJob deletes a non-active entry; unknown ids are ignored
func (s *RedisService) RemoveJob(ctx context.Context, queue, id string) error {
	k, err := s.queue(queue)
	if err != nil {
		return err
	}

	res, err := removeScript.Run(ctx, s.client,
		[]string{k.active, k.wait, k.delayed, k.completed, k.failed, k.job(id)},
		id,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to remove job %s from %s: %w", id, queue, err)
	}
	if res < 0 {
		return fmt.Errorf("%w: %s/%s", ErrJobActive, queue, id)
	}
	return nil
}

// GetJob returns the entry or nil when it does not exist
func (s *RedisService) GetJob(ctx context.Context, queue, id string) (*JobInfo, error) {
	k, err := s.queue(queue)
	if err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, k.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s from %s: %w", id, queue, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseInfo(queue, id, fields), nil
}

// GetJobs pages through one state. Finished states list newest first,
// waiting lists in dispatch order.
func (s *RedisService) GetJobs(ctx context.Context, queue string, state State, skip, take int) ([]*JobInfo, error) {
	k, err := s.queue(queue)
	if err != nil {
		return nil, err
	}
	if !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidJob, state)
	}
	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = defaultPageSize
	}

	start, stop := int64(skip), int64(skip+take-1)
	var ids []string
	if state == StateCompleted || state == StateFailed {
		ids, err = s.client.ZRevRange(ctx, k.set(state), start, stop).Result()
	} else {
		ids, err = s.client.ZRange(ctx, k.set(state), start, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs on %s: %w", state, queue, err)
	}
	if len(ids) == 0 {
		return []*JobInfo{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, k.job(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load %s jobs on %s: %w", state, queue, err)
	}

	infos := make([]*JobInfo, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		infos = append(infos, parseInfo(queue, ids[i], fields))
	}
	return infos, nil
}

// GetQueueStats counts entries per state
func (s *RedisService) GetQueueStats(ctx context.Context, queue string) (*Stats, error) {
	k, err := s.queue(queue)
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	waiting := pipe.ZCard(ctx, k.wait)
	active := pipe.ZCard(ctx, k.active)
	completed := pipe.ZCard(ctx, k.completed)
	failed := pipe.ZCard(ctx, k.failed)
	delayed := pipe.ZCard(ctx, k.delayed)
	paused := pipe.Exists(ctx, k.paused)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get stats for %s: %w", queue, err)
	}

	return &Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Paused:    paused.Val() == 1,
	}, nil
}

// PauseQueue stops dispatch for queue across every process
func (s *RedisService) PauseQueue(ctx context.Context, queue string) error {
	k, err := s.queue(queue)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, k.paused, "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to pause %s: %w", queue, err)
	}
	s.logger.Info("Queue paused", slog.String("queue", queue))
	return nil
}

// ResumeQueue re-enables dispatch
func (s *RedisService) ResumeQueue(ctx context.Context, queue string) error {
	k, err := s.queue(queue)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, k.paused).Err(); err != nil {
		return fmt.Errorf("failed to resume %s: %w", queue, err)
	}
	s.logger.Info("Queue resumed", slog.String("queue", queue))
	s.wake(queue)
	return nil
}

// CleanQueue removes completed or failed entries finished more than grace ago
func (s *RedisService) CleanQueue(ctx context.Context, queue string, grace time.Duration, state State) (int, error) {
	k, err := s.queue(queue)
	if err != nil {
		return 0, err
	}
	if state != StateCompleted && state != StateFailed {
		return 0, fmt.Errorf("%w: only completed and failed entries can be cleaned, got %q", ErrInvalidJob, state)
	}

	cutoff := strconv.FormatInt(s.now().Add(-grace).UnixMilli(), 10)
	total := 0
	for {
		n, err := cleanScript.Run(ctx, s.client, []string{k.set(state)}, cutoff, k.jobPrefix, cleanBatchSize).Int()
		if err != nil {
			return total, fmt.Errorf("failed to clean %s jobs on %s: %w", state, queue, err)
		}
		total += n
		if n < cleanBatchSize {
			break
		}
	}

	s.logger.Info("Queue cleaned",
		slog.String("queue", queue),
		slog.String("state", string(state)),
		slog.Duration("grace", grace),
		slog.Int("removed", total),
	)
	return total, nil
}

// RegisterProcessor starts the worker for queue. A queue has at most one
// worker; registering again keeps the existing one.
func (s *RedisService) RegisterProcessor(queue string, processor Processor, opts ...WorkerOption) error {
	k, err := s.queue(queue)
	if err != nil {
		return err
	}
	if processor == nil {
		return fmt.Errorf("%w: processor is required", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	if _, ok := s.workers[queue]; ok {
		s.logger.Warn("Worker already registered, reusing", slog.String("queue", queue))
		return nil
	}

	cfg := workerConfig{
		concurrency:     s.cfg.Concurrency,
		pollInterval:    s.cfg.PollInterval,
		lockDuration:    s.cfg.LockDuration,
		stalledInterval: s.cfg.StalledInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := newWorker(s, queue, k, processor, cfg)
	s.workers[queue] = w
	w.start()
	return nil
}

// Close stops dispatch, drains running handlers, then releases workers,
// queues and the Redis client in that order. When ctx expires first the
// handlers are cancelled and the context error is returned.
func (s *RedisService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	s.logger.Info("Closing queue service", slog.Int("workers", len(workers)))

	for _, w := range workers {
		w.stop()
	}

	var errs []error
	for _, w := range workers {
		if err := w.drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", w.queue, err))
		}
	}

	s.mu.Lock()
	s.workers = make(map[string]*worker)
	s.queues = make(map[string]keys)
	s.mu.Unlock()

	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}

	s.logger.Info("Queue service closed")
	return errors.Join(errs...)
}

func parseInfo(queue, id string, f map[string]string) *JobInfo {
	info := &JobInfo{
		ID:           id,
		Queue:        queue,
		Name:         f["name"],
		Data:         json.RawMessage(f["data"]),
		State:        State(f["state"]),
		Priority:     atoi(f["priority"]),
		Progress:     atoi(f["progress"]),
		Error:        f["failed_reason"],
		AttemptsMade: atoi(f["attempts_made"]),
		MaxAttempts:  atoi(f["attempts"]),
		Delay:        time.Duration(atoi(f["delay"])) * time.Millisecond,
		ProcessedAt:  msTime(f["processed_on"]),
		FinishedAt:   msTime(f["finished_on"]),
	}
	if created := msTime(f["created_on"]); created != nil {
		info.CreatedAt = *created
	}
	if r := f["result"]; r != "" {
		info.Result = json.RawMessage(r)
	}
	return info
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func msTime(s string) *time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
