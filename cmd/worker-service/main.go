package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/trackgen-be/internal/config"
	"github.com/cuongbtq/trackgen-be/internal/events"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/scheduler"
	"github.com/cuongbtq/trackgen-be/internal/storage"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
	"github.com/cuongbtq/trackgen-be/internal/worker"
	"github.com/cuongbtq/trackgen-be/shared/logger"
	"github.com/cuongbtq/trackgen-be/shared/postgresql"
	"github.com/cuongbtq/trackgen-be/shared/rabbitmq"
	"github.com/cuongbtq/trackgen-be/shared/redis"
	"github.com/cuongbtq/trackgen-be/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	configFlag := flag.String("config", "", "Path to configuration file")
	flag.Parse()
	configPath := config.ResolvePath(*configFlag, "WORKER_SERVICE_CONFIG_PATH", "configs/worker-service/config.yaml")

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	appLogger = appLogger.WithAttrs(slog.String("service", cfg.App.Name))

	appLogger.Info("Starting worker service",
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracer, err := telemetry.InitTracer(ctx, cfg.App.Name, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer shutdownTracer()
	}

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.Migrate {
		if err := storage.Migrate(ctx, dbClient.DB(), appLogger.Component("migrate")); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	appLogger.Info("Database connection established")

	// Initialize Redis queue
	redisClient, err := initRedis(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	queueService := queue.NewRedisService(redisClient, queueConfig(&cfg.Queue), appLogger.Logger)

	appLogger.Info("Redis connection established")

	// Initialize event publisher
	publisher, rabbitClient, err := initPublisher(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	jobRepo := storage.NewJobStore(dbClient.DB())
	trackRepo := storage.NewTrackStore(dbClient.DB())
	trendRepo := storage.NewTrendStore(dbClient.DB())

	audio, images, trends := initProviders(&cfg.Providers, appLogger.Logger)

	dispatcher := usecase.NewDispatcher(jobRepo, queueService, appLogger.Component("dispatcher"))
	createTrack := usecase.NewCreateTrack(trackRepo, dispatcher, appLogger.Component("create-track"))
	analyzeTrends := usecase.NewAnalyzeTrends(trendRepo, trends, dispatcher, appLogger.Component("trends"))
	jobs := usecase.NewJobs(jobRepo, queueService, dispatcher, publisher, appLogger.Component("jobs"))

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Component("worker"),
		Queue:        queueService,
		Jobs:         jobRepo,
		Tracks:       trackRepo,
		Audio:        audio,
		Images:       images,
		Analyzer:     analyzeTrends,
		Creator:      createTrack,
		Publisher:    publisher,
		Concurrency:  cfg.Worker.Concurrency,
		LockDuration: cfg.Queue.LockDuration,
	})

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = initScheduler(&cfg.Scheduler, redisClient, scheduler.Deps{
			Jobs:       jobRepo,
			Tracks:     trackRepo,
			Trends:     trendRepo,
			Maintainer: jobs,
			Queue:      queueService,
			Provider:   trends,
			Logger:     appLogger.Component("scheduler"),
		}, appLogger.Component("scheduler"))
		if err != nil {
			return fmt.Errorf("failed to initialize scheduler: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workerInstance.Start(gctx)
	})

	if sched != nil {
		g.Go(func() error {
			sched.Start()
			<-gctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
			defer cancel()
			return sched.Stop(stopCtx)
		})
	}

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return telemetry.RunMetricsServer(gctx, cfg.Metrics.Addr, func(ctx context.Context) error {
				if err := dbClient.HealthCheck(ctx); err != nil {
					return err
				}
				return redis.HealthCheck(ctx, redisClient)
			}, appLogger.Component("metrics"))
		})
	}

	appLogger.Info("Worker service started successfully")

	runErr := g.Wait()
	if runErr != nil {
		appLogger.Error("Worker error", slog.Any("error", runErr))
	}

	// Give in-flight jobs time to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	if err := workerInstance.Stop(shutdownCtx); err != nil {
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit", slog.Any("error", err))
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initScheduler builds the maintenance scheduler with Redis locks so that
// several worker replicas run each task once
func initScheduler(cfg *config.SchedulerConfig, client *goredis.Client, deps scheduler.Deps, logger *slog.Logger) (*scheduler.Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return scheduler.New(scheduler.Config{
		Specs:       cfg.Specs,
		Location:    loc,
		TaskTimeout: cfg.TaskTimeout,
	}, scheduler.DefaultTasks(deps), scheduler.NewRedisLocker(client, cfg.LockPrefix), logger)
}

// initProviders returns the remote provider clients or the simulated ones
func initProviders(cfg *config.ProvidersConfig, logger *slog.Logger) (provider.AudioGenerator, provider.ImageGenerator, provider.TrendProvider) {
	if cfg.Simulated {
		logger.Info("Using simulated providers", slog.Duration("latency", cfg.SimulatedLatency))
		sim := provider.NewSimulated(cfg.SimulatedLatency)
		return sim, sim, sim
	}

	clientConfig := func(p config.ProviderConfig) provider.Config {
		return provider.Config{BaseURL: p.BaseURL, APIKey: p.APIKey, Timeout: p.Timeout}
	}
	return provider.NewMusicClient(clientConfig(cfg.Music), logger),
		provider.NewImageClient(clientConfig(cfg.Image), logger),
		provider.NewTrendClient(clientConfig(cfg.Trends), logger)
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRedis initializes the Redis client behind the job queue and locks
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*goredis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

func queueConfig(cfg *config.QueueConfig) queue.Config {
	qc := queue.Config{
		Prefix:          cfg.Prefix,
		DefaultAttempts: cfg.DefaultAttempts,
		KeepCompleted:   cfg.KeepCompleted,
		KeepFailed:      cfg.KeepFailed,
		PollInterval:    cfg.PollInterval,
		LockDuration:    cfg.LockDuration,
		StalledInterval: cfg.StalledInterval,
	}
	if cfg.BackoffDelay > 0 {
		qc.DefaultBackoff = queue.Backoff{Type: queue.BackoffExponential, Delay: cfg.BackoffDelay}
	}
	return qc
}

// initPublisher connects to RabbitMQ when events are enabled
func initPublisher(cfg *config.RabbitMQConfig, logger *slog.Logger) (events.Publisher, *rabbitmq.Client, error) {
	if !cfg.Enabled {
		logger.Info("RabbitMQ disabled, job events will not be published")
		return events.Nop{}, nil, nil
	}

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("RabbitMQ connection established")
	return events.NewRabbitPublisher(client, logger), client, nil
}
