package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/trackgen-be/internal/api/handler"
	"github.com/cuongbtq/trackgen-be/internal/api/router"
	"github.com/cuongbtq/trackgen-be/internal/config"
	"github.com/cuongbtq/trackgen-be/internal/domain"
	"github.com/cuongbtq/trackgen-be/internal/events"
	"github.com/cuongbtq/trackgen-be/internal/provider"
	"github.com/cuongbtq/trackgen-be/internal/queue"
	"github.com/cuongbtq/trackgen-be/internal/storage"
	"github.com/cuongbtq/trackgen-be/internal/usecase"
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
	configPath := config.ResolvePath(*configFlag, "API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml")

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	appLogger = appLogger.WithAttrs(slog.String("service", cfg.App.Name))

	appLogger.Info("Starting API service",
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

	deps := initDependencies(cfg, appLogger, dbClient, redisClient, queueService, publisher)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(deps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}
		return queueService.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initDependencies builds the repositories and use cases behind the handlers
func initDependencies(
	cfg *config.Config,
	appLogger *logger.Logger,
	dbClient *postgresql.Client,
	redisClient *goredis.Client,
	queueService queue.Service,
	publisher events.Publisher,
) *handler.Dependencies {
	jobRepo := storage.NewJobStore(dbClient.DB())
	trackRepo := storage.NewTrackStore(dbClient.DB())
	trendRepo := storage.NewTrendStore(dbClient.DB())

	dispatcher := usecase.NewDispatcher(jobRepo, queueService, appLogger.Component("dispatcher"))

	return &handler.Dependencies{
		Logger:      appLogger.Component("api"),
		ServiceName: cfg.App.Name,
		CreateTrack: usecase.NewCreateTrack(trackRepo, dispatcher, appLogger.Component("create-track")),
		Trends:      usecase.NewAnalyzeTrends(trendRepo, initTrendProvider(&cfg.Providers, appLogger.Logger), dispatcher, appLogger.Component("trends")),
		Jobs:        usecase.NewJobs(jobRepo, queueService, dispatcher, publisher, appLogger.Component("jobs")),
		TrackRepo:   trackRepo,
		Queue:       queueService,
		Queues: []string{
			domain.QueueTrackGeneration,
			domain.QueueImageGeneration,
			domain.QueueTrendAnalysis,
			domain.QueueTrackSuggestion,
		},
		HealthChecks: map[string]handler.HealthCheck{
			"database": dbClient.HealthCheck,
			"redis": func(ctx context.Context) error {
				return redis.HealthCheck(ctx, redisClient)
			},
		},
	}
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

// initRedis initializes the Redis client behind the job queue
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

// initTrendProvider returns the remote trend client or the simulated one
func initTrendProvider(cfg *config.ProvidersConfig, logger *slog.Logger) provider.TrendProvider {
	if cfg.Simulated {
		return provider.NewSimulated(cfg.SimulatedLatency)
	}
	return provider.NewTrendClient(provider.Config{
		BaseURL: cfg.Trends.BaseURL,
		APIKey:  cfg.Trends.APIKey,
		Timeout: cfg.Trends.Timeout,
	}, logger)
}
