package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediaflow/jobqueue/internal/api/router"
	"github.com/mediaflow/jobqueue/internal/config"
	"github.com/mediaflow/jobqueue/internal/events"
	"github.com/mediaflow/jobqueue/internal/jobstore"
	"github.com/mediaflow/jobqueue/internal/media"
	"github.com/mediaflow/jobqueue/internal/metrics"
	"github.com/mediaflow/jobqueue/internal/pipeline"
	"github.com/mediaflow/jobqueue/internal/queue"
	"github.com/mediaflow/jobqueue/internal/worker"
	"github.com/mediaflow/jobqueue/shared/logger"
	"github.com/mediaflow/jobqueue/shared/postgresql"
	"github.com/mediaflow/jobqueue/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if err := dbClient.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	appLogger.Info("Database connection established")

	gateway, err := queue.NewGateway(&cfg.Queue, dbClient.GetDB(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue gateway: %w", err)
	}

	// Lifecycle events are optional; without a broker the worker still runs
	var publisher *events.Publisher
	if cfg.RabbitMQ.Host != "" {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		publisher = events.NewPublisher(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	}

	registry, cache, err := initPipelines(&cfg.Media, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pipelines: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	workerMetrics := metrics.New(promRegistry)

	store := jobstore.NewStore(dbClient.GetDB(), appLogger.Logger)

	w := worker.NewWorker(&worker.Config{
		Logger:   appLogger.Logger,
		Gateway:  gateway,
		Store:    store,
		Registry: registry,
		Events:   publisher,
		Metrics:  workerMetrics,
		Settings: cfg.Worker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	// Periodic cache sweep alongside the worker
	go sweepLoop(ctx, cache, cfg.Media.CacheTTL, appLogger.Logger)

	// Admin surface: health, counters, metrics
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	adminAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	adminSrv := &http.Server{
		Addr:    adminAddr,
		Handler: router.SetupWorkerRouter(appLogger.Logger, w, promRegistry),
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Admin server failed",
				slog.Any("error", err),
			)
		}
	}()

	appLogger.Info("Worker service is running",
		slog.String("worker_id", w.WorkerID()),
		slog.String("admin_address", adminAddr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down worker...")
	cancel()
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Admin server forced to shutdown",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Worker shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		AddSource:  cfg.EnableCaller,
		TimeFormat: time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
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
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client for lifecycle events
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		ExchangeDurable:   cfg.Exchange.Durable,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initPipelines wires the media tooling and collaborators into the pipeline
// registry.
func initPipelines(cfg *config.MediaConfig, logger *slog.Logger) (*pipeline.Registry, *media.Cache, error) {
	cache, err := media.NewCache(cfg.CacheDir, cfg.CacheTTL, logger)
	if err != nil {
		return nil, nil, err
	}

	// Videos download straight into the cache directory so later jobs for
	// the same URL hit the cache.
	videoDownloader, err := media.NewDownloader(cfg.YtdlpBinary, cache.Dir(), cfg.DownloadTimeout, logger)
	if err != nil {
		return nil, nil, err
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	audioDownloader, err := media.NewDownloader(cfg.YtdlpBinary, workDir, cfg.DownloadTimeout, logger)
	if err != nil {
		return nil, nil, err
	}

	objectStore, err := pipeline.NewDirObjectStore(cfg.ObjectStoreDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, nil, err
	}

	transcription := pipeline.NewTranscriptionPipeline(
		audioDownloader,
		pipeline.NewHTTPTranscriber(cfg.TranscriberURL, cfg.TranscriberTimeout, logger),
		pipeline.NewHTTPTranscriptSink(cfg.DocumentsURL, 0, logger),
		logger,
	)

	screenshot := pipeline.NewScreenshotPipeline(
		media.NewCachedFetcher(cache, videoDownloader, logger),
		media.NewFrameExtractor(cfg.FFmpegBinary, 0, logger),
		objectStore,
		workDir,
		logger,
	)

	return pipeline.NewRegistry(transcription, screenshot), cache, nil
}

// sweepLoop periodically evicts expired cache entries
func sweepLoop(ctx context.Context, cache *media.Cache, ttl time.Duration, logger *slog.Logger) {
	interval := ttl / 2
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := cache.Sweep(); err != nil {
				logger.Warn("Cache sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
