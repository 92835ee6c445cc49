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

	"github.com/minhvtq/streamgate/internal/api/handler"
	"github.com/minhvtq/streamgate/internal/api/router"
	"github.com/minhvtq/streamgate/internal/config"
	"github.com/minhvtq/streamgate/internal/fallback"
	"github.com/minhvtq/streamgate/internal/origin"
	"github.com/minhvtq/streamgate/internal/proxy"
	"github.com/minhvtq/streamgate/internal/queue"
	"github.com/minhvtq/streamgate/internal/realtime"
	"github.com/minhvtq/streamgate/shared/logger"
	"github.com/minhvtq/streamgate/shared/redispub"
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
	defaultConfigPath := os.Getenv("STREAM_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/stream-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting stream service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize fallback store
	store, err := fallback.NewStore(cfg.Fallback.Root, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize fallback store: %w", err)
	}

	appLogger.Info("Fallback store ready", slog.String("root", cfg.Fallback.Root))

	// Initialize upstream fetcher and proxy
	fetcher := proxy.NewFetcher(&proxy.FetcherConfig{
		MaxRedirects:   cfg.Proxy.MaxRedirects,
		MaxRetries:     cfg.Proxy.MaxRetries,
		RetryBaseDelay: cfg.Proxy.RetryBaseDelay.Std(),
		AttemptTimeout: cfg.Proxy.AttemptTimeout.Std(),
		Logger:         appLogger.Logger,
	})

	streamProxy := proxy.New(&proxy.Config{
		Fetcher:          fetcher,
		Fallback:         store,
		AllowedOrigins:   cfg.Proxy.AllowedOrigins,
		DefaultChunkSize: cfg.Proxy.DefaultChunkSize,
		Logger:           appLogger.Logger,
	})

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer startupCancel()

	// Initialize origin uploader. A missing bucket disables uploads and a
	// failing one degrades the service to fallback-only serving.
	uploader, err := origin.NewUploader(startupCtx, &cfg.Origin, appLogger.Logger)
	if err != nil {
		appLogger.Warn("origin uploader unavailable, continuing without uploads",
			slog.String("error", err.Error()),
		)
		uploader = nil
	}

	// Initialize redis notifier (optional)
	notifier, err := redispub.New(startupCtx, &redispub.Config{
		DSN:     cfg.Redis.DSN,
		Channel: cfg.Redis.Channel,
	}, appLogger.Logger)
	if err != nil {
		appLogger.Warn("redis notifier unavailable, continuing without notifications",
			slog.String("error", err.Error()),
		)
		notifier = nil
	}

	// Initialize WebSocket hub
	hub := realtime.NewHub(appLogger.Logger)
	go hub.Run()

	// Assemble queue observers
	observers := []queue.Observer{hub}
	if notifier != nil {
		observers = append(observers, notifierObserver{notifier})
	}

	// Initialize job queues
	handlerCfg := &queue.HandlerConfig{
		Logger:         appLogger.Logger,
		Fallback:       store,
		Source:         fetcher,
		WorkDelay:      cfg.Queues.WorkDelay.Std(),
		ViewCountRatio: cfg.Analytics.ViewCountRatio,
		MinViewSeconds: cfg.Analytics.MinViewSeconds,
	}
	if uploader != nil {
		handlerCfg.Origin = uploader
	}

	queues := queue.NewSet(&queue.SetConfig{
		Logger:         appLogger.Logger,
		RetentionLimit: cfg.Queues.RetentionLimit,
		Observers:      observers,
		Handlers:       handlerCfg,
	})

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, streamProxy, store, queues, hub, uploader)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout.Std()),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout.Std()),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Stream service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	// Drain the queues before releasing the notifier they publish through.
	queues.Close()
	if notifier != nil {
		notifier.Close()
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	streamProxy *proxy.Proxy,
	store *fallback.Store,
	queues *queue.Set,
	hub *realtime.Hub,
	uploader *origin.Uploader,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:             logger,
		Proxy:              streamProxy,
		Fallback:           store,
		Queues:             queues,
		Reporter:           queue.NewReporter(queues.All()...),
		Hub:                hub,
		Uploader:           uploader,
		DefaultChunkSize:   cfg.Proxy.DefaultChunkSize,
		MaxUploadBytes:     cfg.Fallback.MaxUploadBytes,
		DefaultMaxAttempts: cfg.Queues.DefaultMaxAttempts,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}

// notifierObserver adapts the redis publisher to the queue observer interface.
type notifierObserver struct {
	client *redispub.Client
}

func (n notifierObserver) JobUpdated(queueName string, job queue.Job) {
	n.client.Publish(queueName, job.ID, string(job.Status), job.LastError)
}
