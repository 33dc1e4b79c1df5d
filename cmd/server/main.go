package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/analyze"
	"github.com/callsight/callsight-api/internal/billing"
	"github.com/callsight/callsight-api/internal/config"
	"github.com/callsight/callsight-api/internal/handlers"
	"github.com/callsight/callsight-api/internal/middleware"
	"github.com/callsight/callsight-api/internal/migration"
	"github.com/callsight/callsight-api/internal/notification"
	"github.com/callsight/callsight-api/internal/pbx"
	"github.com/callsight/callsight-api/internal/pipeline"
	"github.com/callsight/callsight-api/internal/repository"
	"github.com/callsight/callsight-api/internal/routes"
	"github.com/callsight/callsight-api/internal/secrets"
	"github.com/callsight/callsight-api/internal/storage"
	"github.com/callsight/callsight-api/internal/transcribe"
	"github.com/callsight/callsight-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	store         storage.Store
	box           *secrets.Box
	registry      *pbx.Registry
	pool          *worker.Pool
	notifications notification.Service
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Blob storage for recordings and transcripts.
	store, err := storage.NewS3Store(context.Background(), cfg.Storage.Region, cfg.Storage.Bucket, cfg.Storage.Endpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize blob storage")
	}

	box, err := secrets.NewBox(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize secrets box")
	}
	registry := pbx.NewRegistry(map[string]pbx.Client{
		pbx.ProviderGrandstream: pbx.NewGrandstreamClient(cfg.PBX.Timeout),
	})

	// Initialize notification service.
	notificationRepo := repository.NewNotificationRepository(db)
	notificationService := notification.NewService(notificationRepo, logger)

	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		store:         store,
		box:           box,
		registry:      registry,
		notifications: notificationService,
	}

	// Start the worker pool in a separate goroutine.
	poolCtx, stopPool := context.WithCancel(context.Background())
	poolDone := app.startWorkerPool(poolCtx, logger)

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, stopPool, poolDone, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	// Repositories
	callRepo := repository.NewCallRepository(app.db)
	jobRepo := repository.NewJobRepository(app.db)
	connRepo := repository.NewConnectionRepository(app.db)
	tenantRepo := repository.NewTenantRepository(app.db)
	analysisRepo := repository.NewAnalysisRepository(app.db)

	// Handlers
	healthHandler := handlers.NewHealthHandler(app.db, app.pool, logger)
	webhookHandler := handlers.NewWebhookHandler(callRepo, jobRepo, connRepo, tenantRepo, logger)
	callHandler := handlers.NewCallHandler(callRepo, jobRepo, analysisRepo, app.store, logger)
	jobHandler := handlers.NewJobHandler(jobRepo, logger)
	connHandler := handlers.NewConnectionHandler(connRepo, app.box, app.registry, logger)
	tenantHandler := handlers.NewTenantHandler(tenantRepo, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)

	return routes.NewRouter(app.config.JWTSecret, healthHandler, webhookHandler, callHandler, jobHandler, connHandler, tenantHandler, notificationHandler)
}

// startWorkerPool wires the pipeline orchestrator and runs the pool until the
// context is cancelled. The returned channel closes once the pool has drained.
func (app *application) startWorkerPool(ctx context.Context, logger zerolog.Logger) <-chan struct{} {
	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Calls:         repository.NewCallRepository(app.db),
		Jobs:          repository.NewJobRepository(app.db),
		Analyses:      repository.NewAnalysisRepository(app.db),
		Connections:   repository.NewConnectionRepository(app.db),
		Tenants:       repository.NewTenantRepository(app.db),
		Secrets:       app.box,
		PBX:           app.registry,
		Store:         app.store,
		Transcriber:   transcribe.NewClient(app.config.Transcription.BaseURL, app.config.Transcription.APIKey, app.config.Transcription.Timeout),
		Analyzer:      analyze.NewClient(app.config.Analysis.BaseURL, app.config.Analysis.APIKey, app.config.Analysis.Timeout),
		Billing:       billing.NewClient(app.config.Billing.BaseURL, app.config.Billing.Timeout),
		Notifications: app.notifications,
	}, logger)

	app.pool = worker.NewPool(worker.Config{
		PollInterval:  app.config.Worker.PollInterval,
		MaxConcurrent: app.config.Worker.MaxConcurrent,
		JobTimeout:    app.config.Worker.JobTimeout,
		ReapInterval:  app.config.Worker.ReapInterval,
		ShutdownGrace: app.config.Worker.ShutdownGrace,
	}, repository.NewJobRepository(app.db), orchestrator, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info().Msg("Starting worker pool...")
		app.pool.Start(ctx)
	}()
	return done
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, stopPool context.CancelFunc, poolDone <-chan struct{}, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the worker pool and wait for in-flight jobs to drain.
	logger.Info().Msg("Stopping worker pool...")
	stopPool()
	<-poolDone
	logger.Info().Msg("Worker pool stopped.")
}
