package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tobyh/feedvault/internal/activity"
	"github.com/tobyh/feedvault/internal/api"
	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/dedupe"
	"github.com/tobyh/feedvault/internal/flight"
	"github.com/tobyh/feedvault/internal/hosting"
	"github.com/tobyh/feedvault/internal/logger"
	"github.com/tobyh/feedvault/internal/relocate"
	"github.com/tobyh/feedvault/internal/service"
	"github.com/tobyh/feedvault/internal/store"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "feedvault-api",
	})
	logger.SetDefaultLogger(appLogger)

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid configuration")
	}

	// Initialize cache database
	db, err := dedupe.OpenDB(&cfg.Cache)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open cache database")
	}
	cache := dedupe.NewCache(db)
	recorder := activity.NewRecorder(db)

	// Remote document store
	documents := store.NewClient(&cfg.Store)

	// Media hosting backend
	host, err := hosting.NewHost(&cfg.Hosting)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize media hosting")
	}

	ctx := context.Background()
	if err := host.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure media bucket")
	}

	// Relocation queue (shared worker pool, outlives any single batch)
	queue := relocate.NewQueue(&cfg.Relocate, relocate.NewHTTPFetcher(), host, appLogger)
	defer queue.Close()

	ingestor := service.NewIngestor(
		flight.New(),
		documents,
		cache,
		dedupe.NewRecentSet(cfg.Ingest.RecentTTL),
		queue,
		recorder,
		appLogger,
	)
	ingestor.SetSourceID("api")

	// Setup router
	router := api.SetupRouter(ingestor, cache, recorder, &cfg.Server)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
