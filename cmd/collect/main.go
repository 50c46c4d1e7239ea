package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tobyh/feedvault/internal/activity"
	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/dedupe"
	"github.com/tobyh/feedvault/internal/flight"
	"github.com/tobyh/feedvault/internal/hosting"
	"github.com/tobyh/feedvault/internal/logger"
	"github.com/tobyh/feedvault/internal/relocate"
	"github.com/tobyh/feedvault/internal/service"
	"github.com/tobyh/feedvault/internal/source"
	"github.com/tobyh/feedvault/internal/source/staging"
	"github.com/tobyh/feedvault/internal/store"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "feedvault-collect",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	sourceType := flag.String("source", "staging", "Collector to replay batches from")
	stagingDir := flag.String("dir", "./captures", "Directory of captured batch files (staging source)")
	pageFilter := flag.String("page", "", "Only ingest batches captured from this page ID")
	rebuildCache := flag.Bool("rebuild-cache", false, "Rebuild the duplicate cache from the remote store and exit")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := host.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure media bucket")
	}

	// Relocation queue (shared worker pool)
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

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if *rebuildCache {
		if err := ingestor.RebuildCache(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to rebuild cache")
		}
		appLogger.Info("Cache rebuild completed")
		return
	}

	// Pick the collector
	var collector source.Collector
	switch *sourceType {
	case "staging":
		collector = staging.NewAdapter(*stagingDir, "local")
	default:
		appLogger.WithField("source", *sourceType).Fatal("Unknown source type")
	}
	ingestor.SetSourceID(collector.SourceID())

	// Replay every batch the collector yields
	totals := struct {
		batches, collected, skipped, failed int
	}{}
	for {
		batch, err := collector.NextBatch(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to read next batch")
		}
		if batch == nil {
			break
		}
		if *pageFilter != "" && batch.PageID != *pageFilter {
			continue
		}

		summary, err := ingestor.IngestBatch(ctx, batch)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to ingest batch")
		}

		totals.batches++
		totals.collected += summary.Collected
		totals.skipped += summary.Skipped
		totals.failed += summary.Failed
	}

	appLogger.WithFields(logger.Fields{
		"batches":   totals.batches,
		"collected": totals.collected,
		"skipped":   totals.skipped,
		"failed":    totals.failed,
	}).Info("Collection completed")
}
