package service

import (
	"context"
	"time"

	"github.com/tobyh/feedvault/internal/activity"
	"github.com/tobyh/feedvault/internal/dedupe"
	"github.com/tobyh/feedvault/internal/domain"
	"github.com/tobyh/feedvault/internal/flight"
	"github.com/tobyh/feedvault/internal/logger"
	"github.com/tobyh/feedvault/internal/relocate"
	"github.com/tobyh/feedvault/internal/store"
)

// MediaRelocator is the slice of the relocation queue the orchestrator
// consumes.
type MediaRelocator interface {
	Enqueue(sourceURL string, class domain.MediaClass) relocate.Future
}

// Ingestor coordinates one batch through validate, dedup, media
// relocation, persistence, and cache update. The flight gate
// guarantees at most one batch is in its item loop at a time.
type Ingestor struct {
	gate      *flight.Gate
	documents store.DocumentStore
	cache     *dedupe.Cache
	recent    *dedupe.RecentSet
	relocator MediaRelocator
	recorder  *activity.Recorder
	logger    *logger.Logger
	sourceID  string
}

// NewIngestor wires the ingestion pipeline. Dependencies must already
// be validated; missing ones surface as a validation error on the
// first IngestBatch call.
func NewIngestor(
	gate *flight.Gate,
	documents store.DocumentStore,
	cache *dedupe.Cache,
	recent *dedupe.RecentSet,
	relocator MediaRelocator,
	recorder *activity.Recorder,
	log *logger.Logger,
) *Ingestor {
	return &Ingestor{
		gate:      gate,
		documents: documents,
		cache:     cache,
		recent:    recent,
		relocator: relocator,
		recorder:  recorder,
		logger:    log,
	}
}

// SetSourceID tags activity-log runs with the collector identity.
func (s *Ingestor) SetSourceID(id string) {
	s.sourceID = id
}

func (s *Ingestor) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx)
}

// withLogger seeds the context with the injected logger so derived
// fields accumulate on it rather than on the process default.
func (s *Ingestor) withLogger(ctx context.Context) context.Context {
	if s.logger != nil {
		return s.logger.WithContext(ctx)
	}
	return ctx
}

// preflight rejects a run before any item work when the pipeline is
// missing a collaborator. This is the only validation that aborts a
// batch.
func (s *Ingestor) preflight() error {
	switch {
	case s.documents == nil:
		return domain.Errorf(domain.KindValidation, "service.IngestBatch", "document store is not configured")
	case s.cache == nil:
		return domain.Errorf(domain.KindValidation, "service.IngestBatch", "duplicate cache is not configured")
	case s.relocator == nil:
		return domain.Errorf(domain.KindValidation, "service.IngestBatch", "media relocator is not configured")
	}
	return nil
}

// IngestBatch runs one batch to completion and returns its summary.
// Per-item failures never escape: they are logged, recorded in the
// activity trail, and counted as skipped. The only errors returned are
// pre-flight validation and gate acquisition (ctx cancellation while
// waiting).
func (s *Ingestor) IngestBatch(ctx context.Context, batch *domain.Batch) (*domain.Summary, error) {
	if err := s.preflight(); err != nil {
		return nil, err
	}

	summary := &domain.Summary{}
	err := s.gate.Do(ctx, func() error {
		s.processBatch(ctx, batch, summary)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Ingestor) processBatch(ctx context.Context, batch *domain.Batch, summary *domain.Summary) {
	start := time.Now()
	ctx = s.withLogger(ctx)
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldPageID:    batch.PageID,
		logger.FieldComponent: "ingest",
	})

	var run *activity.Run
	if s.recorder != nil {
		var err error
		run, err = s.recorder.Begin(ctx, batch.PageID, s.sourceID)
		if err != nil {
			// The activity trail is best-effort; the batch still runs.
			s.log(ctx).WithError(err).Warn("Failed to open activity run")
		} else {
			ctx = logger.WithField(ctx, logger.FieldBatchID, run.ID())
		}
	}

	s.log(ctx).WithFields(logger.Fields{
		"items": len(batch.Records),
	}).Info("Starting batch ingestion")

	existing := s.dedupCheck(ctx, batch)

	seenInBatch := make(map[string]struct{})
	for i := range batch.Records {
		record := &batch.Records[i]

		// Empty-text records are discarded silently; they never reach
		// dedup or persist.
		if !record.Eligible() {
			summary.Skipped++
			continue
		}

		fp := record.Fingerprint()
		if _, dup := seenInBatch[fp]; dup {
			summary.Skipped++
			continue
		}
		seenInBatch[fp] = struct{}{}

		if s.recent != nil && s.recent.Contains(fp) {
			summary.Skipped++
			continue
		}
		if _, known := existing[fp]; known {
			summary.Skipped++
			continue
		}

		s.processItem(ctx, record, fp, summary, run)
	}

	if run != nil {
		if err := run.Finish(ctx, summary); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to close activity run")
		}
	}

	s.log(ctx).WithFields(logger.Fields{
		"collected":            summary.Collected,
		"skipped":              summary.Skipped,
		"failed":               summary.Failed,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Batch ingestion completed")
}

// dedupCheck resolves which fingerprints are already persisted. A
// local cache hit is final; only cache misses go to the remote store,
// in one batched query. The remote answer is authoritative.
func (s *Ingestor) dedupCheck(ctx context.Context, batch *domain.Batch) map[string]struct{} {
	fpToOrigin := make(map[string]string, len(batch.Records))
	var fps []string
	for i := range batch.Records {
		record := &batch.Records[i]
		if !record.Eligible() {
			continue
		}
		fp := record.Fingerprint()
		if _, ok := fpToOrigin[fp]; ok {
			continue
		}
		fpToOrigin[fp] = record.OriginURL
		fps = append(fps, fp)
	}

	known := make(map[string]struct{})

	hits, err := s.cache.HasAny(ctx, fps)
	if err != nil {
		// A broken cache is only an optimization loss; the remote
		// query below still protects correctness.
		s.log(ctx).WithError(err).Warn("Duplicate cache lookup failed, falling back to remote dedup")
		hits = make(map[string]struct{})
	}
	for fp := range hits {
		known[fp] = struct{}{}
	}

	var missedOrigins []string
	missedByOrigin := make(map[string]string)
	for _, fp := range fps {
		if _, hit := hits[fp]; hit {
			continue
		}
		origin := fpToOrigin[fp]
		missedOrigins = append(missedOrigins, origin)
		missedByOrigin[origin] = fp
	}
	if len(missedOrigins) == 0 {
		return known
	}

	remote, err := s.documents.ExistingOrigins(ctx, missedOrigins)
	if err != nil {
		// Worst case the persist call reports the duplicate itself.
		s.log(ctx).WithError(err).Warn("Remote dedup query failed, relying on per-item persist")
		return known
	}
	for origin := range remote {
		if fp, ok := missedByOrigin[origin]; ok {
			known[fp] = struct{}{}
		}
	}
	return known
}

func (s *Ingestor) processItem(ctx context.Context, record *domain.ContentRecord, fp string, summary *domain.Summary, run *activity.Run) {
	ctx = logger.WithField(ctx, logger.FieldFingerprint, fp)

	// A record waits only for its own media tasks; the queue itself is
	// shared with other batches.
	futures := make([]relocate.Future, len(record.Media))
	for i, media := range record.Media {
		futures[i] = s.relocator.Enqueue(media.URL, media.Class)
	}
	for i, future := range futures {
		record.Media[i].URL = future.Await(ctx)
	}

	persisted, err := s.documents.Persist(ctx, record)
	if err != nil {
		if domain.IsDuplicate(err) {
			// Expected outcome under concurrent collection; not a
			// failure.
			summary.Skipped++
			return
		}
		summary.Skipped++
		summary.Failed++
		if run != nil {
			run.ItemFailed(record.OriginURL, err)
		}
		s.log(ctx).WithFields(logger.Fields{
			"origin_url": record.OriginURL,
			"author":     record.Author.Username,
		}).WithError(err).Error("Failed to persist record")
		return
	}

	// Both sets are advisory and only ever written after a successful
	// persist.
	if err := s.cache.Add(ctx, fp); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to cache fingerprint")
	}
	if s.recent != nil {
		s.recent.Add(fp)
	}

	summary.Collected++
	s.log(ctx).WithFields(logger.Fields{
		"origin_url": record.OriginURL,
		"stored_id":  persisted.ID,
	}).Debug("Record persisted")
}

// RebuildCache re-derives the local duplicate cache from the remote
// store's full fingerprint listing. It takes the same gate as batch
// ingestion, so a rebuild never races an in-flight batch. Cost is
// O(total persisted records).
func (s *Ingestor) RebuildCache(ctx context.Context) error {
	if err := s.preflight(); err != nil {
		return err
	}
	ctx = s.withLogger(ctx)
	return s.gate.Do(ctx, func() error {
		s.log(ctx).Info("Rebuilding duplicate cache from remote store")
		if err := s.cache.Rebuild(ctx, s.documents.AllFingerprints); err != nil {
			return err
		}
		count, err := s.cache.Count(ctx)
		if err != nil {
			return err
		}
		s.log(ctx).WithField(logger.FieldCount, count).Info("Duplicate cache rebuilt")
		return nil
	})
}
