package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/dedupe"
	"github.com/tobyh/feedvault/internal/domain"
	"github.com/tobyh/feedvault/internal/flight"
	"github.com/tobyh/feedvault/internal/logger"
	"github.com/tobyh/feedvault/internal/relocate"
	"github.com/tobyh/feedvault/internal/store"
)

// fakeStore keeps persisted records in memory and enforces the remote
// store's duplicate rejection by origin URL.
type fakeStore struct {
	mu            sync.Mutex
	persisted     map[string]struct{}
	persistErr    map[string]error
	queryErr      error
	persistDelay  time.Duration
	queryCalls    int32
	persistCalls  int32
	activePersist int32
	maxActive     int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		persisted:  make(map[string]struct{}),
		persistErr: make(map[string]error),
	}
}

func (s *fakeStore) ExistingOrigins(ctx context.Context, originURLs []string) (map[string]struct{}, error) {
	atomic.AddInt32(&s.queryCalls, 1)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]struct{})
	for _, url := range originURLs {
		if _, ok := s.persisted[url]; ok {
			existing[url] = struct{}{}
		}
	}
	return existing, nil
}

func (s *fakeStore) Persist(ctx context.Context, record *domain.ContentRecord) (*store.Persisted, error) {
	atomic.AddInt32(&s.persistCalls, 1)

	active := atomic.AddInt32(&s.activePersist, 1)
	defer atomic.AddInt32(&s.activePersist, -1)
	for {
		max := atomic.LoadInt32(&s.maxActive)
		if active <= max || atomic.CompareAndSwapInt32(&s.maxActive, max, active) {
			break
		}
	}
	if s.persistDelay > 0 {
		time.Sleep(s.persistDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.persistErr[record.OriginURL]; ok {
		return nil, err
	}
	if _, ok := s.persisted[record.OriginURL]; ok {
		return nil, domain.Errorf(domain.KindDuplicate, "store.Persist", "record already exists")
	}
	s.persisted[record.OriginURL] = struct{}{}
	return &store.Persisted{ID: fmt.Sprintf("rec-%d", len(s.persisted))}, nil
}

func (s *fakeStore) AllFingerprints(ctx context.Context, fn func(page []string) error) error {
	s.mu.Lock()
	fps := make([]string, 0, len(s.persisted))
	for url := range s.persisted {
		fps = append(fps, domain.Fingerprint(url))
	}
	s.mu.Unlock()
	if len(fps) == 0 {
		return nil
	}
	return fn(fps)
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.persisted)
}

// settledFuture resolves immediately.
type settledFuture struct {
	url string
}

func (f settledFuture) Await(ctx context.Context) string {
	return f.url
}

// fakeRelocator rewrites every media URL deterministically.
type fakeRelocator struct {
	enqueued int32
}

func (r *fakeRelocator) Enqueue(sourceURL string, class domain.MediaClass) relocate.Future {
	atomic.AddInt32(&r.enqueued, 1)
	return settledFuture{url: "https://media.example.com/" + domain.Fingerprint(sourceURL)}
}

func newTestIngestor(t *testing.T, docs store.DocumentStore) *Ingestor {
	t.Helper()
	db, err := dedupe.OpenDB(&config.CacheConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "cache.db"),
	})
	if err != nil {
		t.Fatalf("failed to open cache db: %v", err)
	}
	return NewIngestor(
		flight.New(),
		docs,
		dedupe.NewCache(db),
		dedupe.NewRecentSet(time.Minute),
		&fakeRelocator{},
		nil,
		logger.New(nil),
	)
}

func record(origin, text string) domain.ContentRecord {
	return domain.ContentRecord{
		Platform:  "testgram",
		Text:      text,
		OriginURL: origin,
		Author:    domain.Author{Username: "tester"},
		PostedAt:  time.Now(),
	}
}

func TestIngestBatchCollectsDistinctRecords(t *testing.T) {
	docs := newFakeStore()
	ing := newTestIngestor(t, docs)

	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{
		record("https://origin.example.com/1", "first"),
		record("https://origin.example.com/2", "second"),
		record("https://origin.example.com/3", "third"),
	}}

	summary, err := ing.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}
	if summary.Collected != 3 || summary.Skipped != 0 {
		t.Errorf("summary = %+v, want collected=3 skipped=0", summary)
	}
	if docs.count() != 3 {
		t.Errorf("store holds %d records, want 3", docs.count())
	}
}

func TestIngestBatchResubmitSkipsAll(t *testing.T) {
	docs := newFakeStore()
	ing := newTestIngestor(t, docs)

	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{
		record("https://origin.example.com/1", "first"),
		record("https://origin.example.com/2", "second"),
		record("https://origin.example.com/3", "third"),
	}}

	if _, err := ing.IngestBatch(context.Background(), batch); err != nil {
		t.Fatalf("first IngestBatch returned error: %v", err)
	}
	summary, err := ing.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("second IngestBatch returned error: %v", err)
	}
	if summary.Collected != 0 || summary.Skipped != 3 {
		t.Errorf("resubmit summary = %+v, want collected=0 skipped=3", summary)
	}
	if docs.count() != 3 {
		t.Errorf("store holds %d records after resubmit, want 3", docs.count())
	}
}

func TestIngestBatchEmptyTextDiscarded(t *testing.T) {
	docs := newFakeStore()
	ing := newTestIngestor(t, docs)

	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{
		record("https://origin.example.com/1", "first"),
		record("https://origin.example.com/2", "   "),
		record("https://origin.example.com/3", "third"),
	}}

	summary, err := ing.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}
	if summary.Collected != 2 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want collected=2 skipped=1", summary)
	}
	if docs.count() != 2 {
		t.Errorf("store holds %d records, want 2", docs.count())
	}
}

func TestIngestBatchIntraBatchDuplicate(t *testing.T) {
	docs := newFakeStore()
	ing := newTestIngestor(t, docs)

	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{
		record("https://origin.example.com/1", "first copy"),
		record("https://origin.example.com/1", "second copy"),
	}}

	summary, err := ing.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}
	if summary.Collected != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want collected=1 skipped=1", summary)
	}
	if calls := atomic.LoadInt32(&docs.persistCalls); calls != 1 {
		t.Errorf("persist calls = %d, want 1 (duplicate must not reach the store)", calls)
	}
}

func TestIngestBatchPersistFailureContinues(t *testing.T) {
	docs := newFakeStore()
	docs.persistErr["https://origin.example.com/2"] = domain.Errorf(
		domain.KindTransport, "store.Persist", "connection reset")
	ing := newTestIngestor(t, docs)

	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{
		record("https://origin.example.com/1", "first"),
		record("https://origin.example.com/2", "second"),
		record("https://origin.example.com/3", "third"),
	}}

	summary, err := ing.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}
	if summary.Collected != 2 {
		t.Errorf("collected = %d, want 2 (failure must not abort the batch)", summary.Collected)
	}
	if summary.Failed != 1 {
		t.Errorf("failed = %d, want 1", summary.Failed)
	}
	if got := summary.Collected + summary.Skipped; got != len(batch.Records) {
		t.Errorf("collected+skipped = %d, want %d", got, len(batch.Records))
	}
}

func TestIngestBatchDuplicateFromStoreIsSkip(t *testing.T) {
	docs := newFakeStore()
	// The store already holds the record but the batched dedup query
	// fails, so detection falls to the persist call itself.
	docs.persisted["https://origin.example.com/1"] = struct{}{}
	docs.queryErr = domain.Errorf(domain.KindTransport, "store.ExistingOrigins", "timeout")
	ing := newTestIngestor(t, docs)

	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{
		record("https://origin.example.com/1", "already stored"),
	}}

	summary, err := ing.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}
	if summary.Collected != 0 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want collected=0 skipped=1", summary)
	}
	if summary.Failed != 0 {
		t.Errorf("failed = %d, want 0 (a duplicate is not a failure)", summary.Failed)
	}
}

func TestIngestBatchRelocatesMediaBeforePersist(t *testing.T) {
	docs := newFakeStore()
	ing := newTestIngestor(t, docs)
	reloc := &fakeRelocator{}
	ing.relocator = reloc

	rec := record("https://origin.example.com/1", "with media")
	rec.Media = []domain.MediaRef{
		{URL: "https://cdn.example.com/a.png", Class: domain.MediaClassImage},
		{URL: "https://cdn.example.com/b.mp4", Class: domain.MediaClassVideo},
	}
	// The batch record gets its own media slice so rewrites inside the
	// pipeline cannot alias rec's original URLs.
	recCopy := rec
	recCopy.Media = append([]domain.MediaRef(nil), rec.Media...)
	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{recCopy}}

	if _, err := ing.IngestBatch(context.Background(), batch); err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}
	if n := atomic.LoadInt32(&reloc.enqueued); n != 2 {
		t.Errorf("enqueued = %d media tasks, want 2", n)
	}
	for i, media := range batch.Records[0].Media {
		if media.URL == rec.Media[i].URL && media.URL != "" {
			// fakeRelocator always rewrites, so an unchanged URL means
			// the future result was dropped.
			t.Errorf("media %d kept source URL %s", i, media.URL)
		}
	}
}

func TestConcurrentBatchesPersistOnce(t *testing.T) {
	docs := newFakeStore()
	ing := newTestIngestor(t, docs)

	records := []domain.ContentRecord{
		record("https://origin.example.com/1", "first"),
		record("https://origin.example.com/2", "second"),
		record("https://origin.example.com/3", "third"),
	}

	const submitters = 4
	summaries := make([]*domain.Summary, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batch := &domain.Batch{PageID: "page-1", Records: append([]domain.ContentRecord(nil), records...)}
			summary, err := ing.IngestBatch(context.Background(), batch)
			if err != nil {
				t.Errorf("submitter %d: %v", i, err)
				return
			}
			summaries[i] = summary
		}(i)
	}
	wg.Wait()

	if docs.count() != len(records) {
		t.Fatalf("store holds %d records, want %d", docs.count(), len(records))
	}
	totalCollected := 0
	for _, summary := range summaries {
		if summary == nil {
			continue
		}
		totalCollected += summary.Collected
		if got := summary.Collected + summary.Skipped; got != len(records) {
			t.Errorf("summary %+v: collected+skipped = %d, want %d", summary, got, len(records))
		}
	}
	if totalCollected != len(records) {
		t.Errorf("total collected across submitters = %d, want %d", totalCollected, len(records))
	}
}

func TestBatchesNeverOverlap(t *testing.T) {
	docs := newFakeStore()
	docs.persistDelay = 2 * time.Millisecond
	ing := newTestIngestor(t, docs)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batch := &domain.Batch{PageID: fmt.Sprintf("page-%d", i), Records: []domain.ContentRecord{
				record(fmt.Sprintf("https://origin.example.com/%d-a", i), "a"),
				record(fmt.Sprintf("https://origin.example.com/%d-b", i), "b"),
			}}
			if _, err := ing.IngestBatch(context.Background(), batch); err != nil {
				t.Errorf("batch %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	// Persists within one batch are sequential, so overlap can only
	// come from two batches running at once.
	if max := atomic.LoadInt32(&docs.maxActive); max > 1 {
		t.Errorf("observed %d concurrent persist calls, want at most 1", max)
	}
}

func TestCacheShortCircuitsRemoteQuery(t *testing.T) {
	docs := newFakeStore()
	ing := newTestIngestor(t, docs)

	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{
		record("https://origin.example.com/1", "first"),
	}}

	if _, err := ing.IngestBatch(context.Background(), batch); err != nil {
		t.Fatalf("first IngestBatch returned error: %v", err)
	}
	queriesAfterFirst := atomic.LoadInt32(&docs.queryCalls)

	if _, err := ing.IngestBatch(context.Background(), batch); err != nil {
		t.Fatalf("second IngestBatch returned error: %v", err)
	}
	if got := atomic.LoadInt32(&docs.queryCalls); got != queriesAfterFirst {
		t.Errorf("remote dedup queries = %d after resubmit, want %d (cache hit must not query)", got, queriesAfterFirst)
	}
}

func TestRebuildCacheRestoresDedup(t *testing.T) {
	docs := newFakeStore()
	ing := newTestIngestor(t, docs)

	batch := &domain.Batch{PageID: "page-1", Records: []domain.ContentRecord{
		record("https://origin.example.com/1", "first"),
		record("https://origin.example.com/2", "second"),
	}}
	if _, err := ing.IngestBatch(context.Background(), batch); err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}

	// Simulate cache loss, then rebuild from the store.
	if err := ing.cache.Clear(context.Background()); err != nil {
		t.Fatalf("failed to clear cache: %v", err)
	}
	if err := ing.RebuildCache(context.Background()); err != nil {
		t.Fatalf("RebuildCache returned error: %v", err)
	}

	count, err := ing.cache.Count(context.Background())
	if err != nil {
		t.Fatalf("failed to count cache: %v", err)
	}
	if count != 2 {
		t.Errorf("rebuilt cache holds %d fingerprints, want 2", count)
	}

	summary, err := ing.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("resubmit after rebuild returned error: %v", err)
	}
	if summary.Collected != 0 || summary.Skipped != 2 {
		t.Errorf("summary after rebuild = %+v, want collected=0 skipped=2", summary)
	}
}

func TestIngestBatchMissingStoreFailsPreflight(t *testing.T) {
	ing := newTestIngestor(t, newFakeStore())
	ing.documents = nil

	_, err := ing.IngestBatch(context.Background(), &domain.Batch{PageID: "page-1"})
	if err == nil {
		t.Fatal("expected pre-flight error, got nil")
	}
	if !domain.IsValidation(err) {
		t.Errorf("pre-flight error kind = %v, want validation", domain.KindOf(err))
	}
}
