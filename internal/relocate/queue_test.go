package relocate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/domain"
	"github.com/tobyh/feedvault/internal/logger"
)

type fakeFetcher struct {
	payloads map[string]*Payload
	err      error
	calls    int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*Payload, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payloads[url]
	if !ok {
		return nil, domain.Errorf(domain.KindTransport, "relocate.Fetch", "no payload for %s", url)
	}
	return p, nil
}

type fakeHost struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	uploadErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{objects: make(map[string][]byte)}
}

func (h *fakeHost) Upload(ctx context.Context, key string, payload []byte, contentType string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.uploadErr != nil {
		return "", h.uploadErr
	}
	h.uploads++
	if _, ok := h.objects[key]; ok {
		return "", domain.Errorf(domain.KindConflict, "hosting.Upload", "object %s already exists", key)
	}
	h.objects[key] = payload
	return h.URL(key), nil
}

func (h *fakeHost) Exists(ctx context.Context, key string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.objects[key]
	return ok, nil
}

func (h *fakeHost) URL(key string) string {
	return "https://media.example.com/" + key
}

func (h *fakeHost) EnsureBucket(ctx context.Context) error {
	return nil
}

func (h *fakeHost) uploadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.uploads
}

func testQueueConfig() *config.RelocateConfig {
	return &config.RelocateConfig{
		Workers:         2,
		ImageMaxBytes:   1000,
		VideoMaxBytes:   10000,
		HeavyVideoBytes: 2000,
		RetryAttempts:   3,
		RetryBase:       time.Millisecond,
		TaskDelay:       0,
	}
}

func TestQueueRelocatesImage(t *testing.T) {
	fetcher := &fakeFetcher{payloads: map[string]*Payload{
		"https://src.example.com/a.png": {Data: []byte("png bytes"), ContentType: "image/png"},
	}}
	host := newFakeHost()
	q := NewQueue(testQueueConfig(), fetcher, host, logger.New(nil))
	defer q.Close()

	got := q.Enqueue("https://src.example.com/a.png", domain.MediaClassImage).Await(context.Background())
	if got == "https://src.example.com/a.png" {
		t.Fatal("image was not relocated")
	}
	if host.uploadCount() != 1 {
		t.Errorf("upload calls = %d, want 1", host.uploadCount())
	}
}

func TestQueueSizeCeilingZeroUploads(t *testing.T) {
	src := "https://src.example.com/huge.png"
	fetcher := &fakeFetcher{payloads: map[string]*Payload{
		src: {Data: make([]byte, 2000), ContentType: "image/png"},
	}}
	host := newFakeHost()
	q := NewQueue(testQueueConfig(), fetcher, host, logger.New(nil))
	defer q.Close()

	got := q.Enqueue(src, domain.MediaClassImage).Await(context.Background())
	if got != src {
		t.Errorf("oversized payload was relocated to %s", got)
	}
	if host.uploadCount() != 0 {
		t.Errorf("upload calls = %d, want 0", host.uploadCount())
	}
}

func TestQueueIdempotentRelocation(t *testing.T) {
	payload := &Payload{Data: []byte("identical bytes"), ContentType: "image/png"}
	fetcher := &fakeFetcher{payloads: map[string]*Payload{
		"https://a.example.com/x.png": payload,
		"https://b.example.com/x.png": payload,
	}}
	host := newFakeHost()
	q := NewQueue(testQueueConfig(), fetcher, host, logger.New(nil))
	defer q.Close()

	first := q.Enqueue("https://a.example.com/x.png", domain.MediaClassImage).Await(context.Background())
	second := q.Enqueue("https://b.example.com/x.png", domain.MediaClassImage).Await(context.Background())

	if first != second {
		t.Errorf("identical payloads relocated to different URLs: %s vs %s", first, second)
	}
	if host.uploadCount() != 1 {
		t.Errorf("upload calls = %d, want 1 (second relocation must reuse the destination)", host.uploadCount())
	}
}

func TestQueueRetryCeilingThenFallback(t *testing.T) {
	src := "https://src.example.com/flaky.png"
	fetcher := &fakeFetcher{err: domain.Errorf(domain.KindTransport, "relocate.Fetch", "connection reset")}
	host := newFakeHost()

	cfg := testQueueConfig()
	cfg.RetryAttempts = 3
	q := NewQueue(cfg, fetcher, host, logger.New(nil))
	defer q.Close()

	start := time.Now()
	got := q.Enqueue(src, domain.MediaClassImage).Await(context.Background())
	elapsed := time.Since(start)

	if got != src {
		t.Errorf("exhausted retries returned %s, want original URL", got)
	}
	if calls := atomic.LoadInt32(&fetcher.calls); calls != 3 {
		t.Errorf("fetch attempts = %d, want exactly 3", calls)
	}
	// Backoff between 3 attempts: base + 2*base.
	if elapsed < 3*time.Millisecond {
		t.Errorf("no backoff observed, task settled in %v", elapsed)
	}
}

func TestQueueAuthFailureNoRetry(t *testing.T) {
	src := "https://src.example.com/a.png"
	fetcher := &fakeFetcher{payloads: map[string]*Payload{
		src: {Data: []byte("png bytes"), ContentType: "image/png"},
	}}
	host := newFakeHost()
	host.uploadErr = domain.Errorf(domain.KindAuth, "hosting.Upload", "bad credentials")

	q := NewQueue(testQueueConfig(), fetcher, host, logger.New(nil))
	defer q.Close()

	got := q.Enqueue(src, domain.MediaClassImage).Await(context.Background())
	if got != src {
		t.Errorf("auth failure returned %s, want original URL", got)
	}
	if calls := atomic.LoadInt32(&fetcher.calls); calls != 1 {
		t.Errorf("fetch attempts = %d, want 1 (auth never retries)", calls)
	}
}

func TestQueueSharedAcrossConcurrentProducers(t *testing.T) {
	fetcher := &fakeFetcher{payloads: make(map[string]*Payload)}
	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("https://src.example.com/%d.png", i)
		fetcher.payloads[url] = &Payload{Data: []byte(fmt.Sprintf("payload %d", i)), ContentType: "image/png"}
	}
	host := newFakeHost()
	q := NewQueue(testQueueConfig(), fetcher, host, logger.New(nil))
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("https://src.example.com/%d.png", i)
			if got := q.Enqueue(url, domain.MediaClassImage).Await(context.Background()); got == url {
				t.Errorf("task %d fell back to original", i)
			}
		}(i)
	}
	wg.Wait()

	if host.uploadCount() != 20 {
		t.Errorf("upload calls = %d, want 20", host.uploadCount())
	}
}

func TestAwaitWithExpiredContext(t *testing.T) {
	// A task that never settles: queue with zero workers is not
	// constructible, so block the fetch instead.
	blocked := make(chan struct{})
	fetcher := &blockingFetcher{unblock: blocked}
	host := newFakeHost()
	q := NewQueue(testQueueConfig(), fetcher, host, logger.New(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := "https://src.example.com/slow.png"
	got := q.Enqueue(src, domain.MediaClassImage).Await(ctx)
	if got != src {
		t.Errorf("Await with cancelled ctx returned %s, want original URL", got)
	}

	close(blocked)
	q.Close()
}

type blockingFetcher struct {
	unblock chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context, url string) (*Payload, error) {
	<-f.unblock
	return nil, domain.Errorf(domain.KindAuth, "relocate.Fetch", "blocked fetcher always fails")
}
