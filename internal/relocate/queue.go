package relocate

import (
	"context"
	"sync"
	"time"

	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/domain"
	"github.com/tobyh/feedvault/internal/hosting"
	"github.com/tobyh/feedvault/internal/logger"
)

// queueDepth bounds how many tasks can wait unserved before Enqueue
// blocks the producer.
const queueDepth = 256

// Future is a relocation result that settles exactly once.
type Future interface {
	// Await blocks until the task settles and returns the replacement
	// URL, or the original URL if ctx expires first. It never fails.
	Await(ctx context.Context) string
}

// Task is the pending relocation of one media reference.
type Task struct {
	sourceURL string
	class     domain.MediaClass

	done   chan struct{}
	result string
	once   sync.Once
}

// Await implements Future.
func (t *Task) Await(ctx context.Context) string {
	select {
	case <-t.done:
		return t.result
	case <-ctx.Done():
		return t.sourceURL
	}
}

// resolve settles the task. Safe against double resolution.
func (t *Task) resolve(url string) {
	t.once.Do(func() {
		t.result = url
		close(t.done)
	})
}

// Queue is the bounded-concurrency media relocation queue. It is a
// process-wide resource shared across batches; its workers outlive any
// single batch.
type Queue struct {
	fetcher Fetcher
	host    hosting.MediaHost
	policy  *Policy
	log     *logger.Logger

	attempts  int
	retryBase time.Duration
	taskDelay time.Duration

	tasks chan *Task
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewQueue creates the queue and starts its worker pool.
func NewQueue(cfg *config.RelocateConfig, fetcher Fetcher, host hosting.MediaHost, log *logger.Logger) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}

	q := &Queue{
		fetcher:   fetcher,
		host:      host,
		policy:    NewPolicy(cfg),
		log:       log,
		attempts:  cfg.RetryAttempts,
		retryBase: cfg.RetryBase,
		taskDelay: cfg.TaskDelay,
		tasks:     make(chan *Task, queueDepth),
	}
	if q.attempts <= 0 {
		q.attempts = 3
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

// Enqueue submits one media reference for relocation. It never fails:
// the returned future always settles, either with the relocated URL or
// with the original.
func (q *Queue) Enqueue(sourceURL string, class domain.MediaClass) Future {
	task := &Task{
		sourceURL: sourceURL,
		class:     class,
		done:      make(chan struct{}),
	}
	q.tasks <- task
	return task
}

// Close drains the queue and stops the workers. Pending tasks still
// settle before Close returns.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.tasks)
	})
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		task.resolve(q.process(task))
		// Fixed pause between tasks keeps us under upstream rate
		// limits.
		time.Sleep(q.taskDelay)
	}
}

// process runs one task to completion: fetch, route, upload with
// retry. Once a task starts it is never cancelled; the worst outcome
// is falling back to the original URL.
func (q *Queue) process(task *Task) string {
	ctx := context.Background()

	var lastErr error
	for attempt := 0; attempt < q.attempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base, 2x, 4x, ...
			time.Sleep(q.retryBase << (attempt - 1))
		}

		url, err := q.attempt(ctx, task)
		if err == nil {
			return url
		}
		lastErr = err

		if !domain.Retryable(err) {
			// Auth failures are scoped to this task: no retry, no
			// effect on the owning record.
			break
		}
	}

	q.log.WithFields(logger.Fields{
		"source_url": task.sourceURL,
		"class":      string(task.class),
	}).WithError(lastErr).Warn("Media relocation failed, keeping original URL")
	return task.sourceURL
}

// attempt performs one fetch-route-upload cycle.
func (q *Queue) attempt(ctx context.Context, task *Task) (string, error) {
	payload, err := q.fetcher.Fetch(ctx, task.sourceURL)
	if err != nil {
		return "", err
	}

	if q.policy.Route(task.sourceURL, task.class, payload) == DecisionKeepOriginal {
		return task.sourceURL, nil
	}

	key, contentType := contentKey(payload)

	// Skip the upload entirely when the destination already holds
	// these bytes.
	if exists, err := q.host.Exists(ctx, key); err == nil && exists {
		return q.host.URL(key), nil
	}

	url, err := q.host.Upload(ctx, key, payload.Data, contentType)
	if err != nil {
		if domain.IsConflict(err) {
			// Destination already holds these bytes. Content-addressed
			// naming makes this success.
			return q.host.URL(key), nil
		}
		return "", err
	}
	return url, nil
}
