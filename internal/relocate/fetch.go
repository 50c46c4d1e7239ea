// Package relocate re-hosts media references on durable storage. A
// bounded worker pool pulls tasks from a shared FIFO queue, fetches the
// source payload, routes it through the relocation policy, and uploads
// it under a content-addressed key. Failure is never fatal to the
// owning record: a task always settles, at worst with the original URL.
package relocate

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tobyh/feedvault/internal/domain"
)

// Payload is a fetched media body with its declared MIME type.
type Payload struct {
	Data        []byte
	ContentType string
}

// Size returns the payload size in bytes.
func (p *Payload) Size() int64 {
	return int64(len(p.Data))
}

// Fetcher retrieves a media payload from its source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Payload, error)
}

// HTTPFetcher fetches media over HTTP.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates a Fetcher with sane timeouts.
func NewHTTPFetcher() *HTTPFetcher {
	client := resty.New().
		SetTimeout(60 * time.Second).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher. Failures are transport-tagged so the queue
// retries them.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Payload, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, domain.E(domain.KindTransport, "relocate.Fetch", err)
	}
	if resp.IsError() {
		return nil, domain.Errorf(domain.KindTransport, "relocate.Fetch", "source returned %s for %s", resp.Status(), url)
	}
	return &Payload{
		Data:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}
