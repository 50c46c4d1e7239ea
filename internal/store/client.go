// Package store talks to the remote document store, the authoritative
// home of collected records. The local duplicate cache only fronts it.
package store

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/domain"
)

// Persisted is the remote store's acknowledgement of one record.
type Persisted struct {
	ID           string `json:"id"`
	CanonicalURL string `json:"canonical_url"`
}

// DocumentStore is the contract the ingestion pipeline consumes.
type DocumentStore interface {
	// ExistingOrigins returns which of the given origin URLs the store
	// already holds. Batched; this is the authoritative dedup check.
	ExistingOrigins(ctx context.Context, originURLs []string) (map[string]struct{}, error)

	// Persist writes one record. Duplicate submissions fail with a
	// KindDuplicate error.
	Persist(ctx context.Context, record *domain.ContentRecord) (*Persisted, error)

	// AllFingerprints streams every stored fingerprint page by page.
	// Used only by cache rebuild; cost is proportional to the whole
	// store.
	AllFingerprints(ctx context.Context, fn func(page []string) error) error
}

// Client is the HTTP implementation of DocumentStore.
type Client struct {
	http     *resty.Client
	pageSize int
}

// NewClient creates a store client from configuration.
func NewClient(cfg *config.StoreConfig) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	return &Client{http: client, pageSize: pageSize}
}

type queryExistingRequest struct {
	OriginURLs []string `json:"origin_urls"`
}

type queryExistingResponse struct {
	Existing []string `json:"existing"`
}

// ExistingOrigins implements DocumentStore.
func (c *Client) ExistingOrigins(ctx context.Context, originURLs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(originURLs) == 0 {
		return existing, nil
	}

	var body queryExistingResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&queryExistingRequest{OriginURLs: originURLs}).
		SetResult(&body).
		Post("/api/v1/records/query-existing")
	if err != nil {
		return nil, domain.E(domain.KindTransport, "store.ExistingOrigins", err)
	}
	if resp.IsError() {
		return nil, classify("store.ExistingOrigins", resp)
	}

	for _, url := range body.Existing {
		existing[url] = struct{}{}
	}
	return existing, nil
}

// Persist implements DocumentStore.
func (c *Client) Persist(ctx context.Context, record *domain.ContentRecord) (*Persisted, error) {
	var body Persisted
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(record).
		SetResult(&body).
		Post("/api/v1/records")
	if err != nil {
		return nil, domain.E(domain.KindTransport, "store.Persist", err)
	}
	if resp.IsError() {
		return nil, classify("store.Persist", resp)
	}
	return &body, nil
}

type fingerprintPage struct {
	Fingerprints []string `json:"fingerprints"`
	NextCursor   string   `json:"next_cursor"`
}

// AllFingerprints implements DocumentStore. Pages through the store's
// fingerprint listing until the cursor is exhausted.
func (c *Client) AllFingerprints(ctx context.Context, fn func(page []string) error) error {
	cursor := ""
	for {
		var body fingerprintPage
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("cursor", cursor).
			SetQueryParam("limit", fmt.Sprintf("%d", c.pageSize)).
			SetResult(&body).
			Get("/api/v1/fingerprints")
		if err != nil {
			return domain.E(domain.KindTransport, "store.AllFingerprints", err)
		}
		if resp.IsError() {
			return classify("store.AllFingerprints", resp)
		}

		if len(body.Fingerprints) > 0 {
			if err := fn(body.Fingerprints); err != nil {
				return err
			}
		}
		if body.NextCursor == "" {
			return nil
		}
		cursor = body.NextCursor
	}
}

// classify maps an HTTP status to a kind-tagged error. Duplicate
// detection rides on the status code, never on message text.
func classify(op string, resp *resty.Response) error {
	err := fmt.Errorf("remote store returned %s: %s", resp.Status(), resp.String())
	switch resp.StatusCode() {
	case http.StatusConflict:
		return domain.E(domain.KindDuplicate, op, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.E(domain.KindAuth, op, err)
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return domain.E(domain.KindValidation, op, err)
	default:
		return domain.E(domain.KindTransport, op, err)
	}
}
