// Package hosting re-homes media payloads on durable object storage.
// Keys are content-addressed, so uploads are naturally idempotent: an
// already-existing destination is success, not failure.
package hosting

import "context"

// MediaHost is the upload contract the relocation queue consumes.
// Upload errors are kind-tagged: KindConflict when the destination
// already exists (success-equivalent), KindAuth for rejected
// credentials (never retried), KindTransport otherwise (retryable).
type MediaHost interface {
	// Upload writes a payload under the given content-addressed key
	// and returns the public URL of the destination.
	Upload(ctx context.Context, key string, payload []byte, contentType string) (string, error)

	// Exists checks whether the destination key is already populated.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the public URL a key resolves to, without touching
	// the host.
	URL(key string) string

	// EnsureBucket creates the destination bucket if it is missing.
	EnsureBucket(ctx context.Context) error
}
