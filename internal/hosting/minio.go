package hosting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/domain"
)

// MinIOHost implements MediaHost using a MinIO deployment.
type MinIOHost struct {
	client    *minio.Client
	bucket    string
	endpoint  string
	useSSL    bool
	publicURL string
}

// NewMinIOHost creates a MediaHost backed by MinIO.
func NewMinIOHost(cfg *config.HostingConfig) (*MinIOHost, error) {
	client, err := minio.New(normalizeEndpoint(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOHost{
		client:    client,
		bucket:    cfg.Bucket,
		endpoint:  normalizeEndpoint(cfg.Endpoint),
		useSSL:    cfg.UseSSL,
		publicURL: cfg.PublicURL,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (h *MinIOHost) EnsureBucket(ctx context.Context) error {
	exists, err := h.client.BucketExists(ctx, h.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := h.client.MakeBucket(ctx, h.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	// Relocated media must stay publicly readable.
	policy := fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [
			{
				"Effect": "Allow",
				"Principal": {"AWS": ["*"]},
				"Action": ["s3:GetObject"],
				"Resource": ["arn:aws:s3:::%s/*"]
			}
		]
	}`, h.bucket)
	if err := h.client.SetBucketPolicy(ctx, h.bucket, policy); err != nil {
		// Non-fatal: bucket is created, just can't set public policy.
		return nil
	}
	return nil
}

// Upload writes a payload under key. A destination that already holds
// the key is reported as KindConflict, which callers treat as success.
func (h *MinIOHost) Upload(ctx context.Context, key string, payload []byte, contentType string) (string, error) {
	exists, err := h.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return "", domain.Errorf(domain.KindConflict, "hosting.Upload", "object %s already exists", key)
	}

	_, err = h.client.PutObject(ctx, h.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", classifyMinIO("hosting.Upload", err)
	}
	return h.URL(key), nil
}

// Exists checks if an object exists.
func (h *MinIOHost) Exists(ctx context.Context, key string) (bool, error) {
	_, err := h.client.StatObject(ctx, h.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return false, nil
		}
		return false, classifyMinIO("hosting.Exists", err)
	}
	return true, nil
}

// URL returns the public URL for a key.
func (h *MinIOHost) URL(key string) string {
	if h.publicURL != "" {
		return fmt.Sprintf("%s/%s", h.publicURL, key)
	}
	scheme := "http"
	if h.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, h.endpoint, h.bucket, key)
}

// classifyMinIO maps MinIO failures onto the pipeline's error kinds
// using the response status code.
func classifyMinIO(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.StatusCode {
	case http.StatusConflict, http.StatusPreconditionFailed:
		return domain.E(domain.KindConflict, op, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.E(domain.KindAuth, op, err)
	default:
		return domain.E(domain.KindTransport, op, err)
	}
}
