package hosting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awshttp "github.com/aws/smithy-go/transport/http"

	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/domain"
)

// ProviderType defines the flavour of S3-compatible storage.
type ProviderType string

const (
	ProviderR2           ProviderType = "r2"
	ProviderS3           ProviderType = "s3"
	ProviderS3Compatible ProviderType = "s3compatible"
	ProviderMinIO        ProviderType = "minio"
)

// S3Host implements MediaHost for S3-compatible services (AWS S3,
// Cloudflare R2, and generic S3-compatible endpoints).
type S3Host struct {
	client    *s3.Client
	bucket    string
	provider  ProviderType
	publicURL string
}

// NewS3Host creates a MediaHost backed by an S3-compatible service.
func NewS3Host(cfg *config.HostingConfig, provider ProviderType) (*S3Host, error) {
	endpoint := normalizeEndpoint(cfg.Endpoint)

	region := cfg.Region
	if region == "" {
		if provider == ProviderR2 {
			region = "auto"
		} else {
			region = "us-east-1"
		}
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpointURL := fmt.Sprintf("%s://%s", scheme, endpoint)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
		o.UsePathStyle = true // path-style for S3-compatible services
	})

	return &S3Host{
		client:    client,
		bucket:    cfg.Bucket,
		provider:  provider,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

// normalizeEndpoint removes protocol prefix and path from an endpoint.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return strings.TrimSuffix(endpoint, "/")
}

// EnsureBucket creates the bucket if it doesn't exist.
func (h *S3Host) EnsureBucket(ctx context.Context) error {
	_, err := h.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(h.bucket),
	})
	if err == nil {
		return nil
	}

	// R2 doesn't support creating buckets via API.
	if h.provider == ProviderR2 {
		return fmt.Errorf("bucket %s does not exist, please create it in the R2 dashboard", h.bucket)
	}

	_, err = h.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(h.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Upload writes a payload under key. The write is conditional on the
// key being absent; a precondition failure means the content is
// already hosted and comes back as KindConflict.
func (h *S3Host) Upload(ctx context.Context, key string, payload []byte, contentType string) (string, error) {
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(h.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String(contentType),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		return "", classifyS3("hosting.Upload", err)
	}
	return h.URL(key), nil
}

// Exists checks if an object exists.
func (h *S3Host) Exists(ctx context.Context, key string) (bool, error) {
	_, err := h.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
			return false, nil
		}
		return false, classifyS3("hosting.Exists", err)
	}
	return true, nil
}

// URL returns the public URL for a key.
func (h *S3Host) URL(key string) string {
	return fmt.Sprintf("%s/%s", h.publicURL, key)
}

// classifyS3 maps SDK failures onto the pipeline's error kinds using
// the response status, not message text.
func classifyS3(op string, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusPreconditionFailed, http.StatusConflict:
			return domain.E(domain.KindConflict, op, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.E(domain.KindAuth, op, err)
		}
	}
	return domain.E(domain.KindTransport, op, err)
}
