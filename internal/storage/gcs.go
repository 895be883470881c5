package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

// GCSProvider uploads artifacts to a Google Cloud Storage bucket.
type GCSProvider struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSProvider creates a GCS provider. Without an explicit
// credentials file the application default credentials apply.
func NewGCSProvider(ctx context.Context, cfg *config.GCSConfig, prefix string) (*GCSProvider, error) {
	if cfg == nil {
		return nil, apperrors.NewConfigError("gcs upload configuration is missing", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid gcs upload configuration", err)
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewStorageError("cannot create GCS client", err)
	}

	return &GCSProvider{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(prefix),
	}, nil
}

// Name identifies the backend.
func (p *GCSProvider) Name() string { return "gcs" }

// Upload streams the artifact into an object writer.
func (p *GCSProvider) Upload(ctx context.Context, localPath, remoteName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperrors.NewStorageError("cannot open artifact for upload", err)
	}
	defer f.Close()

	key := p.prefix + remoteName
	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return apperrors.NewStorageError(fmt.Sprintf("cannot upload to gs://%s/%s", p.bucket, key), err)
	}
	if err := w.Close(); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("cannot finish upload to gs://%s/%s", p.bucket, key), err)
	}
	return nil
}

// HealthCheck verifies the bucket exists and is readable.
func (p *GCSProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.Bucket(p.bucket).Attrs(ctx); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("gcs bucket %s is not accessible", p.bucket), err)
	}
	return nil
}

// Close releases the underlying client.
func (p *GCSProvider) Close() error {
	return p.client.Close()
}
