// Package storage uploads finished backup artifacts to remote object
// storage. Providers exist for Amazon S3, Google Cloud Storage, and
// Azure Blob Storage; which one runs is picked by configuration.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

// defaultPrefix namespaces backup objects inside a shared bucket.
const defaultPrefix = "backups/"

// Provider is one remote storage backend.
type Provider interface {
	// Name identifies the backend in logs ("s3", "gcs", "azure").
	Name() string

	// Upload copies a local artifact to remote storage under the
	// configured prefix. The sidecar travels the same way.
	Upload(ctx context.Context, localPath, remoteName string) error

	// HealthCheck verifies the bucket or container is reachable with
	// the configured credentials.
	HealthCheck(ctx context.Context) error
}

// NewProvider builds the configured storage provider.
func NewProvider(ctx context.Context, cfg config.UploadConfig) (Provider, error) {
	if !cfg.Enabled {
		return nil, apperrors.NewConfigError("upload is not enabled", nil)
	}

	switch cfg.Provider {
	case "s3":
		return NewS3Provider(cfg.S3, cfg.Prefix)
	case "gcs":
		return NewGCSProvider(ctx, cfg.GCS, cfg.Prefix)
	case "azure":
		return NewAzureProvider(cfg.Azure, cfg.Prefix)
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown upload provider %q", cfg.Provider), nil)
	}
}

// normalizePrefix gives every provider the same object layout: a
// non-empty, slash-terminated, not slash-led prefix.
func normalizePrefix(prefix string) string {
	if prefix == "" {
		return defaultPrefix
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
