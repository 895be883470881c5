package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

// AzureProvider uploads artifacts to an Azure Blob Storage container.
type AzureProvider struct {
	container azblob.ContainerURL
	account   string
	prefix    string
}

// NewAzureProvider creates an Azure provider from shared key
// credentials.
func NewAzureProvider(cfg *config.AzureConfig, prefix string) (*AzureProvider, error) {
	if cfg == nil {
		return nil, apperrors.NewConfigError("azure upload configuration is missing", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid azure upload configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, apperrors.NewStorageError("cannot create Azure credentials", err)
	}

	endpoint, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", cfg.AccountName, cfg.ContainerName))
	if err != nil {
		return nil, apperrors.NewStorageError("cannot build Azure container URL", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	return &AzureProvider{
		container: azblob.NewContainerURL(*endpoint, pipeline),
		account:   cfg.AccountName,
		prefix:    normalizePrefix(prefix),
	}, nil
}

// Name identifies the backend.
func (p *AzureProvider) Name() string { return "azure" }

// Upload sends the artifact as a block blob in 4MB blocks.
func (p *AzureProvider) Upload(ctx context.Context, localPath, remoteName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperrors.NewStorageError("cannot open artifact for upload", err)
	}
	defer f.Close()

	key := p.prefix + remoteName
	blobURL := p.container.NewBlockBlobURL(key)
	_, err = azblob.UploadFileToBlockBlob(ctx, f, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
	})
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("cannot upload to azure container %s as %s", p.container.String(), key), err)
	}
	return nil
}

// HealthCheck verifies the container is reachable.
func (p *AzureProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.container.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("azure container for account %s is not accessible", p.account), err)
	}
	return nil
}
