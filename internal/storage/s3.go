package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

// S3Provider uploads artifacts to an Amazon S3 bucket.
type S3Provider struct {
	uploader *s3manager.Uploader
	client   *s3.S3
	bucket   string
	prefix   string
}

// NewS3Provider creates an S3 provider. Without explicit keys the
// default AWS credential chain applies (environment, shared config,
// instance role).
func NewS3Provider(cfg *config.S3Config, prefix string) (*S3Provider, error) {
	if cfg == nil {
		return nil, apperrors.NewConfigError("s3 upload configuration is missing", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid s3 upload configuration", err)
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, apperrors.NewStorageError("cannot create AWS session", err)
	}

	return &S3Provider{
		uploader: s3manager.NewUploader(sess),
		client:   s3.New(sess),
		bucket:   cfg.Bucket,
		prefix:   normalizePrefix(prefix),
	}, nil
}

// Name identifies the backend.
func (p *S3Provider) Name() string { return "s3" }

// Upload streams the artifact through a multipart upload so large
// xtrabackup streams do not need to fit in memory.
func (p *S3Provider) Upload(ctx context.Context, localPath, remoteName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperrors.NewStorageError("cannot open artifact for upload", err)
	}
	defer f.Close()

	key := p.prefix + remoteName
	_, err = p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("cannot upload to s3://%s/%s", p.bucket, key), err)
	}
	return nil
}

// HealthCheck verifies the bucket is visible with the configured
// credentials.
func (p *S3Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("s3 bucket %s is not accessible", p.bucket), err)
	}
	return nil
}
