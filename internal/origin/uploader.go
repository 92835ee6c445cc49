package origin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/minhvtq/streamgate/internal/config"
)

// ObjectPutter is the slice of the S3 client the uploader uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader pushes ingested video bytes to S3-compatible origin storage.
type Uploader struct {
	client    ObjectPutter
	bucket    string
	keyPrefix string
	logger    *slog.Logger
}

// NewUploader builds an uploader from service configuration. An empty bucket
// disables origin uploads: the returned uploader is nil and safe to skip.
func NewUploader(ctx context.Context, cfg *config.OriginConfig, logger *slog.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and most self-hosted S3 endpoints need path-style addressing.
		o.UsePathStyle = true
	})

	logger.Info("origin uploader ready",
		slog.String("bucket", cfg.Bucket),
		slog.String("region", cfg.Region),
	)

	return &Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}, nil
}

// NewUploaderWithClient builds an uploader around an existing S3 client.
func NewUploaderWithClient(client ObjectPutter, bucket, keyPrefix string, logger *slog.Logger) *Uploader {
	return &Uploader{client: client, bucket: bucket, keyPrefix: keyPrefix, logger: logger}
}

// Upload stores an object and returns the full key it was written under.
func (u *Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	fullKey := key
	if u.keyPrefix != "" {
		fullKey = strings.TrimSuffix(u.keyPrefix, "/") + "/" + strings.TrimPrefix(key, "/")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(fullKey),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %q: %w", fullKey, err)
	}

	u.logger.Info("object uploaded to origin",
		slog.String("bucket", u.bucket),
		slog.String("key", fullKey),
	)

	return fullKey, nil
}
