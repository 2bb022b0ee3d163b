package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client handles S3/MinIO operations for the remote segment backend.
type S3Client struct {
	client *s3.Client
	config S3Config
	logger *slog.Logger
}

// NewS3Client creates a new S3 client.
func NewS3Client(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Create AWS config with custom endpoint
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})

	s3Client := &S3Client{
		client: client,
		config: cfg,
		logger: logger.With("component", "s3-client"),
	}

	logger.Info("S3 client created",
		"endpoint", cfg.Endpoint,
		"bucket", cfg.Bucket,
		"region", cfg.Region,
	)

	return s3Client, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err == nil {
		c.logger.Debug("bucket exists", "bucket", c.config.Bucket)
		return nil
	}

	c.logger.Info("creating bucket", "bucket", c.config.Bucket)
	_, err = c.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// Upload uploads data to S3.
func (c *S3Client) Upload(ctx context.Context, key string, data []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	c.logger.Debug("uploaded to S3",
		"key", key,
		"size_bytes", len(data),
	)

	return nil
}

// SegmentKey returns the object key for a published segment.
func (c *S3Client) SegmentKey(finalName string) string {
	return path.Join(c.config.Prefix, finalName)
}

// HealthCheck performs a health check on the S3 connection.
func (c *S3Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}

	return nil
}

// S3Backend publishes committed segments as S3 objects. PutObject is
// atomic, which gives the same all-or-nothing visibility as a local
// rename; the object key is deterministic, so replaying a publish after a
// crash overwrites the same key with the same content.
type S3Backend struct {
	client *S3Client
	logger *slog.Logger
}

// NewS3Backend creates a backend publishing through the given client.
func NewS3Backend(client *S3Client, logger *slog.Logger) *S3Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Backend{client: client, logger: logger.With("component", "s3-backend")}
}

// Publish uploads the prepared temp file to the segment's object key and
// removes the temp file. Removal happens after the upload; a crash in
// between leaves the temp file behind for Recover to replay.
func (b *S3Backend) Publish(ctx context.Context, tempPath, finalName string) error {
	data, err := os.ReadFile(tempPath)
	if err != nil {
		return fmt.Errorf("read prepared segment: %w", err)
	}
	if err := b.client.Upload(ctx, b.client.SegmentKey(finalName), data); err != nil {
		return err
	}
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove prepared segment: %w", err)
	}
	return nil
}

// Recover replays the publish if the temp file is still present. A missing
// temp file means the previous publish completed through removal.
func (b *S3Backend) Recover(ctx context.Context, tempPath, finalName string) error {
	if _, err := os.Stat(tempPath); err != nil {
		return nil
	}
	b.logger.Info("rolling forward committed segment", "name", finalName)
	return b.Publish(ctx, tempPath, finalName)
}
