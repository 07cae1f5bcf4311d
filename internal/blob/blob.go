// Package blob stores raw media bytes in S3-compatible object storage and
// mints short-lived presigned GET URLs for them. Metadata rows keep only
// the object keys; bytes never pass through the search path.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/logging"
)

var tracer = otel.Tracer("searchd.blob")

// Store is the object storage surface the rest of the service depends on.
// URLFor must not perform network I/O; presigning is a local signature.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URLFor(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config holds S3 settings. Endpoint and ForcePathStyle support MinIO and
// LocalStack in development.
type Config struct {
	Region         string
	Bucket         string
	Endpoint       string
	ForcePathStyle bool
	URLTTL         time.Duration
}

// S3Store implements Store against AWS S3 or any S3-compatible endpoint.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	cfg      Config
	logger   *logging.Logger
}

// NewS3Store builds the client from the ambient AWS credential chain.
func NewS3Store(ctx context.Context, cfg Config, logger *logging.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: bucket is required")
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("blob: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ObjectKey derives the storage key for a content item. Keys are laid out
// by content hash so re-ingesting identical bytes lands on the same object.
func ObjectKey(contentHash, kind, filename string) string {
	ext := path.Ext(filename)
	return fmt.Sprintf("%s/%s/%s%s", kind, contentHash[:2], contentHash, ext)
}

// Put uploads one object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, span := tracer.Start(ctx, "blob.Put")
	defer span.End()
	span.SetAttributes(attribute.String("key", key), attribute.Int("size", len(data)))

	if key == "" {
		return fmt.Errorf("blob: key cannot be empty")
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("blob: uploading %s: %w", key, err)
	}
	return nil
}

// URLFor returns a presigned GET URL valid for the configured TTL.
// Signing is local, so this is safe on the per-request path.
func (s *S3Store) URLFor(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob: key cannot be empty")
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.cfg.URLTTL))
	if err != nil {
		return "", fmt.Errorf("blob: presigning %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes one object. Missing keys are not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "blob.Delete")
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn(ctx, "blob delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("blob: deleting %s: %w", key, err)
	}
	return nil
}
