package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/garnizeh/fieldops/internal/config"
)

var ErrNotConfigured = errors.New("evidence storage is not configured")

// Store keeps captured evidence payloads (photos, signatures) out of the
// sync request body.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
}

// ObjectKey is the storage key for one piece of evidence.
func ObjectKey(workOrderID, itemID, evidenceID string) string {
	return path.Join("work-orders", workOrderID, itemID, evidenceID)
}

// MinIOStore stores evidence in an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ Store = (*MinIOStore)(nil)

// NewMinIOStore connects to the configured bucket. It returns
// ErrNotConfigured when no endpoint is set.
func NewMinIOStore(cfg config.StorageConfig, logger *slog.Logger) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Bucket == "" {
		return nil, errors.New("evidence storage bucket is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("evidence bucket created", slog.String("bucket", s.bucket))
	return nil
}

func (s *MinIOStore) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload evidence %s: %w", key, err)
	}
	s.logger.Debug("evidence uploaded",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int64("size", info.Size))
	return key, nil
}
