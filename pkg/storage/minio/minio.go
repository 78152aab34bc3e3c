package minio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	cfg "github.com/feichai0017/media-toolkit/config"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// MinioStorage is the self-hosted alternative to S3Storage.
type MinioStorage struct {
	client *minio.Client
	bucket string
	logger logger.Logger
}

// Store implements Storage.Store
func (m *MinioStorage) Store(ctx context.Context, reader io.Reader, key, contentType string) (string, error) {
	if _, err := m.client.PutObject(ctx, m.bucket, key, reader, -1, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		m.logger.Error("Failed to archive object",
			logger.String("bucket", m.bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}
	return key, nil
}

// Get implements Storage.Get. The object is fetched lazily, so a missing key
// surfaces on the first read.
func (m *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return obj, nil
}

// Delete implements Storage.Delete
func (m *MinioStorage) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// CleanupBefore streams expired keys under prefix into a batch removal.
func (m *MinioStorage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// sent and listErr are written before expired is closed, and RemoveObjects
	// drains expired before closing its error channel.
	var (
		sent    int
		listErr error
	)
	expired := make(chan minio.ObjectInfo)
	go func() {
		defer close(expired)
		for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			if !obj.LastModified.Before(threshold) {
				continue
			}
			select {
			case expired <- obj:
				sent++
			case <-ctx.Done():
				return
			}
		}
	}()

	failed := 0
	for rerr := range m.client.RemoveObjects(ctx, m.bucket, expired, minio.RemoveObjectsOptions{}) {
		failed++
		m.logger.Warn("Expired object not deleted",
			logger.String("key", rerr.ObjectName),
			logger.Error(rerr.Err),
		)
	}
	if listErr != nil {
		return sent - failed, fmt.Errorf("failed to list %s: %w", prefix, listErr)
	}
	return sent - failed, nil
}

// NewMinioStorage connects to the server in c and creates the bucket if needed.
func NewMinioStorage(ctx context.Context, c cfg.MinioConfig, log logger.Logger) (*MinioStorage, error) {
	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseSSL,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", c.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Bucket, minio.MakeBucketOptions{Region: c.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", c.Bucket, err)
		}
		log.Info("Created bucket", logger.String("bucket", c.Bucket))
	}

	return &MinioStorage{client: client, bucket: c.Bucket, logger: log.Named("minio")}, nil
}
