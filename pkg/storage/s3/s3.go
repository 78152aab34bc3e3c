package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cfg "github.com/feichai0017/media-toolkit/config"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// maxDeleteBatch is the DeleteObjects limit per request.
const maxDeleteBatch = 1000

// S3Storage archives packaged downloads and offloaded task inputs in one bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	logger logger.Logger
}

// Store 实现 Storage 接口的 Store 方法
func (s *S3Storage) Store(ctx context.Context, reader io.Reader, key, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               reader,
		ContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)})),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.Error("Failed to archive object",
			logger.String("bucket", s.bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}
	return key, nil
}

// Get 实现 Storage 接口的 Get 方法
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete 实现 Storage 接口的 Delete 方法
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// CleanupBefore deletes objects under prefix last modified before threshold,
// one DeleteObjects request per listed page.
func (s *S3Storage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxDeleteBatch),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list %s: %w", prefix, err)
		}

		var expired []types.ObjectIdentifier
		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(threshold) {
				expired = append(expired, types.ObjectIdentifier{Key: obj.Key})
			}
		}
		if len(expired) == 0 {
			continue
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: expired, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete expired objects under %s: %w", prefix, err)
		}
		for _, e := range out.Errors {
			s.logger.Warn("Expired object not deleted",
				logger.String("key", aws.ToString(e.Key)),
				logger.String("code", aws.ToString(e.Code)),
			)
		}
		deleted += len(expired) - len(out.Errors)
	}
	return deleted, nil
}

// NewS3Storage connects to the bucket in c and checks that it exists.
func NewS3Storage(ctx context.Context, c cfg.S3Config, log logger.Logger) (*S3Storage, error) {
	log.Info("S3 configuration",
		logger.String("bucket", c.Bucket),
		logger.String("region", c.Region),
		logger.String("endpoint", c.Endpoint),
	)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	// 验证 bucket 是否存在
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to verify bucket %s: %w", c.Bucket, err)
	}

	return &S3Storage{client: client, bucket: c.Bucket, logger: log.Named("s3")}, nil
}
