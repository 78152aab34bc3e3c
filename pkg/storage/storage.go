package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/media-toolkit/config"
	"github.com/feichai0017/media-toolkit/pkg/logger"
	"github.com/feichai0017/media-toolkit/pkg/storage/memory"
	"github.com/feichai0017/media-toolkit/pkg/storage/minio"
	"github.com/feichai0017/media-toolkit/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// Key prefixes under which the toolkit writes objects.
const (
	ExportsPrefix = "exports/"
	InputsPrefix  = "inputs/"
)

// Storage is the object store behind export archival and offloaded merges.
type Storage interface {
	// Store 存储对象
	Store(ctx context.Context, reader io.Reader, key, contentType string) (string, error)
	// Get 获取对象
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除对象
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理 prefix 下的过期对象，返回删除数量
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, c config.StorageConfig, log logger.Logger) (Storage, error) {
	switch StorageType(c.Type) {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, c.S3, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, c.Minio, log)
	case StorageTypeMemory:
		return memory.NewStorage(log), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.Type)
	}
}

// ExportKey is where a packaged result of a session is archived.
func ExportKey(sessionID, filename string) string {
	return ExportsPrefix + sessionID + "/" + filename
}

// InputKey is where an offloaded task keeps its ordered inputs.
func InputKey(taskID string, index int, filename string) string {
	return fmt.Sprintf("%s%s/%03d-%s", InputsPrefix, taskID, index, filename)
}
