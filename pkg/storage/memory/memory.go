// Package memory is an in-process object store for development and tests.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/media-toolkit/pkg/logger"
)

var ErrNotFound = errors.New("object not found")

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]object
	logger  logger.Logger
	now     func() time.Time
}

func NewStorage(log logger.Logger) *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]object),
		logger:  log,
		now:     time.Now,
	}
}

// Store implements Storage.Store
func (m *MemoryStorage) Store(_ context.Context, reader io.Reader, key, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	m.mu.Lock()
	m.objects[key] = object{data: data, contentType: contentType, modified: m.now()}
	m.mu.Unlock()
	return key, nil
}

// Get implements Storage.Get
func (m *MemoryStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("failed to get file: %w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete implements Storage.Delete
func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("failed to delete file: %w: %s", ErrNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

// CleanupBefore implements Storage.CleanupBefore
func (m *MemoryStorage) CleanupBefore(_ context.Context, prefix string, threshold time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) && obj.modified.Before(threshold) {
			delete(m.objects, key)
			deleted++
			m.logger.Debug("Deleted expired object",
				logger.String("key", key),
				logger.Time("lastModified", obj.modified),
			)
		}
	}
	return deleted, nil
}

// Keys lists the stored keys with the prefix.
func (m *MemoryStorage) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ContentType returns the content type recorded for key.
func (m *MemoryStorage) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}
