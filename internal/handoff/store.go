// Package handoff passes a packaged result from a tool session to the shared
// download view through a string key/value store.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound  = errors.New("handoff not found")
	ErrForbidden = errors.New("handoff belongs to another user")
)

// Store is a string hash store keyed by handoff key.
type Store interface {
	// Replace deletes everything under key, then writes fields, atomically.
	Replace(ctx context.Context, key string, fields map[string]string) error
	Load(ctx context.Context, key string) (map[string]string, error)
	Clear(ctx context.Context, key string) error
}

// RedisStore keeps each handoff in one Redis hash.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Replace(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write handoff %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read handoff %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear handoff %s: %w", key, err)
	}
	return nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

func (s *MemoryStore) Replace(_ context.Context, key string, fields map[string]string) error {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cp) == 0 {
		delete(s.data, key)
		return nil
	}
	s.data[key] = cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp, nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
