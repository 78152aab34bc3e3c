package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusStore keeps task statuses in Redis under task_status:<id>.
type StatusStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewStatusStore(client redis.UniversalClient, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusStore{client: client, ttl: ttl}
}

func statusKey(taskID string) string {
	return fmt.Sprintf("task_status:%s", taskID)
}

func (s *StatusStore) Save(ctx context.Context, status *TaskStatus) error {
	if status == nil || status.TaskID == "" {
		return fmt.Errorf("task status requires a task id")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.client.Set(ctx, statusKey(status.TaskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (s *StatusStore) Load(ctx context.Context, taskID string) (*TaskStatus, error) {
	data, err := s.client.Get(ctx, statusKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var status TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}
