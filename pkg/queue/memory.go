package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// MemoryQueue runs tasks in-process on their own goroutine. It serves
// single-node setups without Redis and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	statuses map[string]*TaskStatus
	enqueued map[string]bool
	handlers map[string]Handler
	cancels  map[string]context.CancelFunc
	timeout  time.Duration
	wg       sync.WaitGroup
	logger   logger.Logger
}

func NewMemoryQueue(timeout time.Duration, log logger.Logger) *MemoryQueue {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &MemoryQueue{
		statuses: make(map[string]*TaskStatus),
		enqueued: make(map[string]bool),
		handlers: make(map[string]Handler),
		cancels:  make(map[string]context.CancelFunc),
		timeout:  timeout,
		logger:   log.Named("queue"),
	}
}

// Handle registers h for tasks of taskType.
func (q *MemoryQueue) Handle(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	q.mu.Lock()
	if q.enqueued[task.ID] {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	q.enqueued[task.ID] = true
	if _, ok := q.statuses[task.ID]; !ok {
		q.statuses[task.ID] = &TaskStatus{
			TaskID:    task.ID,
			Type:      task.Type,
			Status:    StatusPending,
			StartedAt: time.Now(),
		}
	}
	h := q.handlers[task.Type]
	if h == nil {
		q.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	q.cancels[task.ID] = cancel
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(ctx, cancel, h, task)
	return nil
}

func (q *MemoryQueue) run(ctx context.Context, cancel context.CancelFunc, h Handler, task *Task) {
	defer q.wg.Done()
	defer cancel()

	err := h(ctx, task)

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancels, task.ID)
	if err == nil {
		return
	}
	q.logger.Error("Task failed",
		logger.String("taskId", task.ID),
		logger.String("type", task.Type),
		logger.Error(err),
	)
	if st := q.statuses[task.ID]; st != nil && !st.Terminal() {
		st.Status = StatusFailed
		st.Error = err.Error()
		st.FinishedAt = time.Now()
	}
}

func (q *MemoryQueue) GetTaskStatus(_ context.Context, taskID string) (*TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	cp := *st
	return &cp, nil
}

func (q *MemoryQueue) CancelTask(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if st.Terminal() {
		return fmt.Errorf("failed to cancel task: task is %s", st.Status)
	}
	if cancel := q.cancels[taskID]; cancel != nil {
		cancel()
	}
	st.Status = StatusCancelled
	st.FinishedAt = time.Now()
	return nil
}

// SaveFinalStatus stores status. A cancelled task keeps its cancelled status.
func (q *MemoryQueue) SaveFinalStatus(_ context.Context, status *TaskStatus) error {
	if status == nil || status.TaskID == "" {
		return fmt.Errorf("task status requires a task id")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.statuses[status.TaskID]; ok && cur.Status == StatusCancelled {
		return nil
	}
	cp := *status
	q.statuses[status.TaskID] = &cp
	return nil
}

// Wait blocks until every running task returned.
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	for _, cancel := range q.cancels {
		cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
