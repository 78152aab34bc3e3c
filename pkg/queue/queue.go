// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/media-toolkit/config"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// TaskType 定义任务类型
const (
	TaskTypePDFMerge = "pdf:merge"
)

// 任务状态
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrDuplicateTask = errors.New("task already exists")
)

// queue names, highest priority first
var queueNames = []string{"critical", "default", "low"}

// Queues is the asynq queue weighting shared by the client and the worker.
var Queues = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
}

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
	SaveFinalStatus(ctx context.Context, status *TaskStatus) error
	Close() error
}

// Handler runs one dequeued task.
type Handler func(ctx context.Context, task *Task) error

// Task 定义任务结构
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewTask encodes payload into a task of the given type.
func NewTask(id, taskType string, payload any, metadata map[string]string) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Task{
		ID:        id,
		Type:      taskType,
		Priority:  2,
		Payload:   data,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}, nil
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("task %s has no payload", t.ID)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

// MergeInput is one stored document of an offloaded merge, in merge order.
type MergeInput struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// MergePayload describes an offloaded PDF merge.
type MergePayload struct {
	SessionID  string       `json:"sessionId"`
	Scope      string       `json:"scope"`
	Tool       string       `json:"tool"`
	Inputs     []MergeInput `json:"inputs"`
	OutputName string       `json:"outputName"`
	ReturnTo   string       `json:"returnTo,omitempty"`
}

// TaskStatus 定义任务状态
type TaskStatus struct {
	TaskID     string            `json:"taskId"`
	Type       string            `json:"type,omitempty"`
	Status     string            `json:"status"`
	Progress   float64           `json:"progress"`
	Error      string            `json:"error,omitempty"`
	Result     string            `json:"result,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt,omitempty"`
}

// Terminal reports whether the status can no longer change.
func (s *TaskStatus) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MaxRetries     int
	RetryDelay     time.Duration
	ProcessTimeout time.Duration
	StatusTTL      time.Duration
	Concurrency    int
}

// ConfigFrom builds the queue configuration from the application config.
func ConfigFrom(rc config.RedisConfig, qc config.QueueConfig) *QueueConfig {
	return &QueueConfig{
		RedisAddr:      rc.Addr,
		RedisPassword:  rc.Password,
		RedisDB:        rc.DB,
		MaxRetries:     qc.MaxRetries,
		RetryDelay:     time.Minute,
		ProcessTimeout: qc.Timeout,
		StatusTTL:      qc.StatusTTL,
		Concurrency:    qc.Concurrency,
	}
}

// RedisOpt is the asynq connection option for this configuration.
func (c *QueueConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// AsynqQueue 实现
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	statuses  *StatusStore
	cfg       *QueueConfig
	logger    logger.Logger
}

// GetQueue 获取队列实例
func GetQueue(log logger.Logger) (*AsynqQueue, error) {
	rc := config.GetRedisConfig()
	return NewAsynqQueue(&QueueConfig{
		RedisAddr:      rc.Addr,
		RedisPassword:  rc.Password,
		RedisDB:        rc.DB,
		MaxRetries:     3,
		RetryDelay:     1 * time.Minute,
		ProcessTimeout: 10 * time.Minute,
		StatusTTL:      24 * time.Hour,
		Concurrency:    5,
	}, log)
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *QueueConfig, log logger.Logger) (*AsynqQueue, error) {
	redisOpt := cfg.RedisOpt()

	// 创建 Redis 客户端
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis:     redisClient,
		statuses:  NewStatusStore(redisClient, cfg.StatusTTL),
		cfg:       cfg,
		logger:    log.Named("queue"),
	}, nil
}

func queueFor(priority int) string {
	switch priority {
	case 1:
		return "critical"
	case 2:
		return "default"
	default:
		return "low"
	}
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	// 序列化整个任务
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	// 设置任务选项
	opts := []asynq.Option{
		asynq.MaxRetry(q.cfg.MaxRetries),
		asynq.Timeout(q.cfg.ProcessTimeout),
		asynq.Queue(queueFor(task.Priority)),
	}
	if task.ID != "" {
		opts = append(opts, asynq.TaskID(task.ID))
	}

	t := asynq.NewTask(task.Type, payload, opts...)
	info, err := q.client.EnqueueContext(ctx, t)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	// 记录任务ID
	task.ID = info.ID
	q.logger.Debug("Task enqueued",
		logger.String("taskId", info.ID),
		logger.String("type", task.Type),
		logger.String("queue", info.Queue),
	)
	return nil
}

// GetTaskStatus 获取任务状态
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	// 首先尝试从 Redis 获取状态
	status, err := q.statuses.Load(ctx, taskID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}

	// 如果 Redis 中没有，从所有队列中查找
	var info *asynq.TaskInfo
	for _, name := range queueNames {
		info, err = q.inspector.GetTaskInfo(name, taskID)
		if err == nil {
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	status = convertAsynqStatus(info)
	if err := q.SaveFinalStatus(ctx, status); err != nil {
		q.logger.Warn("Failed to cache task status",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
	}
	return status, nil
}

// CancelTask 取消任务
func (q *AsynqQueue) CancelTask(ctx context.Context, taskID string) error {
	cancelled := false
	for _, name := range queueNames {
		if err := q.inspector.DeleteTask(name, taskID); err == nil {
			cancelled = true
			break
		}
	}
	if !cancelled {
		// the task may already be running
		if err := q.inspector.CancelProcessing(taskID); err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
	}

	return q.SaveFinalStatus(ctx, &TaskStatus{
		TaskID:     taskID,
		Status:     StatusCancelled,
		FinishedAt: time.Now(),
	})
}

// SaveFinalStatus 保存最终任务状态
func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
	return q.statuses.Save(ctx, status)
}

func (q *AsynqQueue) Close() error {
	var errs []error
	errs = append(errs, q.client.Close(), q.inspector.Close(), q.redis.Close())
	return errors.Join(errs...)
}

// convertAsynqStatus 将 asynq 状态转换为 TaskStatus
func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		Type:      info.Type,
		StartedAt: info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateAggregating:
		status.Status = StatusPending
	case asynq.TaskStateActive:
		status.Status = StatusRunning
		status.Progress = 0.5
	case asynq.TaskStateCompleted:
		status.Status = StatusCompleted
		status.Progress = 1.0
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateRetry:
		status.Status = StatusPending
		status.Error = info.LastErr
	case asynq.TaskStateArchived:
		status.Status = StatusFailed
		status.Error = info.LastErr
		status.FinishedAt = info.LastFailedAt
	}

	return status
}
