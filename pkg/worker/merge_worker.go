package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/media-toolkit/pkg/logger"
	"github.com/feichai0017/media-toolkit/pkg/queue"
)

// MergeHandler merges the documents of one offloaded task.
type MergeHandler interface {
	HandleMerge(ctx context.Context, task *queue.Task) error
}

type MergeWorker struct {
	BaseWorker
	handler MergeHandler
}

func NewMergeWorker(cfg *Config, handler MergeHandler, log logger.Logger) (*MergeWorker, error) {
	if handler == nil {
		return nil, fmt.Errorf("merge worker requires a handler")
	}
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &MergeWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log.Named("worker"),
			stopChan: make(chan struct{}),
		},
		handler: handler,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w, nil
}

func (w *MergeWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypePDFMerge, w.handleMerge)
}

// decodeTask unwraps the queue task carried by an asynq task.
func decodeTask(t *asynq.Task) (*queue.Task, error) {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if task.ID == "" || len(task.Payload) == 0 {
		return nil, fmt.Errorf("invalid task data: missing required fields")
	}
	return &task, nil
}

func (w *MergeWorker) handleMerge(ctx context.Context, t *asynq.Task) error {
	task, err := decodeTask(t)
	if err != nil {
		w.logger.Error("Failed to decode task",
			logger.Error(err),
			logger.Int("payloadSize", len(t.Payload())),
		)
		// a malformed payload never succeeds on retry
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	w.logger.Info("Processing merge task",
		logger.String("taskId", task.ID),
		logger.Any("metadata", task.Metadata),
	)

	w.writeResult(t, `{"status":"running","progress":0}`)

	if err := w.handler.HandleMerge(ctx, task); err != nil {
		w.writeResult(t, fmt.Sprintf(`{"status":"failed","error":%q}`, err.Error()))
		return err
	}

	w.writeResult(t, `{"status":"completed","progress":100}`)
	return nil
}

// writeResult records progress on the asynq task; tasks built outside a
// server have no result writer.
func (w *MergeWorker) writeResult(t *asynq.Task, body string) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	if _, err := rw.Write([]byte(body)); err != nil {
		w.logger.Error("Failed to write task result", logger.Error(err))
	}
}

func (w *MergeWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()

	return nil
}
