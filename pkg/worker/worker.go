package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/media-toolkit/pkg/logger"
	"github.com/feichai0017/media-toolkit/pkg/queue"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	Queues        map[string]int
}

// ConfigFrom derives the worker configuration from the queue configuration.
func ConfigFrom(qc *queue.QueueConfig) *Config {
	return &Config{
		RedisAddr:     qc.RedisAddr,
		RedisPassword: qc.RedisPassword,
		RedisDB:       qc.RedisDB,
		Concurrency:   qc.Concurrency,
		Queues:        queue.Queues,
	}
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopOnce sync.Once
	stopChan chan struct{}
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.server.Shutdown()
	})
	return nil
}

// Done is closed once the worker stopped.
func (w *BaseWorker) Done() <-chan struct{} {
	return w.stopChan
}
