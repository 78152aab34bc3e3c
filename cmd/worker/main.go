package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/media-toolkit/config"
	"github.com/feichai0017/media-toolkit/internal/app"
	"github.com/feichai0017/media-toolkit/pkg/logger"
	"github.com/feichai0017/media-toolkit/pkg/queue"
	"github.com/feichai0017/media-toolkit/pkg/worker"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(logger.WithConfig(cfg.Log))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Queue.Backend != "asynq" {
		log.Error("Worker requires the asynq queue backend", logger.String("backend", cfg.Queue.Backend))
		os.Exit(1)
	}

	// 创建上下文和取消函数
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建工具服务
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build toolkit service", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	// 创建 worker
	mergeWorker, err := worker.NewMergeWorker(worker.ConfigFrom(queue.ConfigFrom(cfg.Redis, cfg.Queue)), a.Service, log)
	if err != nil {
		log.Error("Failed to create merge worker", logger.Error(err))
		os.Exit(1)
	}

	// 启动 worker
	if err := mergeWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.Int("concurrency", cfg.Queue.Concurrency))

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", logger.String("signal", sig.String()))
	case <-mergeWorker.Done():
		log.Info("Worker stopped")
	}

	// 优雅关闭
	cancel()
	if err := mergeWorker.Stop(); err != nil {
		log.Error("Failed to stop worker", logger.Error(err))
	}
	log.Info("Worker shutdown complete")
}
