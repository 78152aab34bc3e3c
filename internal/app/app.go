// Package app assembles the toolkit service from configuration. The API server
// and the merge worker build the same graph; only the queue side differs.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/media-toolkit/config"
	"github.com/feichai0017/media-toolkit/internal/handoff"
	"github.com/feichai0017/media-toolkit/internal/intake"
	"github.com/feichai0017/media-toolkit/internal/pdfops"
	"github.com/feichai0017/media-toolkit/internal/profile"
	"github.com/feichai0017/media-toolkit/internal/service/toolkit"
	"github.com/feichai0017/media-toolkit/internal/session"
	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/internal/transform"
	"github.com/feichai0017/media-toolkit/internal/utils/validator"
	"github.com/feichai0017/media-toolkit/pkg/logger"
	"github.com/feichai0017/media-toolkit/pkg/queue"
	"github.com/feichai0017/media-toolkit/pkg/storage"
)

// DownloadBase is the route prefix of the download view.
const DownloadBase = "/api/v1/download"

// App holds the wired service and the backends that need closing.
type App struct {
	Config   *config.AppConfig
	Service  *toolkit.ToolkitService
	Sessions *session.Manager
	Profiles profile.Store
	Queue    queue.Queue

	// Memory is set when tasks run in-process.
	Memory *queue.MemoryQueue

	redis   redis.UniversalClient
	browser *transform.BrowserCapturer
	logger  logger.Logger
}

func (a *App) needsRedis() bool {
	c := a.Config
	return c.Handoff.Backend == "redis" || c.Queue.Backend == "asynq"
}

// New builds the service graph. Redis is only dialed when a configured
// backend needs it.
func New(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, logger: log}

	if a.needsRedis() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	store, err := storage.NewStorage(ctx, cfg.Storage, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	var handoffStore handoff.Store = handoff.NewMemoryStore()
	if cfg.Handoff.Backend == "redis" {
		handoffStore = handoff.NewRedisStore(a.redis)
	}
	a.Profiles = profile.NewMemoryStore()
	if a.redis != nil {
		a.Profiles = profile.NewRedisStore(a.redis)
	}

	switch cfg.Queue.Backend {
	case "asynq":
		q, err := queue.NewAsynqQueue(queue.ConfigFrom(cfg.Redis, cfg.Queue), log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = q
	default:
		a.Memory = queue.NewMemoryQueue(cfg.Queue.Timeout, log)
		a.Queue = a.Memory
	}

	factory := tools.NewFactory(tools.FactoryConfig{
		HTMLWidth:       cfg.Render.HTMLWidth,
		HTMLSettleDelay: cfg.Render.HTMLSettleDelay,
	}, a.newCapturer(cfg.Render, log), log)
	a.Sessions = session.NewManager(factory, cfg.Session.TTL, log)

	vcfg := validator.DefaultConfig()
	vcfg.MaxFileSize = cfg.Limits.MaxFileSize
	vcfg.MaxDimension = cfg.Limits.MaxDimension
	in := intake.NewIntake(validator.NewFileValidator(log, &vcfg), pdfops.PageBoxRasterizer{}, cfg.Render.PDFPreviewScale, log)

	a.Service = toolkit.NewService(
		a.Sessions,
		session.NewController(cfg.Limits.MaxConcurrent, log),
		in,
		handoff.NewLayer(handoffStore, DownloadBase, log),
		a.Queue,
		store,
		log,
		&toolkit.ServiceConfig{
			MaxFiles:        cfg.Limits.MaxFiles,
			QueuePriority:   2,
			RetentionPeriod: cfg.Storage.Retention,
			ReturnBase:      "/tools",
		},
	)
	if a.Memory != nil {
		a.Memory.Handle(queue.TaskTypePDFMerge, a.Service.HandleMerge)
	}
	return a, nil
}

// newCapturer starts headless chromium when configured and falls back to the
// built-in text renderer when it is not or when the browser cannot start.
func (a *App) newCapturer(cfg config.RenderConfig, log logger.Logger) transform.Capturer {
	if cfg.Browser != "chromium" {
		return transform.NewHTMLRenderer()
	}
	b, err := transform.NewBrowserCapturer(transform.BrowserOptions{Install: cfg.InstallBrowser})
	if err != nil {
		log.Warn("Headless browser unavailable, using text renderer", logger.Error(err))
		return transform.NewHTMLRenderer()
	}
	log.Info("HTML capture uses headless chromium")
	a.browser = b
	return b
}

// Run starts the session sweeper and the storage cleanup loop. Both stop with ctx.
func (a *App) Run(ctx context.Context) {
	go a.Sessions.Run(ctx, a.Config.Session.SweepInterval)
	go a.Service.RunCleanup(ctx, a.Config.Storage.Retention/4)
}

// Close releases the queue, the sessions and the redis connection.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close queue: %w", err))
		}
	}
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
