package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/api/handlers"
	"github.com/feichai0017/media-toolkit/api/routes"
	"github.com/feichai0017/media-toolkit/config"
	"github.com/feichai0017/media-toolkit/internal/app"
	"github.com/feichai0017/media-toolkit/internal/auth"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(logger.WithConfig(cfg.Log))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init toolkit service
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build toolkit service", logger.Error(err))
	}
	defer a.Close()
	a.Run(ctx)

	// init handlers
	h := handlers.NewHandlers(a.Service, a.Profiles, handlers.Config{MaxFileSize: cfg.Limits.MaxFileSize}, log)
	authn := auth.NewStaticAuthenticator(cfg.Auth.Tokens)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = cfg.Limits.MaxFileSize
	routes.SetupRoutes(r, h, authn, log, cfg.Server.AllowedOrigins...)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// start server
	go func() {
		log.Info("Server starting",
			logger.String("addr", cfg.Server.Addr),
			logger.String("storage", cfg.Storage.Type),
			logger.String("queue", cfg.Queue.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	cancel()
}
