package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/internal/profile"
	"github.com/feichai0017/media-toolkit/internal/service/toolkit"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

type Handlers struct {
	Session  *SessionHandler
	Task     *TaskHandler
	Download *DownloadHandler
	Profile  *ProfileHandler
	svc      toolkit.Toolkit
}

type Config struct {
	// MaxFileSize caps how much of each uploaded part is read.
	MaxFileSize int64
}

func NewHandlers(
	svc toolkit.Toolkit,
	profiles profile.Store,
	cfg Config,
	log logger.Logger,
) *Handlers {
	log = log.Named("api")
	return &Handlers{
		Session:  NewSessionHandler(svc, cfg.MaxFileSize, log),
		Task:     NewTaskHandler(svc, log),
		Download: NewDownloadHandler(svc, log),
		Profile:  NewProfileHandler(profiles, svc, log),
		svc:      svc,
	}
}

// Health 健康检查
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Tools lists the tools a session can be opened for.
func (h *Handlers) Tools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.svc.Tools()})
}
