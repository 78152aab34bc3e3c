package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/api/handlers"
	"github.com/feichai0017/media-toolkit/api/middleware"
	"github.com/feichai0017/media-toolkit/internal/auth"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, authn auth.Authenticator, log logger.Logger, origins ...string) {
	// 全局中间件
	r.Use(middleware.RequestLogger(log), middleware.CORS(origins...))

	authMW := auth.Middleware(authn, log)
	// 会话可匿名使用, 登录后归属该用户
	identify := auth.Optional(authn, log)

	// API 版本组
	v1 := r.Group("/api/v1")

	// 健康检查
	v1.GET("/health", h.Health)
	v1.GET("/tools", h.Tools)

	// 会话路由组
	sessions := v1.Group("/sessions", identify)
	{
		sessions.POST("", h.Session.Create)
		sessions.GET("/:id", h.Session.Get)
		sessions.DELETE("/:id", h.Session.Delete)
		sessions.POST("/:id/files", h.Session.AddFiles)
		sessions.DELETE("/:id/files/:artifactId", h.Session.RemoveFile)
		sessions.PUT("/:id/files/:artifactId/state", h.Session.UpdateFileState)
		sessions.POST("/:id/files/:artifactId/process", h.Session.ProcessFile)
		sessions.PUT("/:id/active", h.Session.SetActive)
		sessions.PUT("/:id/settings", h.Session.UpdateSettings)
		sessions.PUT("/:id/order", h.Session.Move)
		sessions.POST("/:id/process", h.Session.Process)
		sessions.POST("/:id/reset", h.Session.Reset)
		sessions.POST("/:id/download", h.Session.Download)
		sessions.POST("/:id/merge/async", h.Session.OffloadMerge)
		sessions.GET("/:id/previews/:ref", h.Session.Preview)
	}

	tasks := v1.Group("/tasks")
	{
		tasks.GET("/:taskId", h.Task.GetStatus)
		tasks.DELETE("/:taskId", h.Task.CancelTask)
	}

	v1.GET("/download/:scope/:tool", identify, h.Download.View)

	// 用户资料, 需要认证
	prof := v1.Group("/profile", authMW)
	{
		prof.GET("", h.Profile.Get)
		prof.PATCH("", h.Profile.Update)
		prof.DELETE("", h.Profile.Delete)
		prof.PUT("/favorites/:tool", h.Profile.AddFavorite)
		prof.DELETE("/favorites/:tool", h.Profile.RemoveFavorite)
	}
}
