package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/internal/service/toolkit"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

type TaskHandler struct {
	service toolkit.Toolkit
	logger  logger.Logger
}

func NewTaskHandler(service toolkit.Toolkit, log logger.Logger) *TaskHandler {
	return &TaskHandler{service: service, logger: log}
}

// GetStatus 获取处理状态
func (h *TaskHandler) GetStatus(c *gin.Context) {
	task, err := h.service.GetTaskStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get status", err)
		return
	}

	resp := gin.H{
		"taskId":    task.ID,
		"status":    string(task.Status),
		"progress":  task.Progress,
		"error":     task.Error,
		"metadata":  task.Metadata,
		"createdAt": task.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if !task.UpdatedAt.IsZero() {
		resp["updatedAt"] = task.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if task.Result != "" {
		resp["downloadUrl"] = task.Result
	}
	c.JSON(http.StatusOK, resp)
}

// CancelTask 取消处理任务
func (h *TaskHandler) CancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.service.CancelTask(c.Request.Context(), taskID); err != nil {
		handleError(c, h.logger, "Failed to cancel task", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Task cancelled successfully",
		"taskId":  taskID,
	})
}
