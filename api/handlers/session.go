package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/internal/auth"
	"github.com/feichai0017/media-toolkit/internal/intake"
	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/preview"
	"github.com/feichai0017/media-toolkit/internal/service/toolkit"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

type SessionHandler struct {
	service     toolkit.Toolkit
	maxFileSize int64
	logger      logger.Logger
}

type CreateSessionRequest struct {
	Tool string `json:"tool" binding:"required"`
}

type SetActiveRequest struct {
	ArtifactID string `json:"artifactId"`
}

type MoveRequest struct {
	From *int `json:"from" binding:"required"`
	To   *int `json:"to" binding:"required"`
}

func NewSessionHandler(service toolkit.Toolkit, maxFileSize int64, log logger.Logger) *SessionHandler {
	return &SessionHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      log,
	}
}

// Create 创建会话
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, "Invalid request body", badRequest(err))
		return
	}

	owner := ""
	if id, ok := auth.FromGin(c); ok {
		owner = id.UserID
	}
	snap, err := h.service.CreateSession(c.Request.Context(), req.Tool, owner)
	if err != nil {
		handleError(c, h.logger, "Failed to create session", err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *SessionHandler) Get(c *gin.Context) {
	snap, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to get session", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, "Failed to delete session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddFiles 上传文件
func (h *SessionHandler) AddFiles(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		handleError(c, h.logger, "Invalid form data", badRequest(err))
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		handleError(c, h.logger, "No files provided", toolkit.ErrNoFiles)
		return
	}

	files, err := intake.ReadMultipart(headers, h.maxFileSize)
	if err != nil {
		handleError(c, h.logger, "Failed to read files", badRequest(err))
		return
	}

	res, err := h.service.AddFiles(c.Request.Context(), c.Param("id"), files)
	if err != nil {
		handleError(c, h.logger, "Failed to add files", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SessionHandler) RemoveFile(c *gin.Context) {
	snap, err := h.service.RemoveFile(c.Request.Context(), c.Param("id"), c.Param("artifactId"))
	if err != nil {
		handleError(c, h.logger, "Failed to remove file", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) UpdateFileState(c *gin.Context) {
	var state models.ArtifactState
	if err := c.ShouldBindJSON(&state); err != nil {
		handleError(c, h.logger, "Invalid request body", badRequest(err))
		return
	}
	snap, err := h.service.UpdateFileState(c.Request.Context(), c.Param("id"), c.Param("artifactId"), state)
	if err != nil {
		handleError(c, h.logger, "Failed to update file state", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) ProcessFile(c *gin.Context) {
	a, err := h.service.ProcessFile(c.Request.Context(), c.Param("id"), c.Param("artifactId"))
	if err != nil {
		handleError(c, h.logger, "Failed to process file", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *SessionHandler) SetActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, "Invalid request body", badRequest(err))
		return
	}
	snap, err := h.service.SetActive(c.Request.Context(), c.Param("id"), req.ArtifactID)
	if err != nil {
		handleError(c, h.logger, "Failed to set active file", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// UpdateSettings decodes the body over the current settings, so a request
// only needs the fields it changes.
func (h *SessionHandler) UpdateSettings(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.service.GetSession(ctx, c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to get session", err)
		return
	}
	settings := snap.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		handleError(c, h.logger, "Invalid request body", badRequest(err))
		return
	}
	snap, err = h.service.UpdateSettings(ctx, c.Param("id"), settings)
	if err != nil {
		handleError(c, h.logger, "Failed to update settings", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) Move(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, "Invalid request body", badRequest(err))
		return
	}
	snap, err := h.service.MoveFile(c.Request.Context(), c.Param("id"), *req.From, *req.To)
	if err != nil {
		handleError(c, h.logger, "Failed to move file", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Process 处理全部文件
func (h *SessionHandler) Process(c *gin.Context) {
	report, err := h.service.Process(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to process files", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *SessionHandler) Reset(c *gin.Context) {
	snap, err := h.service.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to reset session", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Download packages the results and returns the download view path.
func (h *SessionHandler) Download(c *gin.Context) {
	info, err := h.service.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to prepare download", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// OffloadMerge 异步合并
func (h *SessionHandler) OffloadMerge(c *gin.Context) {
	task, err := h.service.OffloadMerge(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to queue merge", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"taskId":    task.ID,
		"status":    string(task.Status),
		"metadata":  task.Metadata,
		"createdAt": task.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *SessionHandler) Preview(c *gin.Context) {
	ref := c.Param("ref")
	if !preview.Valid(ref) {
		handleError(c, h.logger, "Invalid preview reference", badRequest(errors.New(ref)))
		return
	}
	data, mimeType, err := h.service.OpenPreview(c.Request.Context(), c.Param("id"), preview.Ref(ref))
	if err != nil {
		handleError(c, h.logger, "Preview not available", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mimeType, data)
}
