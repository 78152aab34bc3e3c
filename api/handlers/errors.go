package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/internal/handoff"
	"github.com/feichai0017/media-toolkit/internal/pdfops"
	"github.com/feichai0017/media-toolkit/internal/profile"
	"github.com/feichai0017/media-toolkit/internal/service/toolkit"
	"github.com/feichai0017/media-toolkit/internal/session"
	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/internal/transform"
	"github.com/feichai0017/media-toolkit/pkg/logger"
	"github.com/feichai0017/media-toolkit/pkg/queue"
)

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errBadRequest = errors.New("bad request")

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, handoff.ErrNotFound),
		errors.Is(err, queue.ErrTaskNotFound),
		errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, tools.ErrCombineOnly),
		errors.Is(err, session.ErrInvalidIndex),
		errors.Is(err, transform.ErrInvalidParams),
		errors.Is(err, pdfops.ErrBadRequest),
		errors.Is(err, pdfops.ErrPageRange),
		errors.Is(err, profile.ErrInvalidField),
		errors.Is(err, toolkit.ErrUnsupported),
		errors.Is(err, toolkit.ErrNoFiles):
		return http.StatusBadRequest
	case errors.Is(err, handoff.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, toolkit.ErrTooManyFiles):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, transform.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrStale),
		errors.Is(err, queue.ErrDuplicateTask):
		return http.StatusConflict
	case errors.Is(err, session.ErrDisposed):
		return http.StatusGone
	case errors.Is(err, toolkit.ErrOffloadUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := statusFor(err)
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.AbortWithStatusJSON(status, response)
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", errBadRequest, err)
}
