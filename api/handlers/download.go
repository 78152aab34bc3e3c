package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/internal/auth"
	"github.com/feichai0017/media-toolkit/internal/service/toolkit"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

type DownloadHandler struct {
	service toolkit.Toolkit
	logger  logger.Logger
}

func NewDownloadHandler(service toolkit.Toolkit, log logger.Logger) *DownloadHandler {
	return &DownloadHandler{service: service, logger: log}
}

// View describes the stashed result; with ?attachment=true it streams the file.
func (h *DownloadHandler) View(c *gin.Context) {
	scope, tool := c.Param("scope"), c.Param("tool")
	user := ""
	if id, ok := auth.FromGin(c); ok {
		user = id.UserID
	}
	ho, err := h.service.LoadHandoff(c.Request.Context(), scope, tool, user)
	if err != nil {
		handleError(c, h.logger, "Nothing to download", err)
		return
	}

	if attach, _ := strconv.ParseBool(c.Query("attachment")); !attach {
		c.JSON(http.StatusOK, gin.H{
			"filename": ho.Filename,
			"size":     ho.Size,
			"mimeType": ho.MimeType,
			"returnTo": ho.ReturnTo,
			"fileUrl":  c.Request.URL.Path + "?attachment=true",
		})
		return
	}

	data, err := ho.Decode()
	if err != nil {
		handleError(c, h.logger, "Stored download is unreadable", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ho.Filename))
	c.Data(http.StatusOK, ho.MimeType, data)
}
