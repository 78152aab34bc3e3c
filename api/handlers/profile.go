package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/internal/auth"
	"github.com/feichai0017/media-toolkit/internal/profile"
	"github.com/feichai0017/media-toolkit/internal/service/toolkit"
	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// ProfileHandler serves the signed-in user's profile document. Every route
// sits behind auth.Middleware.
type ProfileHandler struct {
	store   profile.Store
	service toolkit.Toolkit
	logger  logger.Logger
}

func NewProfileHandler(store profile.Store, service toolkit.Toolkit, log logger.Logger) *ProfileHandler {
	return &ProfileHandler{store: store, service: service, logger: log}
}

func (h *ProfileHandler) user(c *gin.Context) (string, bool) {
	id, ok := auth.FromGin(c)
	if !ok || id.UserID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   string(auth.CodeMissingToken),
			Message: auth.Message(auth.CodeMissingToken),
		})
		return "", false
	}
	return id.UserID, true
}

func (h *ProfileHandler) Get(c *gin.Context) {
	uid, ok := h.user(c)
	if !ok {
		return
	}
	doc, err := h.store.Get(c.Request.Context(), uid)
	if err != nil {
		handleError(c, h.logger, "Failed to get profile", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *ProfileHandler) Update(c *gin.Context) {
	uid, ok := h.user(c)
	if !ok {
		return
	}
	var fields map[string]string
	if err := c.ShouldBindJSON(&fields); err != nil {
		handleError(c, h.logger, "Invalid request body", badRequest(err))
		return
	}
	doc, err := h.store.Update(c.Request.Context(), uid, fields)
	if err != nil {
		handleError(c, h.logger, "Failed to update profile", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *ProfileHandler) Delete(c *gin.Context) {
	uid, ok := h.user(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), uid); err != nil {
		handleError(c, h.logger, "Failed to delete profile", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProfileHandler) knownTool(name string) bool {
	for _, spec := range h.service.Tools() {
		if string(spec.Name) == name {
			return true
		}
	}
	return false
}

func (h *ProfileHandler) AddFavorite(c *gin.Context) {
	h.updateFavorite(c, h.store.AddFavorite)
}

func (h *ProfileHandler) RemoveFavorite(c *gin.Context) {
	h.updateFavorite(c, h.store.RemoveFavorite)
}

func (h *ProfileHandler) updateFavorite(c *gin.Context, apply func(ctx context.Context, userID, tool string) error) {
	uid, ok := h.user(c)
	if !ok {
		return
	}
	tool := c.Param("tool")
	if !h.knownTool(tool) {
		handleError(c, h.logger, "Unknown tool", fmt.Errorf("%w: %s", tools.ErrUnknownTool, tool))
		return
	}

	ctx := c.Request.Context()
	if err := apply(ctx, uid, tool); err != nil {
		handleError(c, h.logger, "Failed to update favorites", err)
		return
	}
	doc, err := h.store.Get(ctx, uid)
	if errors.Is(err, profile.ErrNotFound) {
		// removing the last favorite of a profile without fields empties it
		doc, err = &profile.Document{UserID: uid, Favorites: []string{}}, nil
	}
	if err != nil {
		handleError(c, h.logger, "Failed to get profile", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
