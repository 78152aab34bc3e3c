package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/media-toolkit/pkg/logger"
)

func TestMessageFallsBackToGeneric(t *testing.T) {
	assert.Equal(t, "Too many attempts. Please try again later.", Message(CodeTooManyRequests))
	assert.Equal(t, Message(CodeWrongPassword), Message(CodeUserNotFound))
	assert.Equal(t, genericMessage, Message("auth/quota-exceeded"))
}

func TestCodeOfUnwraps(t *testing.T) {
	err := &Error{Code: CodeNetworkRequestFailed, Err: errors.New("dial tcp")}
	wrapped := errors.Join(errors.New("outer"), err)
	assert.Equal(t, CodeNetworkRequestFailed, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator(map[string]string{"t1": "user-1"})

	id, err := a.Authenticate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)

	_, err = a.Authenticate(context.Background(), "")
	assert.Equal(t, CodeMissingToken, CodeOf(err))
	_, err = a.Authenticate(context.Background(), "t2")
	assert.Equal(t, CodeInvalidToken, CodeOf(err))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewStaticAuthenticator(map[string]string{"t1": "user-1"}), logger.NewTestLogger()))
	r.GET("/me", func(c *gin.Context) {
		id, ok := FromGin(c)
		require.True(t, ok)
		c.String(http.StatusOK, id.UserID)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer t1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "auth/missing-token")
	assert.Contains(t, w.Body.String(), "Please sign in to continue.")
}

func TestOptionalMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Optional(NewStaticAuthenticator(map[string]string{"t1": "user-1"}), logger.NewTestLogger()))
	r.GET("/who", func(c *gin.Context) {
		if id, ok := FromGin(c); ok {
			c.String(http.StatusOK, id.UserID)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer t1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer expired")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "auth/invalid-token")
}
