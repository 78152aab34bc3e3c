// Package auth verifies bearer tokens against an external identity provider
// and maps its error codes to user-facing messages.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// Code is a provider error code.
type Code string

const (
	CodeInvalidToken         Code = "auth/invalid-token"
	CodeMissingToken         Code = "auth/missing-token"
	CodeWrongPassword        Code = "auth/wrong-password"
	CodeUserNotFound         Code = "auth/user-not-found"
	CodeRequiresRecentLogin  Code = "auth/requires-recent-login"
	CodeTooManyRequests      Code = "auth/too-many-requests"
	CodeNetworkRequestFailed Code = "auth/network-request-failed"
	CodeUserDisabled         Code = "auth/user-disabled"
)

var messages = map[Code]string{
	CodeInvalidToken:         "Your session has expired. Please sign in again.",
	CodeMissingToken:         "Please sign in to continue.",
	CodeWrongPassword:        "Incorrect email or password.",
	CodeUserNotFound:         "Incorrect email or password.",
	CodeRequiresRecentLogin:  "Please sign in again to complete this action.",
	CodeTooManyRequests:      "Too many attempts. Please try again later.",
	CodeNetworkRequestFailed: "Network error. Check your connection and try again.",
	CodeUserDisabled:         "This account has been disabled.",
}

const genericMessage = "Something went wrong. Please try again."

// Message returns the user-facing text for code, or a generic fallback.
func Message(code Code) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return genericMessage
}

// Error is a typed provider failure. Nothing retries it automatically.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the provider code from err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Identity is the authenticated user.
type Identity struct {
	UserID string
}

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// StaticAuthenticator accepts a fixed token table, for development setups.
type StaticAuthenticator struct {
	tokens map[string]string
}

func NewStaticAuthenticator(tokens map[string]string) *StaticAuthenticator {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticAuthenticator{tokens: cp}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, &Error{Code: CodeMissingToken}
	}
	for known, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return &Identity{UserID: user}, nil
		}
	}
	return nil, &Error{Code: CodeInvalidToken}
}

const identityKey = "auth.identity"

// Middleware rejects requests without a valid bearer token and stores the
// identity for handlers.
func Middleware(a Authenticator, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		id, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			code := CodeOf(err)
			log.Warn("Authentication failed",
				logger.String("path", c.Request.URL.Path),
				logger.String("code", string(code)),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   string(code),
				"message": Message(code),
			})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// Optional attaches the identity when a bearer token is sent and lets
// anonymous requests through. A token that fails verification is still
// rejected so an expired sign-in is reported instead of silently dropped.
func Optional(a Authenticator, log logger.Logger) gin.HandlerFunc {
	required := Middleware(a, log)
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader("Authorization")) == "" {
			c.Next()
			return
		}
		required(c)
	}
}

// FromGin returns the identity stored by Middleware.
func FromGin(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}
