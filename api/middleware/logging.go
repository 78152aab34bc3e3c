package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/media-toolkit/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags every request with an id, carries it in the request
// context and logs the outcome.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))

		c.Next()

		fields := []logger.Field{
			logger.String("request_id", id),
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			log.Error("Request failed", fields...)
			return
		}
		log.Debug("Request served", fields...)
	}
}
