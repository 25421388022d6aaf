package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestLogger returns a Gin middleware that writes one structured access-log
// entry per request. Responses outside the 2xx range are logged at error level.
// Requests for favicon.ico are not logged.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()

		if strings.HasSuffix(c.Request.URL.Path, "/favicon.ico") {
			return
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("ip", c.ClientIP()),
			zap.String("user", requestUser(c)),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.RequestURI()),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		}
		status := c.Writer.Status()
		if status < 200 || status > 299 {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

// requestUser extracts an identity for the access log: the Basic username when
// present, "token" for bearer auth, otherwise empty.
func requestUser(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(auth, "Basic "):
		if user, _, ok := c.Request.BasicAuth(); ok {
			return user
		}
	case strings.HasPrefix(auth, "Bearer "):
		return "token"
	}
	return ""
}
