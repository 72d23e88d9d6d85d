package http

import (
	"time"

	"keystack/internal/observability/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// requestLogger attaches a request scoped logger to the request context and
// logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		log := logger.Named("http").With(zap.String("request_id", requestID))
		c.Request = c.Request.WithContext(logger.ToContext(c.Request.Context(), log))

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			logger.Method(c.Request.Method),
			logger.Path(c.Request.URL.Path),
			logger.Status(status),
			logger.Duration(time.Since(start)),
		}
		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
