package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bank-reconciliation-backend/internal/logger"
	service "bank-reconciliation-backend/internal/services/reconciliation"
)

const (
	RequestIDHeader = "X-Request-ID"
	UserIDHeader    = "X-User-ID"
)

// RequestLogger attaches a request-scoped logger to the request context and
// logs every completed request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		reqLog := log.With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))

		c.Next()

		reqLog.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("remote_addr", c.ClientIP()).
			Msg("HTTP request")
	}
}

// Actor records the calling user for the audit log.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := c.GetHeader(UserIDHeader); user != "" {
			c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), user))
		}
		c.Next()
	}
}
