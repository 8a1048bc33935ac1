package middleware

import (
	"time"

	"duetrec/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

// RequestLogMiddleware tags each request with a request id (kept from the
// client when supplied) and the duet id from the route, then logs it.
func RequestLogMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		if id := c.Param("id"); id != "" {
			ctx = logger.WithDuetID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		cl.LogRequest(c.Request.Context(), c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
