package middleware

import (
	"duetrec/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens a server span per request and echoes its trace id
// in X-Trace-Id when tracing is enabled.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		if id := c.Param("id"); id != "" {
			span.SetAttributes(attribute.String("duet.id", id))
		}
		if traceID := tracing.TraceID(ctx); traceID != "" {
			c.Header("X-Trace-Id", traceID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
