package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	RecordHTTPRequest(method, route string, status int, d time.Duration)
}

// MetricsMiddleware labels requests by route template so ids do not explode
// label cardinality. Unmatched routes are reported as "unmatched".
func MetricsMiddleware(rec RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rec.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
