package http

import (
	"context"
	"net/http"
	"time"

	"duetrec/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker *monitoring.HealthChecker
	started time.Time
	timeout time.Duration
}

func NewHealthHandler(checker *monitoring.HealthChecker, started time.Time) *HealthHandler {
	return &HealthHandler{checker: checker, started: started, timeout: 2 * time.Second}
}

func (h *HealthHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// Health is liveness only; it reports the latest background check results
// without running them.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.started).String(),
		"checks":    h.checker.LastResults(),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := h.checker.GetReadinessStatus(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
