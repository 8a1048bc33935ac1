package monitoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const healthLookupID domain.PublishedID = "health-lookup"

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck looks up a sentinel id; not found means the backend answered.
func (h *HealthChecker) AddRepositoryCheck(repo ports.DuetRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) (bool, error) {
		_, err := repo.GetByID(ctx, healthLookupID)
		if err != nil && !errors.Is(err, domain.ErrDuetNotFound) {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddDirectoryCheck verifies that dir exists and is writable.
func (h *HealthChecker) AddDirectoryCheck(name, dir string, interval, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return false, fmt.Errorf("directory not writable: %w", err)
		}
		f.Close()
		return true, os.Remove(f.Name())
	}, interval, timeout)
}

// AddCapacityCheck fails once open duets reach max.
func (h *HealthChecker) AddCapacityCheck(open func() int, max int, interval, timeout time.Duration) {
	h.AddCheck("capacity", func(ctx context.Context) (bool, error) {
		if max > 0 && open() >= max {
			return false, fmt.Errorf("%d of %d duets open", open(), max)
		}
		return true, nil
	}, interval, timeout)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
