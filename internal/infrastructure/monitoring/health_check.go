package monitoring

import (
	"context"
	"sync"
	"time"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex

	lastMu sync.RWMutex
	last   map[string]string
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
		last:   make(map[string]string),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

func runCheck(ctx context.Context, check HealthCheck) string {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	healthy, err := check.Check(checkCtx)
	switch {
	case err != nil:
		return err.Error()
	case !healthy:
		return "check failed"
	default:
		return "healthy"
	}
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		result := runCheck(ctx, check)
		status.Checks[check.Name] = result
		if result != "healthy" {
			status.Status = "unhealthy"
		}
	}
	h.record(status.Checks)
	return status
}

// LastResults returns the outcome of the most recent run of every check.
func (h *HealthChecker) LastResults() map[string]string {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()
	out := make(map[string]string, len(h.last))
	for k, v := range h.last {
		out[k] = v
	}
	return out
}

func (h *HealthChecker) record(results map[string]string) {
	h.lastMu.Lock()
	for k, v := range results {
		h.last[k] = v
	}
	h.lastMu.Unlock()
}

func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		if check.Interval > 0 {
			go h.runCheckPeriodically(ctx, check)
		}
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.record(map[string]string{check.Name: runCheck(ctx, check)})
		}
	}
}
