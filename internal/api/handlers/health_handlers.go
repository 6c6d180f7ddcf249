package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check pings one dependency. Critical checks make the service unready;
// the rest only degrade it.
type Check struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

type CheckResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks    []Check
	timeout   time.Duration
	logger    *zap.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks []Check, logger *zap.Logger, version string) *HealthHandler {
	sorted := append([]Check(nil), checks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &HealthHandler{
		checks:    sorted,
		timeout:   3 * time.Second,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// Liveness reports that the process is serving; it never touches dependencies
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.response(StatusHealthy, nil))
}

// Readiness runs every check concurrently
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	results := make(map[string]CheckResult, len(h.checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, check := range h.checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			res := CheckResult{Status: StatusHealthy}
			if err := check.Ping(ctx); err != nil {
				res = CheckResult{Status: StatusDegraded, Error: err.Error()}
				if check.Critical {
					res.Status = StatusUnhealthy
				}
			}
			mu.Lock()
			results[check.Name] = res
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	status := StatusHealthy
	for _, r := range results {
		if r.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
		if r.Status == StatusDegraded {
			status = StatusDegraded
		}
	}

	statusCode := http.StatusOK
	switch status {
	case StatusUnhealthy:
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("Readiness check failed", zap.Any("checks", results))
	case StatusDegraded:
		h.logger.Warn("Service degraded", zap.Any("checks", results))
	}
	c.JSON(statusCode, h.response(status, results))
}

func (h *HealthHandler) response(status Status, checks map[string]CheckResult) HealthResponse {
	return HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    checks,
	}
}
