package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codecollab/editor-backend/internal/bus"
	"github.com/codecollab/editor-backend/internal/logging"
)

// PingFunc probes a single dependency and returns a non-nil error if it is
// unreachable. Handler accepts these as plain functions rather than
// interfaces tied to a concrete client, so it never needs to import the
// repository, queue, or sandbox packages directly.
type PingFunc func(ctx context.Context) error

// Handler manages health check endpoints.
type Handler struct {
	redisService *bus.Service
	dbPing       PingFunc
	queuePing    PingFunc
	sandboxPing  PingFunc
}

// NewHandler creates a health check handler. Any of dbPing, queuePing, or
// sandboxPing may be nil, in which case that dependency is skipped during
// readiness checks (useful for single-process or degraded-mode operation).
func NewHandler(redisService *bus.Service, dbPing, queuePing, sandboxPing PingFunc) *Handler {
	return &Handler{
		redisService: redisService,
		dbPing:       dbPing,
		queuePing:    queuePing,
		sandboxPing:  sandboxPing,
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if all configured dependencies are healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.dbPing != nil {
		status := h.probe(ctx, "database", h.dbPing)
		checks["database"] = status
		if status != "healthy" {
			allHealthy = false
		}
	}

	if h.queuePing != nil {
		status := h.probe(ctx, "job_queue", h.queuePing)
		checks["job_queue"] = status
		if status != "healthy" {
			allHealthy = false
		}
	}

	if h.sandboxPing != nil {
		status := h.probe(ctx, "sandbox", h.sandboxPing)
		checks["sandbox"] = status
		if status != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}
	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) probe(ctx context.Context, name string, ping PingFunc) string {
	if err := ping(ctx); err != nil {
		logging.Error(ctx, name+" health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
