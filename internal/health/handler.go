// Package health exposes liveness and readiness probes for the signaling
// service. There is no SFU dependency in this system, so readiness checks
// only the Directory Adapter's backing store.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DirectoryPinger is the subset of the Directory Adapter health cares
// about.
type DirectoryPinger interface {
	Ping(ctx context.Context) error
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	directory DirectoryPinger
}

// NewHandler builds a Handler. directory may be nil if the deployment runs
// without a configured Directory Store, in which case readiness never
// reports it unhealthy.
func NewHandler(directory DirectoryPinger) *Handler {
	return &Handler{directory: directory}
}

// LivenessResponse is returned by GET /health/live.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is returned by GET /health/ready.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness reports the process is alive with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports 200 only when the Directory Store is reachable (or not
// configured at all); 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"directory": h.checkDirectory(ctx)}

	status := "ready"
	code := http.StatusOK
	if checks["directory"] != "healthy" {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkDirectory(ctx context.Context) string {
	if h.directory == nil {
		return "healthy"
	}
	if err := h.directory.Ping(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}
