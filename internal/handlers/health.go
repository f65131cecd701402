package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/chathub-io/chathub/internal/metrics"
)

const version = "0.1.0"

// Check represents the status of a dependency check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // healthy | degraded | unhealthy
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Metrics   metrics.Snapshot `json:"metrics"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint. The status combines the
// collector's derived health with dependency reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := h.collector.HealthStatus()
	checks := make(map[string]Check)

	if h.redis != nil {
		redisStart := time.Now()
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = Check{Status: "fail", Message: "connection failed"}
			status = metrics.StatusUnhealthy
		} else {
			checks["redis"] = Check{Status: "pass", Latency: time.Since(redisStart).String()}
		}
	}

	statusCode := http.StatusOK
	if status == metrics.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Metrics:   h.collector.Snapshot(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.JSON(w, statusCode, resp)
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{Name: "chathub", Version: version})
}
