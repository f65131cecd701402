package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	collector *metrics.Collector
	redis     *store.RedisStore
}

// NewHandler creates a new Handler. redis may be nil for memory-backed
// deployments.
func NewHandler(collector *metrics.Collector, redis *store.RedisStore) *Handler {
	return &Handler{collector: collector, redis: redis}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
