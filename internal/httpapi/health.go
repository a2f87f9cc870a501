package httpapi

import (
	"net/http"
	"time"
)

// HealthHandler serves liveness checks.
type HealthHandler struct {
	started time.Time
}

// NewHealthHandler wires the health endpoint.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{started: time.Now()}
}

// Health reports service liveness.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "deepresearch",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}
