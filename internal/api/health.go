package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger is a dependency with a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CapabilityChecker reports whether the completion capability answers.
type CapabilityChecker interface {
	Healthy(ctx context.Context) bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db         Pinger
	capability CapabilityChecker // optional
	timeout    time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger, capability CapabilityChecker) *HealthHandler {
	return &HealthHandler{db: db, capability: capability, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
// An unhealthy capability only degrades the status: every caller has a fallback.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	switch {
	case h.capability == nil:
		checks["capability"] = "disabled"
	case h.capability.Healthy(ctx):
		checks["capability"] = "ok"
	default:
		checks["capability"] = "unreachable"
		if statusCode == http.StatusOK {
			status["status"] = "degraded"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
