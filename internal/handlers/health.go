package handlers

import (
	"net/http"
	"time"

	"github.com/oiy-sale/api/internal/platform/httpx"
	"github.com/oiy-sale/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system  services.SystemService
	clock   func() time.Time
	started time.Time
}

// NewHealthHandlers constructs health handlers. A nil system service makes
// readiness always pass, which keeps tests and local tooling simple.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	now := time.Now().UTC()
	return &HealthHandlers{
		system:  system,
		clock:   func() time.Time { return time.Now().UTC() },
		started: now,
	}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    h.clock().Sub(h.started).String(),
		"timestamp": h.clock().Format(time.RFC3339),
	})
}

// Readyz reports dependency readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system != nil {
		if err := h.system.Healthz(ctx); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("NOT_READY", "dependencies unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
}
