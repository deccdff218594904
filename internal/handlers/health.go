package handlers

import (
	"net/http"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Liveness never
// touches dependencies; readiness runs the dependency probes through the
// system service.
type HealthHandlers struct {
	system services.SystemService
}

// NewHealthHandlers constructs the probe handlers. A nil system service
// degrades readiness to a plain liveness response.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{system: system}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports dependency readiness. A failed dependency turns the probe
// into a 503 so the load balancer drains the instance.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status": string(domain.HealthStatusError),
			"error":  "health report unavailable",
		})
		return
	}

	checks := make(map[string]any, len(report.Checks))
	for name, check := range report.Checks {
		entry := map[string]any{"status": string(check.Status)}
		if check.Detail != "" {
			entry["detail"] = check.Detail
		}
		if check.Latency > 0 {
			entry["latencyMs"] = check.Latency.Milliseconds()
		}
		checks[name] = entry
	}

	payload := map[string]any{
		"status":      string(report.Status),
		"checks":      checks,
		"version":     report.Version,
		"commit":      report.CommitSHA,
		"environment": report.Environment,
		"uptime":      report.Uptime.String(),
		"generatedAt": formatTimestamp(report.GeneratedAt),
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}
