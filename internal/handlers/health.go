package handlers

import (
	"net/http"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Liveness never
// touches dependencies; readiness reflects the aggregated dependency report.
type HealthHandlers struct {
	system services.SystemService
	start  time.Time
}

// NewHealthHandlers constructs health handlers backed by the system service.
// A nil service degrades readiness to a plain liveness response.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{
		system: system,
		start:  time.Now(),
	}
}

type healthCheckPayload struct {
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type healthPayload struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	Commit      string                        `json:"commit,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, healthPayload{
		Status:    domain.HealthStatusOK,
		Uptime:    time.Since(h.start).Round(time.Second).String(),
		Timestamp: formatTime(time.Now()),
	})
}

// Readyz reports dependency readiness. Degraded dependencies keep the
// instance in rotation; hard failures take it out.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthPayload{
			Status:    domain.HealthStatusError,
			Timestamp: formatTime(time.Now()),
		})
		return
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}

	payload := healthPayload{
		Status:      report.Status,
		Version:     report.Version,
		Commit:      report.CommitSHA,
		Environment: report.Environment,
		Timestamp:   formatTime(report.GeneratedAt),
	}
	if report.Uptime > 0 {
		payload.Uptime = report.Uptime.Round(time.Second).String()
	}
	if len(report.Checks) > 0 {
		payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			entry := healthCheckPayload{
				Status: check.Status,
				Detail: check.Detail,
				Error:  check.Error,
			}
			if check.Latency > 0 {
				entry.Latency = check.Latency.String()
			}
			payload.Checks[name] = entry
		}
	}

	writeJSONResponse(w, status, payload)
}
