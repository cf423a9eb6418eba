package webhook

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// SubsystemStatus is one cleanup service's most recent sweep outcome, as
// reported into the /health payload (§6). Cleanup services register a
// reporter func so /health always reflects their latest run without the
// webhook package importing internal/cleanup directly.
type SubsystemStatus struct {
	LastRunAt time.Time `json:"last_run_at"`
	LastError string    `json:"last_error,omitempty"`
	Detail    any       `json:"detail,omitempty"`
}

// HealthReporter aggregates the fields §6's GET /health contract names:
// process uptime, whether the session subsystem is enabled, per-subsystem
// cleanup status, and feature flags.
type HealthReporter struct {
	mu           sync.RWMutex
	startedAt    time.Time
	sessionsOn   bool
	featureFlags map[string]bool
	subsystems   map[string]SubsystemStatus
}

// NewHealthReporter creates a reporter whose uptime clock starts now.
func NewHealthReporter() *HealthReporter {
	return &HealthReporter{
		startedAt:    time.Now(),
		featureFlags: make(map[string]bool),
		subsystems:   make(map[string]SubsystemStatus),
	}
}

// SetSessionsEnabled records whether the session subsystem (Redis or
// in-memory session.Store) is configured and reachable.
func (h *HealthReporter) SetSessionsEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionsOn = enabled
}

// SetFeatureFlag records a named feature flag's current value.
func (h *HealthReporter) SetFeatureFlag(name string, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.featureFlags[name] = enabled
}

// ReportSubsystem records a cleanup service's latest sweep result. name is
// e.g. "session_cleanup" or "workspace_cleanup".
func (h *HealthReporter) ReportSubsystem(name string, status SubsystemStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subsystems[name] = status
}

type healthPayload struct {
	UptimeSeconds   float64                    `json:"uptime_seconds"`
	SessionsEnabled bool                       `json:"sessions_enabled"`
	Subsystems      map[string]SubsystemStatus `json:"subsystems"`
	FeatureFlags    map[string]bool            `json:"feature_flags"`
}

func (h *HealthReporter) snapshot() healthPayload {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subsystems := make(map[string]SubsystemStatus, len(h.subsystems))
	for k, v := range h.subsystems {
		subsystems[k] = v
	}
	flags := make(map[string]bool, len(h.featureFlags))
	for k, v := range h.featureFlags {
		flags[k] = v
	}

	return healthPayload{
		UptimeSeconds:   time.Since(h.startedAt).Seconds(),
		SessionsEnabled: h.sessionsOn,
		Subsystems:      subsystems,
		FeatureFlags:    flags,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.health.snapshot())
}
