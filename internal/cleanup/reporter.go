package cleanup

import "time"

// SubsystemStatus mirrors webhook.SubsystemStatus structurally so a
// cleanup service never needs to import the webhook package directly;
// production wiring adapts between the two at the call site.
type SubsystemStatus struct {
	LastRunAt time.Time
	LastError string
	Detail    any
}

// SubsystemReporter receives a cleanup service's latest sweep outcome.
// Satisfied by a thin adapter over webhook.HealthReporter in production
// wiring, and left nil in tests that don't care about /health.
type SubsystemReporter interface {
	ReportSubsystem(name string, status SubsystemStatus)
}
