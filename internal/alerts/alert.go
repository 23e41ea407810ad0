package alerts

import "time"

type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical, SeverityEmergency:
		return Severity(s), true
	}
	return "", false
}

// SeverityRank orders severities for escalation and sorting. Unknown
// severities rank below low.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityEmergency:
		return 5
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type State string

const (
	StateActive       State = "active"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
	StateSuppressed   State = "suppressed"
)

type Alert struct {
	ID                         string            `json:"id"`
	Key                        string            `json:"key"`
	Name                       string            `json:"name"`
	Message                    string            `json:"message"`
	Severity                   Severity          `json:"severity"`
	State                      State             `json:"state"`
	Metric                     string            `json:"metric,omitempty"`
	ChildID                    string            `json:"childId,omitempty"`
	Observed                   float64           `json:"observed"`
	Threshold                  float64           `json:"threshold"`
	FireCount                  int               `json:"fireCount"`
	FiredAt                    time.Time         `json:"firedAt"`
	LastFiredAt                time.Time         `json:"lastFiredAt"`
	AckedAt                    *time.Time        `json:"ackedAt,omitempty"`
	ResolvedAt                 *time.Time        `json:"resolvedAt,omitempty"`
	RequiresImmediateAttention bool              `json:"requiresImmediateAttention,omitempty"`
	Metadata                   map[string]string `json:"metadata,omitempty"`
}

// Firing describes one occurrence of an alert condition. Occurrences
// sharing a Key collapse into a single unresolved alert. ChildID is set
// for safety-origin firings only.
type Firing struct {
	Key                        string
	Name                       string
	Message                    string
	Severity                   Severity
	Metric                     string
	ChildID                    string
	Observed                   float64
	Threshold                  float64
	RequiresImmediateAttention bool
	Metadata                   map[string]string
}

// Notifier receives every fire and re-fire after manager state settles.
type Notifier interface {
	Notify(Alert)
}
