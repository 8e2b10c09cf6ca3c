package models

import (
	"fmt"
	"time"
)

// AlertType represents the metric an alert rule evaluates.
type AlertType string

const (
	AlertTypeErrorRate  AlertType = "ERROR_RATE"
	AlertTypeLatencyP50 AlertType = "LATENCY_P50"
	AlertTypeLatencyP95 AlertType = "LATENCY_P95"
	AlertTypeLatencyP99 AlertType = "LATENCY_P99"
)

// IsLatency returns true for the latency percentile alert types.
func (t AlertType) IsLatency() bool {
	return t == AlertTypeLatencyP50 || t == AlertTypeLatencyP95 || t == AlertTypeLatencyP99
}

// Percentile returns the percentile an alert type evaluates, or 0 for
// non-latency types.
func (t AlertType) Percentile() float64 {
	switch t {
	case AlertTypeLatencyP50:
		return 50
	case AlertTypeLatencyP95:
		return 95
	case AlertTypeLatencyP99:
		return 99
	default:
		return 0
	}
}

// AlertOperator represents the comparison applied to the metric value.
type AlertOperator string

const (
	OperatorGreaterThan AlertOperator = "GREATER_THAN"
	OperatorLessThan    AlertOperator = "LESS_THAN"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Defaults returns the default pending and cooldown minutes for a
// severity. Alerts that leave PendingMins or CooldownMins at zero
// inherit these.
func (s Severity) Defaults() (pendingMins, cooldownMins int) {
	switch s {
	case SeverityCritical:
		return 1, 5
	case SeverityHigh:
		return 2, 15
	case SeverityMedium:
		return 5, 30
	case SeverityLow:
		return 10, 60
	default:
		return 5, 30
	}
}

// AlertState represents where an alert sits in its lifecycle.
type AlertState string

const (
	StateInactive AlertState = "INACTIVE"
	StatePending  AlertState = "PENDING"
	StateFiring   AlertState = "FIRING"
	StateResolved AlertState = "RESOLVED"
)

// Alert represents a persistent alert rule and its lifecycle state.
// State fields are owned by the alerting state machine; everything
// else is edited through the management API.
type Alert struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Type        AlertType     `json:"type"`
	Operator    AlertOperator `json:"operator"`
	Threshold   float64       `json:"threshold"`

	// WindowMins is the trailing evaluation window in minutes (1-60).
	WindowMins int `json:"window_mins"`

	Severity Severity `json:"severity"`

	// PendingMins is how long the condition must hold before the alert
	// fires. Zero inherits the severity default.
	PendingMins int `json:"pending_mins,omitempty"`

	// CooldownMins is the minimum gap between notifications. Zero
	// inherits the severity default.
	CooldownMins int `json:"cooldown_mins,omitempty"`

	// Notify lists the notification channel ids to fan out to.
	Notify []string `json:"notify"`

	Enabled bool `json:"enabled"`

	State           AlertState `json:"state"`
	StateChangedAt  time.Time  `json:"state_changed_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAlert creates a new Alert with initialized state and timestamps.
func NewAlert(projectID, name string, alertType AlertType, severity Severity) *Alert {
	now := time.Now()
	return &Alert{
		ProjectID:      projectID,
		Name:           name,
		Type:           alertType,
		Operator:       OperatorGreaterThan,
		Severity:       severity,
		WindowMins:     5,
		Enabled:        true,
		Notify:         []string{},
		State:          StateInactive,
		StateChangedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// EffectivePendingMins returns the pending duration in minutes,
// falling back to the severity default when no override is set.
func (a *Alert) EffectivePendingMins() int {
	if a.PendingMins > 0 {
		return a.PendingMins
	}
	p, _ := a.Severity.Defaults()
	return p
}

// EffectiveCooldownMins returns the cooldown duration in minutes,
// falling back to the severity default when no override is set.
func (a *Alert) EffectiveCooldownMins() int {
	if a.CooldownMins > 0 {
		return a.CooldownMins
	}
	_, c := a.Severity.Defaults()
	return c
}

// PendingDuration returns the effective pending window as a duration.
func (a *Alert) PendingDuration() time.Duration {
	return time.Duration(a.EffectivePendingMins()) * time.Minute
}

// CooldownDuration returns the effective cooldown as a duration.
func (a *Alert) CooldownDuration() time.Duration {
	return time.Duration(a.EffectiveCooldownMins()) * time.Minute
}

// Validate checks field ranges before an alert is persisted.
func (a *Alert) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("alert name is required")
	}
	if a.ProjectID == "" {
		return fmt.Errorf("alert project_id is required")
	}
	switch a.Type {
	case AlertTypeErrorRate, AlertTypeLatencyP50, AlertTypeLatencyP95, AlertTypeLatencyP99:
	default:
		return fmt.Errorf("invalid alert type: %s", a.Type)
	}
	switch a.Operator {
	case OperatorGreaterThan, OperatorLessThan:
	default:
		return fmt.Errorf("invalid operator: %s", a.Operator)
	}
	switch a.Severity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
	default:
		return fmt.Errorf("invalid severity: %s", a.Severity)
	}
	if a.Threshold < 0 {
		return fmt.Errorf("threshold must be >= 0, got %g", a.Threshold)
	}
	if a.WindowMins < 1 || a.WindowMins > 60 {
		return fmt.Errorf("window_mins must be 1-60, got %d", a.WindowMins)
	}
	if a.PendingMins < 0 || a.PendingMins > 30 {
		return fmt.Errorf("pending_mins must be 0-30, got %d", a.PendingMins)
	}
	if a.CooldownMins < 0 || a.CooldownMins > 1440 {
		return fmt.Errorf("cooldown_mins must be 0-1440, got %d", a.CooldownMins)
	}
	return nil
}

// ParseAlertType converts a string to AlertType.
func ParseAlertType(s string) AlertType {
	switch s {
	case "ERROR_RATE":
		return AlertTypeErrorRate
	case "LATENCY_P50":
		return AlertTypeLatencyP50
	case "LATENCY_P95":
		return AlertTypeLatencyP95
	case "LATENCY_P99":
		return AlertTypeLatencyP99
	default:
		return AlertTypeErrorRate
	}
}

// ParseOperator converts a string to AlertOperator.
func ParseOperator(s string) AlertOperator {
	switch s {
	case "LESS_THAN":
		return OperatorLessThan
	default:
		return OperatorGreaterThan
	}
}

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "CRITICAL", "critical":
		return SeverityCritical
	case "HIGH", "high":
		return SeverityHigh
	case "MEDIUM", "medium":
		return SeverityMedium
	case "LOW", "low":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// ParseAlertState converts a string to AlertState.
func ParseAlertState(s string) AlertState {
	switch s {
	case "PENDING":
		return StatePending
	case "FIRING":
		return StateFiring
	case "RESOLVED":
		return StateResolved
	default:
		return StateInactive
	}
}
