package models

import "time"

// AlertTrigger records one notifying transition of an alert: a firing
// event or its resolution. The investigation that runs after a firing
// attaches its analysis and correlation output to this record.
type AlertTrigger struct {
	ID        string     `json:"id"`
	AlertID   string     `json:"alert_id"`
	AlertName string     `json:"alert_name"`
	ProjectID string     `json:"project_id"`
	State     AlertState `json:"state"`
	Severity  Severity   `json:"severity"`

	// Value and Threshold capture the metric at transition time.
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`

	// ChannelCount is how many channels accepted the notification.
	ChannelCount int `json:"channel_count"`

	// Analysis is the trace window analysis as JSON, attached once the
	// investigation completes. Empty until then.
	Analysis string `json:"analysis,omitempty"`

	// Correlation is the code correlation output as JSON, attached once
	// the investigation completes. Empty until then.
	Correlation string `json:"correlation,omitempty"`

	TriggeredAt time.Time `json:"triggered_at"`
	CreatedAt   time.Time `json:"created_at"`
}
