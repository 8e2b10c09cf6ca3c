package notifier

import (
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

func routeFixture() (*models.Alert, *models.AlertTrigger) {
	alert := &models.Alert{
		ID:        "alert-1",
		ProjectID: "proj-1",
		Name:      "payment error rate",
		Type:      models.AlertTypeErrorRate,
		Threshold: 5,
		Severity:  models.SeverityHigh,
		State:     models.StateFiring,
	}
	trigger := &models.AlertTrigger{
		AlertID:     alert.ID,
		State:       models.StateFiring,
		Value:       12.5,
		Threshold:   alert.Threshold,
		TriggeredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	return alert, trigger
}

func TestRouteMatcher(t *testing.T) {
	alert, trigger := routeFixture()

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{"severity equality", `severity == "high"`, true},
		{"severity membership", `severity in ["critical", "high"]`, true},
		{"severity mismatch", `severity == "critical"`, false},
		{"state match", `state == "firing"`, true},
		{"resolved only", `state == "resolved"`, false},
		{"value over threshold", `value > threshold`, true},
		{"alert type", `type == "error_rate"`, true},
		{"name prefix", `name startsWith "payment"`, true},
		{"project scope", `project_id == "proj-1"`, true},
		{"compound", `severity == "high" && state == "firing" && value > 10.0`, true},
		{"compound mismatch", `severity == "high" && value > 100.0`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewRouteMatcher(tt.expression)
			if err != nil {
				t.Fatalf("NewRouteMatcher(%q): %v", tt.expression, err)
			}
			got, err := m.Match(alert, trigger)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.expression, got, tt.want)
			}
		})
	}
}

func TestRouteMatcher_CompileErrors(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"syntax error", `severity ==`},
		{"unknown field", `region == "us-east-1"`},
		{"non-boolean result", `value + threshold`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRouteMatcher(tt.expression); err == nil {
				t.Errorf("NewRouteMatcher(%q) succeeded, want compile error", tt.expression)
			}
		})
	}
}

func TestRouteMatcher_Expression(t *testing.T) {
	m, err := NewRouteMatcher(`severity == "low"`)
	if err != nil {
		t.Fatalf("NewRouteMatcher: %v", err)
	}
	if m.Expression() != `severity == "low"` {
		t.Errorf("Expression() = %q", m.Expression())
	}
}
