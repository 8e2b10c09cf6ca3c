package alerting

import (
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

// Transition is one computed lifecycle step for an alert. Changed is
// false when the alert stays in place and nothing needs persisting;
// ShouldNotify can be true without Changed (re-notify on a sustained
// breach).
type Transition struct {
	From         models.AlertState
	To           models.AlertState
	Changed      bool
	ShouldNotify bool

	// Resolution marks a FIRING -> RESOLVED step so the dispatcher can
	// phrase the notification as a recovery.
	Resolution bool
}

// Decide computes the single transition for one evaluation tick. It is
// pure: it reads the alert and the clock, mutates nothing, and the
// caller applies the result through the Writer.
//
// Pending duration is measured from StateChangedAt, cooldown from
// LastTriggeredAt. A disabled alert is forced to INACTIVE regardless
// of conditionMet; callers skip evaluation for disabled alerts and
// pass conditionMet=false.
func Decide(alert *models.Alert, conditionMet bool, now time.Time) Transition {
	t := Transition{From: alert.State, To: alert.State}

	if !alert.Enabled {
		t.To = models.StateInactive
		t.Changed = alert.State != models.StateInactive
		return t
	}

	switch alert.State {
	case models.StatePending:
		if !conditionMet {
			// A single miss resets the pending clock entirely.
			t.To = models.StateInactive
			t.Changed = true
			return t
		}
		if now.Sub(alert.StateChangedAt) >= alert.PendingDuration() {
			t.To = models.StateFiring
			t.Changed = true
			t.ShouldNotify = cooldownElapsed(alert, now)
		}
		return t

	case models.StateFiring:
		if !conditionMet {
			t.To = models.StateResolved
			t.Changed = true
			t.ShouldNotify = true
			t.Resolution = true
			return t
		}
		// Sustained breach: stay put, re-notify once per cooldown.
		t.ShouldNotify = cooldownElapsed(alert, now)
		return t

	case models.StateResolved:
		// RESOLVED is transient; one tick later it returns to INACTIVE
		// whatever the condition says.
		t.To = models.StateInactive
		t.Changed = true
		return t

	default: // INACTIVE
		if conditionMet {
			t.To = models.StatePending
			t.Changed = true
		}
		return t
	}
}

// cooldownElapsed reports whether enough time has passed since the
// last successful notification. An alert that never notified has no
// cooldown to wait out.
func cooldownElapsed(alert *models.Alert, now time.Time) bool {
	if alert.LastTriggeredAt == nil {
		return true
	}
	return now.Sub(*alert.LastTriggeredAt) >= alert.CooldownDuration()
}
