package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

// Writer is the single mutation authority for alert lifecycle state.
// Transitions for one alert id are serialized through a keyed mutex,
// and the storage layer additionally rejects lost compare-and-set
// races with storage.ErrStateConflict, so two ticks can never apply
// divergent writes for the same alert.
type Writer struct {
	alerts storage.AlertRepository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter creates the state writer over the alert repository.
func NewWriter(alerts storage.AlertRepository) *Writer {
	return &Writer{
		alerts: alerts,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex guarding one alert id, creating it on first
// use. The map is bounded by the number of distinct alerts seen.
func (w *Writer) lock(id string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.locks[id]
	if !ok {
		l = &sync.Mutex{}
		w.locks[id] = l
	}
	return l
}

// Forget drops the per-alert mutex for a deleted alert.
func (w *Writer) Forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.locks, id)
}

// Apply computes and persists the transition for one evaluation tick.
// The passed alert is updated in place to the committed state so the
// caller continues with what the database now holds. Unchanged
// transitions persist nothing.
//
// Returns storage.ErrStateConflict (wrapped) when a concurrent writer
// moved the alert first; the caller skips the cycle and re-reads on
// the next tick.
func (w *Writer) Apply(ctx context.Context, alert *models.Alert, conditionMet bool, now time.Time) (Transition, error) {
	l := w.lock(alert.ID)
	l.Lock()
	defer l.Unlock()

	t := Decide(alert, conditionMet, now)
	if !t.Changed {
		return t, nil
	}

	if err := w.alerts.ApplyTransition(ctx, alert.ID, t.To, now, alert.StateChangedAt); err != nil {
		return t, fmt.Errorf("apply %s -> %s for alert %s: %w", t.From, t.To, alert.ID, err)
	}

	alert.State = t.To
	alert.StateChangedAt = now
	return t, nil
}

// MarkNotified records a successful notification dispatch, advancing
// the cooldown clock. Called only after the dispatcher reports
// success; a failed dispatch leaves LastTriggeredAt alone so the next
// eligible tick retries.
func (w *Writer) MarkNotified(ctx context.Context, alert *models.Alert, at time.Time) error {
	l := w.lock(alert.ID)
	l.Lock()
	defer l.Unlock()

	if err := w.alerts.MarkNotified(ctx, alert.ID, at); err != nil {
		return fmt.Errorf("mark alert %s notified: %w", alert.ID, err)
	}
	t := at
	alert.LastTriggeredAt = &t
	return nil
}
