package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, project_id, name, description, type, operator, threshold,
		window_mins, severity, pending_mins, cooldown_mins, notify_json, enabled,
		state, state_changed_at_ns, last_triggered_at_ns, created_at, updated_at`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	notifyJSON, err := json.Marshal(alert.Notify)
	if err != nil {
		return fmt.Errorf("marshal notify: %w", err)
	}

	query := `
		INSERT INTO alerts (id, project_id, name, description, type, operator, threshold,
			window_mins, severity, pending_mins, cooldown_mins, notify_json, enabled,
			state, state_changed_at_ns, last_triggered_at_ns, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.ProjectID, alert.Name, alert.Description,
		alert.Type, alert.Operator, alert.Threshold,
		alert.WindowMins, alert.Severity, alert.PendingMins, alert.CooldownMins,
		string(notifyJSON), boolToInt(alert.Enabled),
		alert.State, alert.StateChangedAt.UnixNano(), timeToNullNanos(alert.LastTriggeredAt),
		alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	return r.scanAlert(r.db.QueryRowContext(ctx, query, id))
}

// Update persists the management fields of an alert. State columns are
// deliberately excluded: they belong to ApplyTransition/MarkNotified.
func (r *sqliteAlertRepo) Update(ctx context.Context, alert *models.Alert) error {
	notifyJSON, err := json.Marshal(alert.Notify)
	if err != nil {
		return fmt.Errorf("marshal notify: %w", err)
	}

	query := `
		UPDATE alerts SET name = ?, description = ?, type = ?, operator = ?, threshold = ?,
			window_mins = ?, severity = ?, pending_mins = ?, cooldown_mins = ?,
			notify_json = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.Name, alert.Description, alert.Type, alert.Operator, alert.Threshold,
		alert.WindowMins, alert.Severity, alert.PendingMins, alert.CooldownMins,
		string(notifyJSON), boolToInt(alert.Enabled), alert.UpdatedAt,
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", alert.ID)
	}
	return nil
}

func (r *sqliteAlertRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) List(ctx context.Context) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts ORDER BY name`
	return r.queryAlerts(ctx, query)
}

func (r *sqliteAlertRepo) ListByProject(ctx context.Context, projectID string) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE project_id = ? ORDER BY name`
	return r.queryAlerts(ctx, query, projectID)
}

func (r *sqliteAlertRepo) ListEnabled(ctx context.Context) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE enabled = 1 ORDER BY name`
	return r.queryAlerts(ctx, query)
}

func (r *sqliteAlertRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set alert enabled: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

// ApplyTransition moves an alert to a new state, guarded by a
// compare-and-set on state_changed_at so two concurrent ticks cannot
// both apply a transition from the same observed state.
func (r *sqliteAlertRepo) ApplyTransition(ctx context.Context, id string, to models.AlertState, at, expected time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET state = ?, state_changed_at_ns = ?, updated_at = ? WHERE id = ? AND state_changed_at_ns = ?",
		string(to), at.UnixNano(), time.Now(), id, expected.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("alert not found: %s", id)
		}
		return ErrStateConflict
	}
	return nil
}

func (r *sqliteAlertRepo) MarkNotified(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET last_triggered_at_ns = ? WHERE id = ?",
		at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := r.scanAlertRow(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *sqliteAlertRepo) scanAlert(row *sql.Row) (*models.Alert, error) {
	alert := &models.Alert{}
	var description sql.NullString
	var notifyJSON string
	var enabled int
	var stateChangedNS int64
	var lastTriggeredNS sql.NullInt64

	err := row.Scan(
		&alert.ID, &alert.ProjectID, &alert.Name, &description,
		&alert.Type, &alert.Operator, &alert.Threshold,
		&alert.WindowMins, &alert.Severity, &alert.PendingMins, &alert.CooldownMins,
		&notifyJSON, &enabled,
		&alert.State, &stateChangedNS, &lastTriggeredNS,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	return r.finishAlert(alert, description, notifyJSON, enabled, stateChangedNS, lastTriggeredNS)
}

func (r *sqliteAlertRepo) scanAlertRow(rows *sql.Rows) (*models.Alert, error) {
	alert := &models.Alert{}
	var description sql.NullString
	var notifyJSON string
	var enabled int
	var stateChangedNS int64
	var lastTriggeredNS sql.NullInt64

	err := rows.Scan(
		&alert.ID, &alert.ProjectID, &alert.Name, &description,
		&alert.Type, &alert.Operator, &alert.Threshold,
		&alert.WindowMins, &alert.Severity, &alert.PendingMins, &alert.CooldownMins,
		&notifyJSON, &enabled,
		&alert.State, &stateChangedNS, &lastTriggeredNS,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	return r.finishAlert(alert, description, notifyJSON, enabled, stateChangedNS, lastTriggeredNS)
}

func (r *sqliteAlertRepo) finishAlert(alert *models.Alert, description sql.NullString, notifyJSON string, enabled int, stateChangedNS int64, lastTriggeredNS sql.NullInt64) (*models.Alert, error) {
	alert.Description = description.String
	alert.Enabled = enabled != 0
	alert.StateChangedAt = time.Unix(0, stateChangedNS)
	if lastTriggeredNS.Valid {
		t := time.Unix(0, lastTriggeredNS.Int64)
		alert.LastTriggeredAt = &t
	}

	if err := json.Unmarshal([]byte(notifyJSON), &alert.Notify); err != nil {
		return nil, fmt.Errorf("unmarshal notify: %w", err)
	}

	return alert, nil
}

// Helper functions

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeToNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
