package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

type sqliteTriggerRepo struct {
	db *sql.DB
}

const triggerColumns = `id, alert_id, alert_name, project_id, state, severity,
		value, threshold, channel_count, analysis_json, correlation_json,
		triggered_at, created_at`

func (r *sqliteTriggerRepo) Create(ctx context.Context, t *models.AlertTrigger) error {
	query := `
		INSERT INTO alert_triggers (id, alert_id, alert_name, project_id, state, severity,
			value, threshold, channel_count, analysis_json, correlation_json,
			triggered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.AlertID, t.AlertName, t.ProjectID, t.State, t.Severity,
		t.Value, t.Threshold, t.ChannelCount,
		nullString(t.Analysis), nullString(t.Correlation),
		t.TriggeredAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create alert trigger: %w", err)
	}
	return nil
}

func (r *sqliteTriggerRepo) GetByID(ctx context.Context, id string) (*models.AlertTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM alert_triggers WHERE id = ?`

	t := &models.AlertTrigger{}
	var analysis, correlation sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.AlertID, &t.AlertName, &t.ProjectID, &t.State, &t.Severity,
		&t.Value, &t.Threshold, &t.ChannelCount, &analysis, &correlation,
		&t.TriggeredAt, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert trigger: %w", err)
	}
	t.Analysis = analysis.String
	t.Correlation = correlation.String
	return t, nil
}

func (r *sqliteTriggerRepo) List(ctx context.Context, limit, offset int) ([]*models.AlertTrigger, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_triggers").Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alert triggers: %w", err)
	}

	query := `SELECT ` + triggerColumns + ` FROM alert_triggers ORDER BY triggered_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert triggers: %w", err)
	}
	defer rows.Close()

	triggers, err := r.scanTriggers(rows)
	if err != nil {
		return nil, 0, err
	}
	return triggers, total, rows.Err()
}

func (r *sqliteTriggerRepo) ListByAlert(ctx context.Context, alertID string, limit, offset int) ([]*models.AlertTrigger, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_triggers WHERE alert_id = ?", alertID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alert triggers by alert: %w", err)
	}

	query := `SELECT ` + triggerColumns + ` FROM alert_triggers WHERE alert_id = ? ORDER BY triggered_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, alertID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert triggers by alert: %w", err)
	}
	defer rows.Close()

	triggers, err := r.scanTriggers(rows)
	if err != nil {
		return nil, 0, err
	}
	return triggers, total, rows.Err()
}

func (r *sqliteTriggerRepo) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.AlertTrigger, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_triggers WHERE project_id = ?", projectID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alert triggers by project: %w", err)
	}

	query := `SELECT ` + triggerColumns + ` FROM alert_triggers WHERE project_id = ? ORDER BY triggered_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert triggers by project: %w", err)
	}
	defer rows.Close()

	triggers, err := r.scanTriggers(rows)
	if err != nil {
		return nil, 0, err
	}
	return triggers, total, rows.Err()
}

func (r *sqliteTriggerRepo) AttachInvestigation(ctx context.Context, id string, analysisJSON, correlationJSON string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_triggers SET analysis_json = ?, correlation_json = ? WHERE id = ?",
		nullString(analysisJSON), nullString(correlationJSON), id,
	)
	if err != nil {
		return fmt.Errorf("attach investigation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert trigger not found: %s", id)
	}
	return nil
}

func (r *sqliteTriggerRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_triggers WHERE triggered_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("delete alert triggers: %w", err)
	}
	return result.RowsAffected()
}

func (r *sqliteTriggerRepo) scanTriggers(rows *sql.Rows) ([]*models.AlertTrigger, error) {
	var triggers []*models.AlertTrigger
	for rows.Next() {
		t := &models.AlertTrigger{}
		var analysis, correlation sql.NullString
		err := rows.Scan(
			&t.ID, &t.AlertID, &t.AlertName, &t.ProjectID, &t.State, &t.Severity,
			&t.Value, &t.Threshold, &t.ChannelCount, &analysis, &correlation,
			&t.TriggeredAt, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan alert trigger: %w", err)
		}
		t.Analysis = analysis.String
		t.Correlation = correlation.String
		triggers = append(triggers, t)
	}
	return triggers, nil
}
