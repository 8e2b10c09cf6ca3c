package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/security"
)

type sqliteChannelRepo struct {
	db        *sql.DB
	masterKey []byte
}

func (r *sqliteChannelRepo) Create(ctx context.Context, channel *models.NotificationChannel) error {
	query := `
		INSERT INTO channels (id, project_id, name, type, config_encrypted,
			route_expr, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		channel.ID, channel.ProjectID, channel.Name, channel.Type,
		channel.ConfigEncrypted, nullString(channel.RouteExpr),
		boolToInt(channel.Enabled), channel.CreatedAt, channel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (r *sqliteChannelRepo) GetByID(ctx context.Context, id string) (*models.NotificationChannel, error) {
	query := `
		SELECT id, project_id, name, type, config_encrypted,
			route_expr, enabled, created_at, updated_at
		FROM channels WHERE id = ?
	`
	return r.scanChannel(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteChannelRepo) Update(ctx context.Context, channel *models.NotificationChannel) error {
	query := `
		UPDATE channels SET name = ?, type = ?, config_encrypted = ?,
			route_expr = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		channel.Name, channel.Type, channel.ConfigEncrypted,
		nullString(channel.RouteExpr), boolToInt(channel.Enabled),
		channel.UpdatedAt, channel.ID,
	)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("channel not found: %s", channel.ID)
	}
	return nil
}

func (r *sqliteChannelRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("channel not found: %s", id)
	}
	return nil
}

func (r *sqliteChannelRepo) ListByProject(ctx context.Context, projectID string) ([]*models.NotificationChannel, error) {
	query := `
		SELECT id, project_id, name, type, config_encrypted,
			route_expr, enabled, created_at, updated_at
		FROM channels WHERE project_id = ? ORDER BY name
	`
	return r.queryChannels(ctx, query, projectID)
}

func (r *sqliteChannelRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.NotificationChannel, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT id, project_id, name, type, config_encrypted,
			route_expr, enabled, created_at, updated_at
		FROM channels WHERE id IN (%s) ORDER BY name
	`, strings.Join(placeholders, ", "))

	return r.queryChannels(ctx, query, args...)
}

// EncryptConfig encrypts channel settings for storage.
func (r *sqliteChannelRepo) EncryptConfig(plaintext []byte) ([]byte, error) {
	if len(r.masterKey) == 0 {
		return nil, fmt.Errorf("master key not set")
	}
	data, err := security.Encrypt(plaintext, r.masterKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt channel config: %w", err)
	}
	return json.Marshal(data)
}

// DecryptConfig decrypts channel settings from storage.
func (r *sqliteChannelRepo) DecryptConfig(encrypted []byte) ([]byte, error) {
	if len(r.masterKey) == 0 {
		return nil, fmt.Errorf("master key not set")
	}
	if len(encrypted) == 0 {
		return nil, nil
	}
	var data security.EncryptedData
	if err := json.Unmarshal(encrypted, &data); err != nil {
		return nil, fmt.Errorf("unmarshal encrypted data: %w", err)
	}
	return security.Decrypt(&data, r.masterKey)
}

func (r *sqliteChannelRepo) queryChannels(ctx context.Context, query string, args ...interface{}) ([]*models.NotificationChannel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []*models.NotificationChannel
	for rows.Next() {
		channel := &models.NotificationChannel{}
		var routeExpr sql.NullString
		var enabled int
		err := rows.Scan(
			&channel.ID, &channel.ProjectID, &channel.Name, &channel.Type,
			&channel.ConfigEncrypted, &routeExpr, &enabled,
			&channel.CreatedAt, &channel.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channel.RouteExpr = routeExpr.String
		channel.Enabled = enabled != 0
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

func (r *sqliteChannelRepo) scanChannel(row *sql.Row) (*models.NotificationChannel, error) {
	channel := &models.NotificationChannel{}
	var routeExpr sql.NullString
	var enabled int
	err := row.Scan(
		&channel.ID, &channel.ProjectID, &channel.Name, &channel.Type,
		&channel.ConfigEncrypted, &routeExpr, &enabled,
		&channel.CreatedAt, &channel.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	channel.RouteExpr = routeExpr.String
	channel.Enabled = enabled != 0
	return channel, nil
}
