package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Projects table
			CREATE TABLE IF NOT EXISTS projects (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				description TEXT,
				api_key_hash TEXT NOT NULL DEFAULT '',
				repo_id TEXT,
				repo_url TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Alert rules table. State columns are written only through
			-- the state machine's transition path.
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				type TEXT NOT NULL,
				operator TEXT NOT NULL,
				threshold REAL NOT NULL,
				window_mins INTEGER NOT NULL,
				severity TEXT NOT NULL,
				pending_mins INTEGER NOT NULL DEFAULT 0,
				cooldown_mins INTEGER NOT NULL DEFAULT 0,
				notify_json TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				state TEXT NOT NULL DEFAULT 'INACTIVE',
				state_changed_at_ns INTEGER NOT NULL,
				last_triggered_at_ns INTEGER,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
			);

			-- Notification channels table
			CREATE TABLE IF NOT EXISTS channels (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				config_encrypted BLOB,
				route_expr TEXT,
				enabled INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
			);

			-- Synced repository commits
			CREATE TABLE IF NOT EXISTS commits (
				repo_id TEXT NOT NULL,
				sha TEXT NOT NULL,
				message TEXT NOT NULL,
				author TEXT NOT NULL,
				committed_at DATETIME NOT NULL,
				files_json TEXT NOT NULL,
				PRIMARY KEY (repo_id, sha)
			);

			-- Synced repository pull requests
			CREATE TABLE IF NOT EXISTS pull_requests (
				repo_id TEXT NOT NULL,
				number INTEGER NOT NULL,
				title TEXT NOT NULL,
				author TEXT NOT NULL,
				merged_at DATETIME,
				files_json TEXT NOT NULL,
				PRIMARY KEY (repo_id, number)
			);

			-- Alert trigger records
			CREATE TABLE IF NOT EXISTS alert_triggers (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				alert_name TEXT NOT NULL,
				project_id TEXT NOT NULL,
				state TEXT NOT NULL,
				severity TEXT NOT NULL,
				value REAL NOT NULL,
				threshold REAL NOT NULL,
				channel_count INTEGER NOT NULL DEFAULT 0,
				analysis_json TEXT,
				correlation_json TEXT,
				triggered_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_alerts_project ON alerts(project_id);
			CREATE INDEX IF NOT EXISTS idx_alerts_enabled ON alerts(enabled);
			CREATE INDEX IF NOT EXISTS idx_channels_project ON channels(project_id);
			CREATE INDEX IF NOT EXISTS idx_commits_repo_time ON commits(repo_id, committed_at);
			CREATE INDEX IF NOT EXISTS idx_prs_repo_merged ON pull_requests(repo_id, merged_at);
			CREATE INDEX IF NOT EXISTS idx_triggers_alert ON alert_triggers(alert_id);
			CREATE INDEX IF NOT EXISTS idx_triggers_project ON alert_triggers(project_id);
			CREATE INDEX IF NOT EXISTS idx_triggers_time ON alert_triggers(triggered_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
