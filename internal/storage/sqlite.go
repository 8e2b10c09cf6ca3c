package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Pure Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path      string
	masterKey []byte
	db        *sql.DB

	projects *sqliteProjectRepo
	alerts   *sqliteAlertRepo
	channels *sqliteChannelRepo
	repos    *sqliteRepoRepo
	triggers *sqliteTriggerRepo
}

// NewSQLiteStorage creates a new SQLite storage. The master key
// encrypts channel configs at rest.
func NewSQLiteStorage(path string, masterKey []byte) *SQLiteStorage {
	return &SQLiteStorage{
		path:      path,
		masterKey: masterKey,
	}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", s.path))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	// Enable foreign keys and WAL mode
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	// Initialize repositories
	s.projects = &sqliteProjectRepo{db: db}
	s.alerts = &sqliteAlertRepo{db: db}
	s.channels = &sqliteChannelRepo{db: db, masterKey: s.masterKey}
	s.repos = &sqliteRepoRepo{db: db}
	s.triggers = &sqliteTriggerRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Projects returns the project repository.
func (s *SQLiteStorage) Projects() ProjectRepository {
	return s.projects
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Channels returns the notification channel repository.
func (s *SQLiteStorage) Channels() ChannelRepository {
	return s.channels
}

// Repos returns the commit and pull request repository.
func (s *SQLiteStorage) Repos() RepoRepository {
	return s.repos
}

// Triggers returns the alert trigger repository.
func (s *SQLiteStorage) Triggers() TriggerRepository {
	return s.triggers
}
