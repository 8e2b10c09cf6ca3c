// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

// ErrStateConflict is returned when an alert state transition loses a
// compare-and-set race to a concurrent writer. The caller should
// re-read the alert and recompute on the next tick.
var ErrStateConflict = errors.New("alert state changed concurrently")

// Storage is the main interface for control-plane persistence.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Projects() ProjectRepository
	Alerts() AlertRepository
	Channels() ChannelRepository
	Repos() RepoRepository
	Triggers() TriggerRepository
}

// ProjectRepository defines operations for project management.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	GetByName(ctx context.Context, name string) (*models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Project, error)
}

// AlertRepository defines operations for alert rules and their state.
// Create/Update/Delete cover the management surface; ApplyTransition
// and MarkNotified are the state machine's write path and the only
// writers of state, state_changed_at, and last_triggered_at.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	Update(ctx context.Context, alert *models.Alert) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Alert, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Alert, error)
	ListEnabled(ctx context.Context) ([]*models.Alert, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// ApplyTransition moves an alert to a new state if and only if its
	// state_changed_at still equals expected. Returns ErrStateConflict
	// when another writer got there first.
	ApplyTransition(ctx context.Context, id string, to models.AlertState, at, expected time.Time) error

	// MarkNotified records a successful notification dispatch.
	MarkNotified(ctx context.Context, id string, at time.Time) error
}

// ChannelRepository defines operations for notification channels.
type ChannelRepository interface {
	Create(ctx context.Context, channel *models.NotificationChannel) error
	GetByID(ctx context.Context, id string) (*models.NotificationChannel, error)
	Update(ctx context.Context, channel *models.NotificationChannel) error
	Delete(ctx context.Context, id string) error
	ListByProject(ctx context.Context, projectID string) ([]*models.NotificationChannel, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.NotificationChannel, error)
	EncryptConfig(plaintext []byte) ([]byte, error)
	DecryptConfig(encrypted []byte) ([]byte, error)
}

// RepoRepository defines operations for synced commits and pull
// requests of linked repositories.
type RepoRepository interface {
	UpsertCommits(ctx context.Context, commits []*models.Commit) error
	UpsertPullRequests(ctx context.Context, prs []*models.PullRequest) error

	// ListCommits returns commits of a repository with committed_at in
	// [since, until], most recent first, capped to limit.
	ListCommits(ctx context.Context, repoID string, since, until time.Time, limit int) ([]*models.Commit, error)

	// ListMergedPRs returns merged pull requests with merged_at in
	// [since, until], most recent first, capped to limit.
	ListMergedPRs(ctx context.Context, repoID string, since, until time.Time, limit int) ([]*models.PullRequest, error)
}

// TriggerRepository defines operations for alert trigger records.
type TriggerRepository interface {
	Create(ctx context.Context, trigger *models.AlertTrigger) error
	GetByID(ctx context.Context, id string) (*models.AlertTrigger, error)
	List(ctx context.Context, limit, offset int) ([]*models.AlertTrigger, int64, error)
	ListByAlert(ctx context.Context, alertID string, limit, offset int) ([]*models.AlertTrigger, int64, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.AlertTrigger, int64, error)

	// AttachInvestigation stores the analysis and correlation JSON a
	// completed investigation produced for a trigger.
	AttachInvestigation(ctx context.Context, id string, analysisJSON, correlationJSON string) error

	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
