package models

import (
	"time"
)

// Project represents a logical grouping of traces, alerts, and
// notification channels, optionally linked to a source repository.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// APIKeyHash is the bcrypt hash of the project's ingest key.
	APIKeyHash string `json:"-"`

	// RepoID links the project to an indexed source repository.
	// Empty means no repository; correlation is skipped.
	RepoID string `json:"repo_id,omitempty"`

	// RepoURL is the browsable URL of the linked repository.
	RepoURL string `json:"repo_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProject creates a new Project with initialized timestamps.
func NewProject(name, description string) *Project {
	now := time.Now()
	return &Project{
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasRepository returns true if the project is linked to a repository.
func (p *Project) HasRepository() bool {
	return p.RepoID != ""
}
