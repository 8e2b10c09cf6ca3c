package models

import "time"

// Commit represents one commit of a linked repository, synced from the
// hosting provider together with its changed-file list.
type Commit struct {
	SHA          string    `json:"sha"`
	RepoID       string    `json:"repo_id"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	CommittedAt  time.Time `json:"committed_at"`
	FilesChanged []string  `json:"files_changed"`
}

// ShortSHA returns the abbreviated commit hash.
func (c *Commit) ShortSHA() string {
	if len(c.SHA) > 7 {
		return c.SHA[:7]
	}
	return c.SHA
}

// PullRequest represents one merged pull request of a linked repository.
type PullRequest struct {
	Number       int        `json:"number"`
	RepoID       string     `json:"repo_id"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
	FilesChanged []string   `json:"files_changed"`
}

// IsMerged returns true if the pull request has been merged.
func (p *PullRequest) IsMerged() bool {
	return p.MergedAt != nil
}
