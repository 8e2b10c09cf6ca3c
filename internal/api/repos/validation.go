package repos

import (
	"errors"
	"strings"

	"github.com/spanlight/spanlight/internal/models"
)

func validateCommit(c *models.Commit) error {
	if c == nil {
		return errors.New("commit is null")
	}
	if strings.TrimSpace(c.SHA) == "" {
		return errors.New("sha is required")
	}
	if c.CommittedAt.IsZero() {
		return errors.New("committed_at is required")
	}
	return nil
}

func validatePullRequest(p *models.PullRequest) error {
	if p == nil {
		return errors.New("pull request is null")
	}
	if p.Number <= 0 {
		return errors.New("number must be positive")
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}
