package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

type sqliteRepoRepo struct {
	db *sql.DB
}

func (r *sqliteRepoRepo) UpsertCommits(ctx context.Context, commits []*models.Commit) error {
	if len(commits) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commits (repo_id, sha, message, author, committed_at, files_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, sha) DO UPDATE SET
			message = excluded.message,
			author = excluded.author,
			committed_at = excluded.committed_at,
			files_json = excluded.files_json
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range commits {
		filesJSON, err := json.Marshal(c.FilesChanged)
		if err != nil {
			return fmt.Errorf("marshal files: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.RepoID, c.SHA, c.Message, c.Author, c.CommittedAt, string(filesJSON)); err != nil {
			return fmt.Errorf("upsert commit %s: %w", c.SHA, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *sqliteRepoRepo) UpsertPullRequests(ctx context.Context, prs []*models.PullRequest) error {
	if len(prs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pull_requests (repo_id, number, title, author, merged_at, files_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, number) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			merged_at = excluded.merged_at,
			files_json = excluded.files_json
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, pr := range prs {
		filesJSON, err := json.Marshal(pr.FilesChanged)
		if err != nil {
			return fmt.Errorf("marshal files: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, pr.RepoID, pr.Number, pr.Title, pr.Author, pr.MergedAt, string(filesJSON)); err != nil {
			return fmt.Errorf("upsert pull request %d: %w", pr.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *sqliteRepoRepo) ListCommits(ctx context.Context, repoID string, since, until time.Time, limit int) ([]*models.Commit, error) {
	query := `
		SELECT repo_id, sha, message, author, committed_at, files_json
		FROM commits
		WHERE repo_id = ? AND committed_at >= ? AND committed_at <= ?
		ORDER BY committed_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, repoID, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	var commits []*models.Commit
	for rows.Next() {
		c := &models.Commit{}
		var filesJSON string
		if err := rows.Scan(&c.RepoID, &c.SHA, &c.Message, &c.Author, &c.CommittedAt, &filesJSON); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &c.FilesChanged); err != nil {
			return nil, fmt.Errorf("unmarshal files: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (r *sqliteRepoRepo) ListMergedPRs(ctx context.Context, repoID string, since, until time.Time, limit int) ([]*models.PullRequest, error) {
	query := `
		SELECT repo_id, number, title, author, merged_at, files_json
		FROM pull_requests
		WHERE repo_id = ? AND merged_at IS NOT NULL AND merged_at >= ? AND merged_at <= ?
		ORDER BY merged_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, repoID, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []*models.PullRequest
	for rows.Next() {
		pr := &models.PullRequest{}
		var filesJSON string
		var mergedAt sql.NullTime
		if err := rows.Scan(&pr.RepoID, &pr.Number, &pr.Title, &pr.Author, &mergedAt, &filesJSON); err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		if mergedAt.Valid {
			t := mergedAt.Time
			pr.MergedAt = &t
		}
		if err := json.Unmarshal([]byte(filesJSON), &pr.FilesChanged); err != nil {
			return nil, fmt.Errorf("unmarshal files: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}
