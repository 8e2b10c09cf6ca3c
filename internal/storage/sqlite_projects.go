package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spanlight/spanlight/internal/models"
)

type sqliteProjectRepo struct {
	db *sql.DB
}

func (r *sqliteProjectRepo) Create(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (id, name, description, api_key_hash, repo_id, repo_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		project.ID, project.Name, project.Description, project.APIKeyHash,
		nullString(project.RepoID), nullString(project.RepoURL),
		project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *sqliteProjectRepo) GetByID(ctx context.Context, id string) (*models.Project, error) {
	query := `
		SELECT id, name, description, api_key_hash, repo_id, repo_url, created_at, updated_at
		FROM projects WHERE id = ?
	`
	return r.scanProject(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteProjectRepo) GetByName(ctx context.Context, name string) (*models.Project, error) {
	query := `
		SELECT id, name, description, api_key_hash, repo_id, repo_url, created_at, updated_at
		FROM projects WHERE name = ?
	`
	return r.scanProject(r.db.QueryRowContext(ctx, query, name))
}

func (r *sqliteProjectRepo) Update(ctx context.Context, project *models.Project) error {
	query := `
		UPDATE projects SET name = ?, description = ?, api_key_hash = ?,
			repo_id = ?, repo_url = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		project.Name, project.Description, project.APIKeyHash,
		nullString(project.RepoID), nullString(project.RepoURL),
		project.UpdatedAt, project.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("project not found: %s", project.ID)
	}
	return nil
}

func (r *sqliteProjectRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("project not found: %s", id)
	}
	return nil
}

func (r *sqliteProjectRepo) List(ctx context.Context) ([]*models.Project, error) {
	query := `
		SELECT id, name, description, api_key_hash, repo_id, repo_url, created_at, updated_at
		FROM projects ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project := &models.Project{}
		var description, repoID, repoURL sql.NullString
		err := rows.Scan(
			&project.ID, &project.Name, &description, &project.APIKeyHash,
			&repoID, &repoURL, &project.CreatedAt, &project.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		project.Description = description.String
		project.RepoID = repoID.String
		project.RepoURL = repoURL.String
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (r *sqliteProjectRepo) scanProject(row *sql.Row) (*models.Project, error) {
	project := &models.Project{}
	var description, repoID, repoURL sql.NullString
	err := row.Scan(
		&project.ID, &project.Name, &description, &project.APIKeyHash,
		&repoID, &repoURL, &project.CreatedAt, &project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	project.Description = description.String
	project.RepoID = repoID.String
	project.RepoURL = repoURL.String
	return project, nil
}
