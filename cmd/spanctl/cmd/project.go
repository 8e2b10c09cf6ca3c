package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spanlight/spanlight/internal/api/auth"
	"github.com/spanlight/spanlight/internal/api/projects"
	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

var (
	projectName    string
	projectID      string
	projectDesc    string
	projectRepoID  string
	projectRepoURL string
	projectForce   bool
)

// projectCmd represents the project command group
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Project management commands",
	Long: `Commands for managing Spanlight projects.

Projects scope spans, alerts, and notification channels. Each project
carries one ingest API key; the key is printed once at creation and
on rotation, and only its hash is stored.

Examples:
  # List all projects
  spanctl project list

  # Create a new project
  spanctl project create --name checkout-agent --description "Checkout flow"

  # Link the repository used for root-cause correlation
  spanctl project link-repo --name checkout-agent --repo-id acme/checkout

  # Rotate a leaked ingest key
  spanctl project rotate-key --name checkout-agent`,
}

// projectListCmd lists all projects
var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	Long: `List all projects in the database.

Displays project ID, name, description, linked repository, and
creation date.

Example:
  spanctl project list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		list, err := store.Projects().List(ctx)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No projects found.")
			return nil
		}

		// Print header
		fmt.Printf("\n%-36s  %-20s  %-26s  %-20s  %s\n",
			"ID", "NAME", "DESCRIPTION", "REPO", "CREATED")
		fmt.Println(strings.Repeat("-", 120))

		for _, p := range list {
			repo := p.RepoID
			if repo == "" {
				repo = "-"
			}
			fmt.Printf("%-36s  %-20s  %-26s  %-20s  %s\n",
				p.ID,
				truncate(p.Name, 20),
				truncate(p.Description, 26),
				truncate(repo, 20),
				p.CreatedAt.Format("2006-01-02 15:04"),
			)
		}
		fmt.Printf("\nTotal: %d project(s)\n", len(list))

		return nil
	},
}

// projectCreateCmd creates a new project
var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new project",
	Long: `Create a new project and generate its ingest API key.

The key is printed exactly once. Only its hash is stored, so a lost
key can only be replaced with rotate-key.

Example:
  spanctl project create --name checkout-agent --description "Checkout flow"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(projectName) == "" {
			return fmt.Errorf("--name is required")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		// Check name uniqueness
		existing, err := store.Projects().GetByName(ctx, strings.TrimSpace(projectName))
		if err != nil {
			return fmt.Errorf("check existing project: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("project name already exists: %s", projectName)
		}

		apiKey, keyHash, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("generate api key: %w", err)
		}

		now := time.Now()
		project := &models.Project{
			ID:          uuid.New().String(),
			Name:        strings.TrimSpace(projectName),
			Description: strings.TrimSpace(projectDesc),
			APIKeyHash:  keyHash,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := store.Projects().Create(ctx, project); err != nil {
			return fmt.Errorf("create project: %w", err)
		}

		fmt.Printf("\nProject created successfully:\n")
		fmt.Printf("  ID:          %s\n", project.ID)
		fmt.Printf("  Name:        %s\n", project.Name)
		fmt.Printf("  Description: %s\n", project.Description)
		fmt.Printf("\nAPI key (store it now, it cannot be shown again):\n")
		fmt.Printf("  %s\n", apiKey)

		return nil
	},
}

// projectShowCmd shows project details
var projectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show project details",
	Long: `Show detailed information about a project.

You can identify the project by either --name or --id.

Examples:
  spanctl project show --name checkout-agent
  spanctl project show --id 550e8400-e29b-41d4-a716-446655440000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		project, err := resolveProject(ctx, store.Projects(), projectName, projectID)
		if err != nil {
			return err
		}

		repo := project.RepoID
		if repo == "" {
			repo = "(none)"
		}

		fmt.Println("\nProject Details:")
		fmt.Printf("  ID:          %s\n", project.ID)
		fmt.Printf("  Name:        %s\n", project.Name)
		fmt.Printf("  Description: %s\n", project.Description)
		fmt.Printf("  Repository:  %s\n", repo)
		if project.RepoURL != "" {
			fmt.Printf("  Repo URL:    %s\n", project.RepoURL)
		}
		fmt.Printf("  Created:     %s\n", project.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Updated:     %s\n", project.UpdatedAt.Format("2006-01-02 15:04:05"))

		return nil
	},
}

// projectLinkRepoCmd links or unlinks the correlation repository
var projectLinkRepoCmd = &cobra.Command{
	Use:   "link-repo",
	Short: "Link a repository for root-cause correlation",
	Long: `Link a repository to a project. Correlation matches firing alerts
against recent commits and merged pull requests of the linked repo.

Passing an empty --repo-id unlinks the repository.

Examples:
  spanctl project link-repo --name checkout-agent --repo-id acme/checkout --repo-url https://github.com/acme/checkout
  spanctl project link-repo --name checkout-agent --repo-id ""`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		// An explicit empty --repo-id unlinks; a missing flag is an error.
		if !cmd.Flags().Changed("repo-id") {
			return fmt.Errorf("--repo-id is required (pass an empty value to unlink)")
		}

		ctx := context.Background()
		project, err := resolveProject(ctx, store.Projects(), projectName, projectID)
		if err != nil {
			return err
		}

		repoID := strings.TrimSpace(projectRepoID)
		repoURL := strings.TrimSpace(projectRepoURL)
		if repoURL != "" {
			if err := projects.ValidateRepoURL(repoURL); err != nil {
				return err
			}
		}

		if repoID == "" {
			// Unlink drops the URL too.
			project.RepoID = ""
			project.RepoURL = ""
		} else {
			project.RepoID = repoID
			project.RepoURL = repoURL
		}
		project.UpdatedAt = time.Now()

		if err := store.Projects().Update(ctx, project); err != nil {
			return fmt.Errorf("update project: %w", err)
		}

		if project.RepoID == "" {
			fmt.Printf("Repository unlinked from project '%s'\n", project.Name)
		} else {
			fmt.Printf("Repository %s linked to project '%s'\n", project.RepoID, project.Name)
		}
		return nil
	},
}

// projectRotateKeyCmd replaces a project's ingest API key
var projectRotateKeyCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Rotate a project's ingest API key",
	Long: `Generate a replacement ingest API key for a project.

The old key stops working immediately. The new key is printed exactly
once; when stdout is piped, only the key is printed so scripts can
capture it.

Examples:
  spanctl project rotate-key --name checkout-agent
  spanctl project rotate-key --name checkout-agent | vault kv put secret/spanlight key=-`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		project, err := resolveProject(ctx, store.Projects(), projectName, projectID)
		if err != nil {
			return err
		}

		apiKey, keyHash, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("generate api key: %w", err)
		}

		project.APIKeyHash = keyHash
		project.UpdatedAt = time.Now()

		if err := store.Projects().Update(ctx, project); err != nil {
			return fmt.Errorf("update project: %w", err)
		}

		// Bare key on a pipe, human-readable block on a terminal.
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Println(apiKey)
			return nil
		}

		fmt.Printf("\nAPI key rotated for project '%s'.\n", project.Name)
		fmt.Printf("\nNew key (store it now, it cannot be shown again):\n")
		fmt.Printf("  %s\n", apiKey)

		return nil
	},
}

// projectDeleteCmd deletes a project
var projectDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a project",
	Long: `Delete a project from the database.

Alerts, channels, and trigger history tied to the project are removed
with it. Spans already stored remain until retention expires.

Examples:
  spanctl project delete --name checkout-agent
  spanctl project delete --name checkout-agent --force  # skip confirmation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		project, err := resolveProject(ctx, store.Projects(), projectName, projectID)
		if err != nil {
			return err
		}

		if !projectForce {
			fmt.Printf("Delete project '%s'? [y/N]: ", project.Name)
			var confirm string
			fmt.Scanln(&confirm)
			if !strings.EqualFold(confirm, "y") {
				fmt.Println("Canceled.")
				return nil
			}
		}

		if err := store.Projects().Delete(ctx, project.ID); err != nil {
			return fmt.Errorf("delete project: %w", err)
		}

		fmt.Printf("Project deleted: %s\n", project.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectLinkRepoCmd)
	projectCmd.AddCommand(projectRotateKeyCmd)
	projectCmd.AddCommand(projectDeleteCmd)

	// Create flags
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectCreateCmd.Flags().StringVar(&projectDesc, "description", "", "project description")
	projectCreateCmd.MarkFlagRequired("name")

	// Show flags
	projectShowCmd.Flags().StringVar(&projectName, "name", "", "project name")
	projectShowCmd.Flags().StringVar(&projectID, "id", "", "project ID")

	// Link-repo flags
	projectLinkRepoCmd.Flags().StringVar(&projectName, "name", "", "project name")
	projectLinkRepoCmd.Flags().StringVar(&projectID, "id", "", "project ID")
	projectLinkRepoCmd.Flags().StringVar(&projectRepoID, "repo-id", "", "repository identifier, e.g. acme/checkout (empty unlinks)")
	projectLinkRepoCmd.Flags().StringVar(&projectRepoURL, "repo-url", "", "repository browse URL")

	// Rotate-key flags
	projectRotateKeyCmd.Flags().StringVar(&projectName, "name", "", "project name")
	projectRotateKeyCmd.Flags().StringVar(&projectID, "id", "", "project ID")

	// Delete flags
	projectDeleteCmd.Flags().StringVar(&projectName, "name", "", "project name")
	projectDeleteCmd.Flags().StringVar(&projectID, "id", "", "project ID")
	projectDeleteCmd.Flags().BoolVar(&projectForce, "force", false, "skip confirmation prompt")
}

// resolveProject finds a project by name or ID (ID takes precedence).
func resolveProject(ctx context.Context, repo storage.ProjectRepository, name, id string) (*models.Project, error) {
	if id == "" && name == "" {
		return nil, fmt.Errorf("specify --name or --id")
	}
	if id != "" {
		p, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get project: %w", err)
		}
		if p == nil {
			return nil, fmt.Errorf("project not found: %s", id)
		}
		return p, nil
	}
	p, err := repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("project not found: %s", name)
	}
	return p, nil
}
