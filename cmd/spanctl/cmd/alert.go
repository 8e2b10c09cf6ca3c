package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

var (
	alertID      string
	alertProject string
)

// alertCmd represents the alert command group
var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Alert rule commands",
	Long: `Commands for inspecting and toggling Spanlight alert rules.

Rule definitions are managed through the HTTP API; spanctl covers the
operational cases of listing rules and flipping them on or off without
a token.

Examples:
  # List all alert rules
  spanctl alert list

  # List rules for one project
  spanctl alert list --project 550e8400-e29b-41d4-a716-446655440000

  # Silence a rule during a migration
  spanctl alert disable --id 6ba7b810-9dad-11d1-80b4-00c04fd430c8`,
}

// alertListCmd lists alert rules
var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert rules",
	Long: `List alert rules, optionally filtered to one project.

Examples:
  spanctl alert list
  spanctl alert list --project 550e8400-e29b-41d4-a716-446655440000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		var alerts []*models.Alert
		if alertProject != "" {
			alerts, err = store.Alerts().ListByProject(ctx, alertProject)
		} else {
			alerts, err = store.Alerts().List(ctx)
		}
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}

		if len(alerts) == 0 {
			fmt.Println("No alerts found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-20s  %-12s  %-9s  %-8s  %-8s  %s\n",
			"ID", "NAME", "TYPE", "STATE", "SEVERITY", "ENABLED", "LAST TRIGGERED")
		fmt.Println(strings.Repeat("-", 120))

		for _, a := range alerts {
			enabled := "no"
			if a.Enabled {
				enabled = "yes"
			}
			lastTriggered := "never"
			if a.LastTriggeredAt != nil {
				lastTriggered = a.LastTriggeredAt.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-36s  %-20s  %-12s  %-9s  %-8s  %-8s  %s\n",
				a.ID,
				truncate(a.Name, 20),
				a.Type,
				a.State,
				a.Severity,
				enabled,
				lastTriggered,
			)
		}
		fmt.Printf("\nTotal: %d alert(s)\n", len(alerts))

		return nil
	},
}

// alertShowCmd shows alert rule details
var alertShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show alert rule details",
	Long: `Show the full definition and lifecycle state of one alert rule.

Example:
  spanctl alert show --id 6ba7b810-9dad-11d1-80b4-00c04fd430c8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		alert, err := loadAlert(ctx, store.Alerts(), alertID)
		if err != nil {
			return err
		}

		pendingMins, cooldownMins := alert.Severity.Defaults()
		if alert.PendingMins > 0 {
			pendingMins = alert.PendingMins
		}
		if alert.CooldownMins > 0 {
			cooldownMins = alert.CooldownMins
		}

		enabled := "no"
		if alert.Enabled {
			enabled = "yes"
		}

		fmt.Println("\nAlert Details:")
		fmt.Printf("  ID:          %s\n", alert.ID)
		fmt.Printf("  Name:        %s\n", alert.Name)
		if alert.Description != "" {
			fmt.Printf("  Description: %s\n", alert.Description)
		}
		fmt.Printf("  Project:     %s\n", alert.ProjectID)
		fmt.Printf("  Condition:   %s %s %g over %dm\n",
			alert.Type, alert.Operator, alert.Threshold, alert.WindowMins)
		fmt.Printf("  Severity:    %s (pending %dm, cooldown %dm)\n",
			alert.Severity, pendingMins, cooldownMins)
		fmt.Printf("  Channels:    %d\n", len(alert.Notify))
		fmt.Printf("  Enabled:     %s\n", enabled)
		fmt.Printf("  State:       %s (since %s)\n",
			alert.State, alert.StateChangedAt.Format("2006-01-02 15:04:05"))
		if alert.LastTriggeredAt != nil {
			fmt.Printf("  Last fired:  %s\n", alert.LastTriggeredAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("  Created:     %s\n", alert.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Updated:     %s\n", alert.UpdatedAt.Format("2006-01-02 15:04:05"))

		return nil
	},
}

// alertEnableCmd enables an alert rule
var alertEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable an alert rule",
	Long: `Enable an alert rule so the evaluation loop picks it up on its
next refresh.

Example:
  spanctl alert enable --id 6ba7b810-9dad-11d1-80b4-00c04fd430c8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAlertEnabled(alertID, true)
	},
}

// alertDisableCmd disables an alert rule
var alertDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable an alert rule",
	Long: `Disable an alert rule. The evaluation loop drops it on its next
refresh; its state freezes where it is until re-enabled.

Example:
  spanctl alert disable --id 6ba7b810-9dad-11d1-80b4-00c04fd430c8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAlertEnabled(alertID, false)
	},
}

func init() {
	rootCmd.AddCommand(alertCmd)
	alertCmd.AddCommand(alertListCmd)
	alertCmd.AddCommand(alertShowCmd)
	alertCmd.AddCommand(alertEnableCmd)
	alertCmd.AddCommand(alertDisableCmd)

	// List flags
	alertListCmd.Flags().StringVar(&alertProject, "project", "", "filter by project ID")

	// Show flags
	alertShowCmd.Flags().StringVar(&alertID, "id", "", "alert ID (required)")
	alertShowCmd.MarkFlagRequired("id")

	// Enable flags
	alertEnableCmd.Flags().StringVar(&alertID, "id", "", "alert ID (required)")
	alertEnableCmd.MarkFlagRequired("id")

	// Disable flags
	alertDisableCmd.Flags().StringVar(&alertID, "id", "", "alert ID (required)")
	alertDisableCmd.MarkFlagRequired("id")
}

// loadAlert fetches an alert by ID. A nil result is reported as an error.
func loadAlert(ctx context.Context, repo storage.AlertRepository, id string) (*models.Alert, error) {
	alert, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if alert == nil {
		return nil, fmt.Errorf("alert not found: %s", id)
	}
	return alert, nil
}

// setAlertEnabled flips the enabled flag of one alert rule.
func setAlertEnabled(id string, enabled bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	alert, err := loadAlert(ctx, store.Alerts(), id)
	if err != nil {
		return err
	}

	if err := store.Alerts().SetEnabled(ctx, alert.ID, enabled); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}

	if enabled {
		fmt.Printf("Alert enabled: %s\n", alert.Name)
	} else {
		fmt.Printf("Alert disabled: %s\n", alert.Name)
	}
	return nil
}
