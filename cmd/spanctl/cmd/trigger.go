package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spanlight/spanlight/internal/models"
)

var (
	triggerID      string
	triggerAlert   string
	triggerProject string
	triggerLimit   int
)

// triggerCmd represents the trigger command group
var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger history commands",
	Long: `Commands for inspecting alert trigger history.

A trigger records one state transition of an alert: the metric value
that caused it and, for firing transitions, the investigation results
attached after analysis and correlation finished.

Examples:
  # Latest triggers across all alerts
  spanctl trigger list

  # History for one alert
  spanctl trigger list --alert 6ba7b810-9dad-11d1-80b4-00c04fd430c8

  # Full investigation output for one trigger
  spanctl trigger show --id 7c9e6679-7425-40de-944b-e07fc1f90ae7`,
}

// triggerListCmd lists triggers
var triggerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List triggers",
	Long: `List triggers, newest first, optionally filtered by alert or
project.

Examples:
  spanctl trigger list --limit 50
  spanctl trigger list --alert 6ba7b810-9dad-11d1-80b4-00c04fd430c8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if triggerAlert != "" && triggerProject != "" {
			return fmt.Errorf("specify either --alert or --project, not both")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		var (
			triggers []*models.AlertTrigger
			total    int64
		)
		switch {
		case triggerAlert != "":
			triggers, total, err = store.Triggers().ListByAlert(ctx, triggerAlert, triggerLimit, 0)
		case triggerProject != "":
			triggers, total, err = store.Triggers().ListByProject(ctx, triggerProject, triggerLimit, 0)
		default:
			triggers, total, err = store.Triggers().List(ctx, triggerLimit, 0)
		}
		if err != nil {
			return fmt.Errorf("list triggers: %w", err)
		}

		if len(triggers) == 0 {
			fmt.Println("No triggers found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-20s  %-9s  %-8s  %10s  %10s  %s\n",
			"ID", "ALERT", "STATE", "SEVERITY", "VALUE", "THRESHOLD", "TRIGGERED")
		fmt.Println(strings.Repeat("-", 120))

		for _, tr := range triggers {
			fmt.Printf("%-36s  %-20s  %-9s  %-8s  %10.2f  %10.2f  %s\n",
				tr.ID,
				truncate(tr.AlertName, 20),
				tr.State,
				tr.Severity,
				tr.Value,
				tr.Threshold,
				tr.TriggeredAt.Format("2006-01-02 15:04:05"),
			)
		}
		fmt.Printf("\nShowing %d of %d trigger(s)\n", len(triggers), total)

		return nil
	},
}

// triggerShowCmd shows one trigger with its investigation output
var triggerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show trigger details",
	Long: `Show one trigger, including the trace analysis and code change
correlation attached by the investigation, when one ran.

Example:
  spanctl trigger show --id 7c9e6679-7425-40de-944b-e07fc1f90ae7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		trigger, err := store.Triggers().GetByID(ctx, triggerID)
		if err != nil {
			return fmt.Errorf("get trigger: %w", err)
		}
		if trigger == nil {
			return fmt.Errorf("trigger not found: %s", triggerID)
		}

		fmt.Println("\nTrigger Details:")
		fmt.Printf("  ID:        %s\n", trigger.ID)
		fmt.Printf("  Alert:     %s (%s)\n", trigger.AlertName, trigger.AlertID)
		fmt.Printf("  Project:   %s\n", trigger.ProjectID)
		fmt.Printf("  State:     %s\n", trigger.State)
		fmt.Printf("  Severity:  %s\n", trigger.Severity)
		fmt.Printf("  Value:     %.2f (threshold %.2f)\n", trigger.Value, trigger.Threshold)
		fmt.Printf("  Channels:  %d notified\n", trigger.ChannelCount)
		fmt.Printf("  Triggered: %s\n", trigger.TriggeredAt.Format("2006-01-02 15:04:05"))

		if trigger.Analysis == "" && trigger.Correlation == "" {
			fmt.Println("\nNo investigation recorded.")
			return nil
		}

		if trigger.Analysis != "" {
			fmt.Println("\nTrace Analysis:")
			fmt.Println(indentJSON(trigger.Analysis))
		}
		if trigger.Correlation != "" {
			fmt.Println("\nCode Change Correlation:")
			fmt.Println(indentJSON(trigger.Correlation))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.AddCommand(triggerListCmd)
	triggerCmd.AddCommand(triggerShowCmd)

	// List flags
	triggerListCmd.Flags().StringVar(&triggerAlert, "alert", "", "filter by alert ID")
	triggerListCmd.Flags().StringVar(&triggerProject, "project", "", "filter by project ID")
	triggerListCmd.Flags().IntVar(&triggerLimit, "limit", 20, "maximum triggers to show")

	// Show flags
	triggerShowCmd.Flags().StringVar(&triggerID, "id", "", "trigger ID (required)")
	triggerShowCmd.MarkFlagRequired("id")
}

// indentJSON pretty-prints stored investigation JSON. Anything that
// fails to parse is shown as-is.
func indentJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "  ", "  "); err != nil {
		return "  " + s
	}
	return "  " + buf.String()
}
