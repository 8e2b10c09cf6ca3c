// Package cmd contains the CLI commands for spanctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spanlight/spanlight/internal/storage"
)

var (
	// Used for flags
	verbose bool
	output  string
	dbPath  string
)

// defaultDBPath is the default database path, can be overridden via
// the SPANLIGHT_DB_PATH env var or the --db flag.
var defaultDBPath = "/data/spanlight.db"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spanctl",
	Short: "Spanlight control tool",
	Long: `spanctl manages Spanlight projects, alert rules, and trigger
history directly against the server's database file. It is intended
for operators; day-to-day access goes through the HTTP API.

Examples:
  # List all projects
  spanctl project list

  # Create a project and capture its ingest key
  spanctl project create --name checkout-agent

  # Disable a noisy alert
  spanctl alert disable --id 550e8400-e29b-41d4-a716-446655440000

  # Inspect the latest triggers for an alert
  spanctl trigger list --alert 550e8400-e29b-41d4-a716-446655440000`,
	// Run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		// Show help by default
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if envPath := os.Getenv("SPANLIGHT_DB_PATH"); envPath != "" {
		defaultDBPath = envPath
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath, "path to the Spanlight SQLite database")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// openStore opens the server's SQLite database. The master key is
// read from the environment when present; it only guards channel
// configs, which none of the spanctl commands touch.
func openStore() (*storage.SQLiteStorage, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", dbPath)
	}

	PrintVerbose("opening database at %s", dbPath)

	store := storage.NewSQLiteStorage(dbPath, []byte(os.Getenv("SPANLIGHT_MASTER_KEY")))
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database at %s: %w", dbPath, err)
	}
	return store, nil
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}
