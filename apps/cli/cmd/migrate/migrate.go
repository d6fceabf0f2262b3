package migratecmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// Command groups the schema migration helpers.
func Command() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the embedded database migrations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string; defaults to $DATABASE_URL")

	cmd.AddCommand(runCommand("up", persistence.MigrateUp, &databaseURL))
	cmd.AddCommand(runCommand("down", persistence.MigrateDown, &databaseURL))
	cmd.AddCommand(versionCommand(&databaseURL))
	return cmd
}

func runCommand(use string, direction persistence.MigrateDirection, databaseURL *string) *cobra.Command {
	var steps int

	c := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Migrate %s (all the way unless --steps is set)", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := persistence.Migrate(*databaseURL, direction, steps)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			printStatus(cmd, status)
			return nil
		},
	}
	c.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply; 0 means all")
	return c
}

func versionCommand(databaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := persistence.MigrationVersion(*databaseURL)
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			printStatus(cmd, status)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, status persistence.MigrationStatus) {
	fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t changed=%t\n", status.Version, status.Dirty, status.Changed)
}
