package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the helpdesk admin CLI. Subcommands (migrate, tenant, etc.) are attached here.
var rootCmd = &cobra.Command{
	Use:           "helpdesk",
	Short:         "Palmyra helpdesk admin CLI",
	Long:          "Administrative utilities for the helpdesk (migrations, tenants, connectors, tokens).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
