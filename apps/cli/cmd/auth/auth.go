package auth

import "github.com/spf13/cobra"

// Command groups authentication helpers (dev tokens, signed agent tokens).
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication utilities",
		Long:  "Authentication utilities: unsigned dev tokens for AUTH_PROVIDER=dev and HS256 tokens for AUTH_PROVIDER=jwt.",
	}

	cmd.AddCommand(devTokenCommand())
	cmd.AddCommand(tokenCommand())

	return cmd
}
