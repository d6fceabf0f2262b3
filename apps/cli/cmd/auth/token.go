package auth

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
)

// tokenCommand signs a token the API accepts when AUTH_PROVIDER=jwt, without a login round trip.
func tokenCommand() *cobra.Command {
	var (
		secret   string
		issuer   string
		ttl      time.Duration
		tenantID string
		userID   string
		email    string
		name     string
		role     string
		isAdmin  bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an HS256 agent token with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			issuerSvc, err := platformauth.NewTokenIssuer(secret, issuer, ttl)
			if err != nil {
				return fmt.Errorf("init token issuer: %w", err)
			}

			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("tenant must be a UUID: %w", err)
			}
			role = strings.ToLower(strings.TrimSpace(role))
			if isAdmin {
				role = platformauth.RoleAdmin
			}
			if role == "" {
				role = platformauth.RoleAgent
			}

			token, expiresAt, err := issuerSvc.Issue(userID, platformauth.TokenClaims{
				TenantID: tid.String(),
				Email:    email,
				Name:     name,
				Role:     role,
				IsAdmin:  role == platformauth.RoleAdmin,
			}, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret; defaults to $JWT_SECRET")
	cmd.Flags().StringVar(&issuer, "issuer", "palmyra-helpdesk", "iss claim; must match the API's JWT_ISSUER")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "tenant UUID")
	cmd.Flags().StringVar(&userID, "user-id", "", "sub claim (user UUID)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "agent", "role claim (agent or admin)")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "issue an admin token")

	_ = cmd.MarkFlagRequired("tenant-id")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}
