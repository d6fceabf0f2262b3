package tenantcmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/provisioning"
	"github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/service"
	usersrepo "github.com/zenGate-Global/palmyra-helpdesk/domains/users/be/repo"
	usersservice "github.com/zenGate-Global/palmyra-helpdesk/domains/users/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// Command groups tenant-related helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant utilities (create/provision)",
	}

	cmd.AddCommand(createCommand())
	return cmd
}

func createCommand() *cobra.Command {
	var (
		databaseURL   string
		envKey        string
		tenantSlug    string
		tenantName    string
		provider      string
		expiresIn     time.Duration
		storageDir    string
		adminEmail    string
		adminName     string
		adminPassword string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant with its default channel and queue, then seed an admin agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL, ApplicationName: "helpdesk-cli"})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			tenantStore := persistence.NewTenantStore(persistence.NewTenantDB(pool))
			tenantRepo := repo.NewPostgresRepository(tenantStore)

			var deps service.ProvisioningDeps
			if strings.TrimSpace(storageDir) != "" {
				deps.Storage = provisioning.NewLocalStorageProvisioner(storageDir)
			}
			svc := service.New(tenantRepo, envKey, deps, zap.NewNop())

			input := service.CreateInput{
				Slug:        tenantSlug,
				DisplayName: tenantName,
			}
			if provider != "" {
				input.DefaultProvider = &provider
			}
			if expiresIn > 0 {
				expiresAt := time.Now().UTC().Add(expiresIn)
				input.SubscriptionExpiresAt = &expiresAt
			}

			t, err := svc.Create(ctx, input)
			switch {
			case errors.Is(err, service.ErrConflictSlug):
				existing, getErr := svc.GetBySlug(ctx, tenantSlug)
				if getErr != nil {
					return fmt.Errorf("tenant exists but could not fetch: %w", getErr)
				}
				t = existing
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s already exists; seeding admin only.\n", t.Slug)
			case err != nil:
				return fmt.Errorf("create tenant: %w", err)
			}

			if adminEmail != "" {
				users := usersservice.New(usersrepo.NewPostgresRepository(persistence.NewUserStore(pool)), tenantStore, nil, zap.NewNop())
				u, err := users.Create(ctx, t.ID, usersservice.CreateInput{
					Email:    adminEmail,
					FullName: adminName,
					Role:     string(usersservice.RoleAdmin),
					Password: adminPassword,
				})
				switch {
				case errors.Is(err, usersservice.ErrConflict):
					fmt.Fprintf(cmd.OutOrStdout(), "Admin %s already exists.\n", adminEmail)
				case err != nil:
					return fmt.Errorf("seed tenant admin user: %w", err)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Admin agent: %s (%s)\n", u.Email, u.ID)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Tenant bootstrap complete. Tenant: %s (%s) prefix=%s\n", t.Slug, t.ID, t.BasePrefix)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string; defaults to $DATABASE_URL")
	c.Flags().StringVar(&envKey, "env-key", "dev", "Environment key prefix (e.g. dev, stg, prod)")
	c.Flags().StringVar(&tenantSlug, "tenant-slug", "", "Slug for tenant to create")
	c.Flags().StringVar(&tenantName, "tenant-name", "", "Display name for tenant")
	c.Flags().StringVar(&provider, "provider", "", "Default provider (GTI, OFFICIAL or WEBCHAT)")
	c.Flags().DurationVar(&expiresIn, "subscription", 0, "Subscription length from now (e.g. 720h); 0 means no expiry")
	c.Flags().StringVar(&storageDir, "storage-dir", "", "Provision the media prefix under this local directory")
	c.Flags().StringVar(&adminEmail, "admin-email", "", "Tenant admin agent email")
	c.Flags().StringVar(&adminName, "admin-full-name", "", "Tenant admin agent full name")
	c.Flags().StringVar(&adminPassword, "admin-password", "", "Tenant admin agent password")

	_ = c.MarkFlagRequired("tenant-slug")

	return c
}
