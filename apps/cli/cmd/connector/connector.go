package connectorcmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/service"
	tenantsservice "github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// Command groups connector helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Connector utilities",
	}

	cmd.AddCommand(addCommand())
	return cmd
}

func addCommand() *cobra.Command {
	var (
		databaseURL string
		tenantID    string
		channelID   string
		provider    string
		config      string
		configFile  string
	)

	c := &cobra.Command{
		Use:   "add",
		Short: "Attach a provider connector to a channel (the tenant's default channel unless --channel-id is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}

			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("tenant-id must be a UUID: %w", err)
			}

			raw := []byte(config)
			if configFile != "" {
				raw, err = os.ReadFile(configFile)
				if err != nil {
					return fmt.Errorf("read config file: %w", err)
				}
			}
			if len(raw) == 0 {
				raw = []byte(`{}`)
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL, ApplicationName: "helpdesk-cli"})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			svc := service.New(repo.NewPostgresRepository(persistence.NewChannelStore(persistence.NewTenantDB(pool))), zap.NewNop())

			target, err := resolveChannel(ctx, svc, tid, channelID)
			if err != nil {
				return err
			}

			conn, err := svc.CreateConnector(ctx, tid, target, service.CreateConnectorInput{
				Provider: provider,
				Config:   raw,
			})
			if err != nil {
				var validationErr *service.ValidationError
				if errors.As(err, &validationErr) {
					return fmt.Errorf("invalid connector: %v", validationErr.Fields)
				}
				return fmt.Errorf("create connector: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Connector %s (%s) on channel %s\n", conn.ID, conn.Provider, conn.ChannelID)
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook URL: /webhooks/%s/%s\n", conn.Provider.RouteKey(), conn.ID)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string; defaults to $DATABASE_URL")
	c.Flags().StringVar(&tenantID, "tenant-id", "", "Tenant UUID")
	c.Flags().StringVar(&channelID, "channel-id", "", "Channel UUID; defaults to the tenant's default channel")
	c.Flags().StringVar(&provider, "provider", "", "Provider (GTI, OFFICIAL or WEBCHAT)")
	c.Flags().StringVar(&config, "config", "", "Provider config as JSON")
	c.Flags().StringVar(&configFile, "config-file", "", "Read the provider config from a JSON file")

	_ = c.MarkFlagRequired("tenant-id")
	_ = c.MarkFlagRequired("provider")

	return c
}

func resolveChannel(ctx context.Context, svc service.Service, tenantID uuid.UUID, channelID string) (uuid.UUID, error) {
	if channelID != "" {
		id, err := uuid.Parse(channelID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("channel-id must be a UUID: %w", err)
		}
		return id, nil
	}

	channels, err := svc.ListChannels(ctx, tenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list channels: %w", err)
	}
	if len(channels) == 0 {
		return uuid.Nil, errors.New("tenant has no channels; pass --channel-id")
	}
	for _, ch := range channels {
		if ch.Name == tenantsservice.DefaultChannelName {
			return ch.ID, nil
		}
	}
	return channels[0].ID, nil
}
