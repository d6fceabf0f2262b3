package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
)

func newService(t *testing.T) Service {
	t.Helper()
	return New(repo.NewMemoryRepository(), zaptest.NewLogger(t))
}

func TestCreateConnectorNormalizesConfig(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()
	tenantID := uuid.New()

	ch, err := svc.CreateChannel(ctx, tenantID, "WhatsApp Principal")
	require.NoError(t, err)

	conn, err := svc.CreateConnector(ctx, tenantID, ch.ID, CreateConnectorInput{
		Provider: "official",
		Config:   []byte(`{"phoneNumberId":"123","accessToken":"secret"}`),
	})
	require.NoError(t, err)
	require.Equal(t, channel.ProviderOfficial, conn.Provider)
	require.Equal(t, lifecycle.Active, conn.State)

	cfg, ok := conn.Config.(channel.OfficialConfig)
	require.True(t, ok)
	require.Equal(t, channel.DefaultOfficialAPIVersion, cfg.APIVersion)
	require.Equal(t, channel.DefaultGraphBaseURL, cfg.GraphBaseURL)

	list, err := svc.ListConnectors(ctx, tenantID, ch.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCreateConnectorRejects(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()
	tenantID := uuid.New()
	ch, err := svc.CreateChannel(ctx, tenantID, "Site")
	require.NoError(t, err)

	var verr *ValidationError
	_, err = svc.CreateConnector(ctx, tenantID, ch.ID, CreateConnectorInput{Provider: "telegram"})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "provider")

	_, err = svc.CreateConnector(ctx, tenantID, ch.ID, CreateConnectorInput{Provider: "GTI", Config: []byte(`{"baseUrl":"ftp://x"}`)})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "config")

	_, err = svc.CreateConnector(ctx, tenantID, uuid.New(), CreateConnectorInput{Provider: "WEBCHAT"})
	require.ErrorIs(t, err, ErrChannelNotFound)

	_, err = svc.CreateConnector(ctx, uuid.New(), ch.ID, CreateConnectorInput{Provider: "WEBCHAT"})
	require.ErrorIs(t, err, ErrChannelNotFound, "channels of other tenants are invisible")
}

func TestUpdateConnector(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()
	tenantID := uuid.New()
	ch, err := svc.CreateChannel(ctx, tenantID, "Site")
	require.NoError(t, err)
	conn, err := svc.CreateConnector(ctx, tenantID, ch.ID, CreateConnectorInput{Provider: "WEBCHAT"})
	require.NoError(t, err)

	updated, err := svc.UpdateConnector(ctx, tenantID, conn.ID, UpdateConnectorInput{
		Config: []byte(`{"allowedOrigins":["https://shop.example.com"]}`),
	})
	require.NoError(t, err)
	require.Equal(t, channel.WebChatConfig{AllowedOrigins: []string{"https://shop.example.com"}}, updated.Config)

	disabled := lifecycle.Disabled
	updated, err = svc.UpdateConnector(ctx, tenantID, conn.ID, UpdateConnectorInput{State: &disabled})
	require.NoError(t, err)
	require.Equal(t, lifecycle.Disabled, updated.State)

	var verr *ValidationError
	_, err = svc.UpdateConnector(ctx, tenantID, conn.ID, UpdateConnectorInput{Config: []byte(`{"allowedOrigins":"*"}`)})
	require.ErrorAs(t, err, &verr)

	_, err = svc.UpdateConnector(ctx, tenantID, conn.ID, UpdateConnectorInput{})
	require.ErrorAs(t, err, &verr)

	_, err = svc.UpdateConnector(ctx, tenantID, uuid.New(), UpdateConnectorInput{State: &disabled})
	require.ErrorIs(t, err, ErrConnectorNotFound)
}

func TestBulkDeleteConnectors(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()
	tenantID := uuid.New()
	ch, err := svc.CreateChannel(ctx, tenantID, "Site")
	require.NoError(t, err)

	a, err := svc.CreateConnector(ctx, tenantID, ch.ID, CreateConnectorInput{Provider: "WEBCHAT"})
	require.NoError(t, err)
	b, err := svc.CreateConnector(ctx, tenantID, ch.ID, CreateConnectorInput{Provider: "WEBCHAT"})
	require.NoError(t, err)

	deleted, err := svc.BulkDeleteConnectors(ctx, tenantID, []uuid.UUID{a.ID, a.ID, uuid.New()})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a.ID}, deleted)

	deleted, err = svc.BulkDeleteConnectors(ctx, tenantID, []uuid.UUID{a.ID})
	require.NoError(t, err)
	require.Empty(t, deleted)

	remaining, err := svc.ListConnectors(ctx, tenantID, ch.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, b.ID, remaining[0].ID)

	active := lifecycle.Active
	_, err = svc.UpdateConnector(ctx, tenantID, a.ID, UpdateConnectorInput{State: &active})
	require.ErrorIs(t, err, ErrConnectorNotFound, "deleted connectors cannot be revived")

	var verr *ValidationError
	_, err = svc.BulkDeleteConnectors(ctx, tenantID, nil)
	require.ErrorAs(t, err, &verr)
}

func TestValidationErrorAddOnZeroValue(t *testing.T) {
	t.Parallel()
	var verr ValidationError
	require.True(t, verr.empty())
	verr.add("name", "must not be empty")
	verr.add("name", "too long")
	require.False(t, verr.empty())
	require.Equal(t, []string{"must not be empty", "too long"}, verr.Fields["name"])
}
