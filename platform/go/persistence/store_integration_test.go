package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *TenantDB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("helpdesk"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	status, err := Migrate(connString, MigrateUp, 0)
	require.NoError(t, err)
	require.True(t, status.Changed)
	require.False(t, status.Dirty)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString, ApplicationName: "helpdesk-test"})
	require.NoError(t, err)
	t.Cleanup(func() { ClosePool(pool) })

	return NewTenantDB(pool)
}

func seedTenant(t *testing.T, db *TenantDB) (TenantRecord, ChannelRecord, ConnectorRecord) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	tenantID := uuid.New()
	channel := ChannelRecord{ID: uuid.New(), TenantID: tenantID, Name: "WhatsApp Principal", State: "ACTIVE"}
	queue := QueueRecord{ID: uuid.New(), TenantID: tenantID, Name: "Geral", State: "ACTIVE"}

	ten, err := NewTenantStore(db).CreateWithDefaults(ctx, TenantRecord{
		ID:            tenantID,
		Slug:          "acme-" + tenantID.String()[:8],
		DisplayName:   "Acme",
		State:         "ACTIVE",
		BasePrefix:    "test/acme/",
		ShortTenantID: tenantID.String()[:8],
		CreatedAt:     now,
	}, channel, queue)
	require.NoError(t, err)

	conn, err := NewChannelStore(db).CreateConnector(ctx, ConnectorRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ChannelID: channel.ID,
		Provider:  "GTI",
		Config:    []byte(`{"baseUrl":"https://gti.example.com","token":"t"}`),
		State:     "ACTIVE",
		CreatedAt: now,
	})
	require.NoError(t, err)

	return ten, channel, conn
}

func TestStoresAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	db := startPostgres(t)
	ctx := context.Background()
	ten, channel, conn := seedTenant(t, db)

	convs := NewConversationStore(db)
	msgs := NewMessageStore(db.Pool())

	var conv ConversationRecord
	err := convs.WithThreadLock(ctx, ten.ID, []string{"5511999@s.whatsapp.net"}, func(tx *ThreadTx) error {
		_, err := tx.FindByChat(ctx, ten.ID, conn.ID, "5511999@s.whatsapp.net")
		require.ErrorIs(t, err, ErrNotFound)

		conv, err = tx.InsertConversation(ctx, ConversationRecord{
			ID:        uuid.New(),
			TenantID:  ten.ID,
			ChannelID: channel.ID,
			Title:     "WhatsApp • 5511999",
			Kind:      "DIRECT",
			Status:    "OPEN",
			CreatedAt: time.Now().UTC(),
		}, ThreadRecord{
			ID:             uuid.New(),
			TenantID:       ten.ID,
			ConnectorID:    conn.ID,
			ExternalChatID: "5511999@s.whatsapp.net",
			ExternalUserID: "5511999@s.whatsapp.net",
		})
		return err
	})
	require.NoError(t, err)

	t.Run("thread lookups", func(t *testing.T) {
		err := convs.WithThreadLock(ctx, ten.ID, []string{"5511999@s.whatsapp.net"}, func(tx *ThreadTx) error {
			byChat, err := tx.FindByChat(ctx, ten.ID, conn.ID, "5511999@s.whatsapp.net")
			require.NoError(t, err)
			require.Equal(t, conv.ID, byChat.ConversationID)

			byUser, err := tx.FindByUser(ctx, ten.ID, "5511999@s.whatsapp.net")
			require.NoError(t, err)
			require.Equal(t, byChat.ID, byUser.ID)

			_, err = tx.FindByChat(ctx, ten.ID, conn.ID, "other@s.whatsapp.net")
			require.ErrorIs(t, err, ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("message insert bumps activity", func(t *testing.T) {
		external := "wamid.abc"
		at := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, msgs.Insert(ctx, MessageRecord{
			ID:                uuid.New(),
			TenantID:          ten.ID,
			ConversationID:    conv.ID,
			Direction:         "OUT",
			Body:              "hello",
			ExternalMessageID: &external,
			Status:            "SENT",
			CreatedAt:         at,
		}, nil))

		got, err := convs.Get(ctx, ten.ID, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastMessageAt)
		require.True(t, got.LastMessageAt.Equal(at))

		err = msgs.Insert(ctx, MessageRecord{
			ID:             uuid.New(),
			TenantID:       uuid.New(),
			ConversationID: conv.ID,
			Direction:      "OUT",
			Body:           "leak",
			Status:         "SENT",
			CreatedAt:      at,
		}, nil)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("status only moves forward", func(t *testing.T) {
		res, err := msgs.UpdateStatusIfForward(ctx, ten.ID, "wamid.abc", "READ", 3)
		require.NoError(t, err)
		require.True(t, res.Applied)
		require.Equal(t, conv.ID, res.ConversationID)

		res, err = msgs.UpdateStatusIfForward(ctx, ten.ID, "wamid.abc", "DELIVERED", 2)
		require.NoError(t, err)
		require.False(t, res.Applied)

		page, err := msgs.ListByConversation(ctx, ten.ID, conv.ID, 10, nil)
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.Equal(t, "READ", page[0].Status)

		_, err = msgs.UpdateStatusIfForward(ctx, ten.ID, "unknown", "READ", 3)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("latest thread and cascade delete", func(t *testing.T) {
		thread, connector, err := convs.LatestThread(ctx, ten.ID, conv.ID)
		require.NoError(t, err)
		require.Equal(t, conn.ID, connector.ID)
		require.Equal(t, "5511999@s.whatsapp.net", thread.ExternalChatID)

		require.NoError(t, convs.Delete(ctx, ten.ID, conv.ID))
		require.ErrorIs(t, convs.Delete(ctx, ten.ID, conv.ID), ErrNotFound)
	})

	t.Run("active connectors and expiry", func(t *testing.T) {
		active, _, err := NewChannelStore(db).ListActiveConnectors(ctx, ten.ID)
		require.NoError(t, err)
		require.Len(t, active, 1)

		past := time.Now().Add(-time.Hour)
		ten.SubscriptionExpiresAt = &past
		_, err = NewTenantStore(db).Update(ctx, ten)
		require.NoError(t, err)

		disabled, err := NewTenantStore(db).DisableExpired(ctx, time.Now())
		require.NoError(t, err)
		require.Contains(t, disabled, ten.ID)

		_, err = NewChannelStore(db).LoadActiveConnector(ctx, conn.ID)
		require.ErrorIs(t, err, ErrNotFound)
	})
}
