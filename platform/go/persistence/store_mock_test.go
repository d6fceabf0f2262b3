package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestBulkDeleteConnectorsSkipsUnchanged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID := uuid.New()
	first, second := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config`).WithArgs(tenantID.String()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`UPDATE connectors SET state = 'DELETED'`).
		WithArgs(tenantID, first.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE connectors SET state = 'DELETED'`).
		WithArgs(tenantID, second.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	store := NewChannelStore(NewTenantDB(mock))
	deleted, err := store.BulkDeleteConnectors(context.Background(), tenantID, []uuid.UUID{first, second})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{first}, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkDeleteConnectorsRollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID := uuid.New()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config`).WithArgs(tenantID.String()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`UPDATE connectors`).WithArgs(tenantID, id.String()).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = NewChannelStore(NewTenantDB(mock)).BulkDeleteConnectors(context.Background(), tenantID, []uuid.UUID{id})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusIfForward(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID := uuid.New()
	convID := uuid.New()

	mock.ExpectQuery(`WITH target AS`).
		WithArgs(tenantID, "wamid.1", "READ", 3).
		WillReturnRows(pgxmock.NewRows([]string{"conversation_id", "exists"}).AddRow(convID, true))

	res, err := NewMessageStore(mock).UpdateStatusIfForward(context.Background(), tenantID, "wamid.1", "READ", 3)
	require.NoError(t, err)
	require.Equal(t, convID, res.ConversationID)
	require.True(t, res.Applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusIfForwardUnknownMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID := uuid.New()
	mock.ExpectQuery(`WITH target AS`).
		WithArgs(tenantID, "missing", "DELIVERED", 2).
		WillReturnRows(pgxmock.NewRows([]string{"conversation_id", "exists"}))

	_, err = NewMessageStore(mock).UpdateStatusIfForward(context.Background(), tenantID, "missing", "DELIVERED", 2)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageInsertForeignConversation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := MessageRecord{ID: uuid.New(), TenantID: uuid.New(), ConversationID: uuid.New(), Direction: "OUT", Body: "hi", Status: "SENT"}
	mock.ExpectQuery(`WITH inserted AS`).
		WithArgs(rec.ID, rec.TenantID, rec.ConversationID, rec.Direction, rec.SenderExternalID, rec.SenderUserID, rec.Body,
			rec.MediaType, rec.MediaURL, rec.ExternalMessageID, rec.Status, []byte(nil), rec.CreatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	err = NewMessageStore(mock).Insert(context.Background(), rec, nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErrorConflictCarriesConstraint(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: "23505", ConstraintName: "users_tenant_id_email_key"})
	require.ErrorIs(t, err, ErrConflict)
	require.Contains(t, err.Error(), "users_tenant_id_email_key")
}
