package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ConversationRecord mirrors a row of the conversations table.
type ConversationRecord struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ChannelID      uuid.UUID
	Title          string
	Kind           string
	Status         string
	LastMessageAt  *time.Time
	AssignedUserID *uuid.UUID
	QueueID        *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ThreadRecord mirrors a row of external_thread_map.
type ThreadRecord struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ConnectorID    uuid.UUID
	ConversationID uuid.UUID
	ExternalChatID string
	ExternalUserID string
}

// ListConversationsParams filters a tenant's inbox.
type ListConversationsParams struct {
	Status     *string
	QueueID    *uuid.UUID
	AssignedTo *uuid.UUID
	Page       int
	PageSize   int
}

// ListConversationsResult is one page of conversations plus the unpaged total.
type ListConversationsResult struct {
	Conversations []ConversationRecord
	TotalItems    int
}

// ConversationStore provides access to conversations and the external thread map.
type ConversationStore struct {
	db *TenantDB
}

func NewConversationStore(db *TenantDB) *ConversationStore {
	if db == nil {
		panic("conversation store requires db")
	}
	return &ConversationStore{db: db}
}

const (
	conversationColumns = `id, tenant_id, channel_id, title, kind, status, last_message_at, assigned_user_id, queue_id, created_at, updated_at`
	threadColumns       = `id, tenant_id, connector_id, conversation_id, external_chat_id, external_user_id`
)

func scanConversation(row pgx.Row) (ConversationRecord, error) {
	var rec ConversationRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.ChannelID, &rec.Title, &rec.Kind, &rec.Status,
		&rec.LastMessageAt, &rec.AssignedUserID, &rec.QueueID, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, mapError(err)
}

func scanThread(row pgx.Row) (ThreadRecord, error) {
	var rec ThreadRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.ConnectorID, &rec.ConversationID, &rec.ExternalChatID, &rec.ExternalUserID)
	return rec, mapError(err)
}

// ThreadTx exposes the statements thread resolution runs while it holds the
// thread advisory locks.
type ThreadTx struct {
	tx pgx.Tx
}

// WithThreadLock runs fn in a tenant transaction that holds the advisory lock for
// every (tenantID, key). Keys are the external user and, for group chats, the
// external chat, so resolutions touching the same user or the same chat queue up.
func (s *ConversationStore) WithThreadLock(ctx context.Context, tenantID uuid.UUID, keys []string, fn func(*ThreadTx) error) error {
	if len(keys) == 0 {
		return errors.New("thread lock requires at least one key")
	}
	return s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		if err := LockKeys(ctx, tx, tenantID, keys...); err != nil {
			return err
		}
		return fn(&ThreadTx{tx: tx})
	})
}

// FindByChat is the exact lookup on (tenant, connector, external chat).
func (t *ThreadTx) FindByChat(ctx context.Context, tenantID, connectorID uuid.UUID, chatID string) (ThreadRecord, error) {
	return scanThread(t.tx.QueryRow(ctx, `
		SELECT `+threadColumns+` FROM external_thread_map
		WHERE tenant_id = $1 AND connector_id = $2 AND external_chat_id = $3`, tenantID, connectorID, chatID))
}

// FindByUser is the fallback lookup on (tenant, external user). The most recently
// touched mapping wins when a user has several.
func (t *ThreadTx) FindByUser(ctx context.Context, tenantID uuid.UUID, userID string) (ThreadRecord, error) {
	return scanThread(t.tx.QueryRow(ctx, `
		SELECT `+threadColumns+` FROM external_thread_map
		WHERE tenant_id = $1 AND external_user_id = $2
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1`, tenantID, userID))
}

// Rehome points an existing mapping at another connector and chat.
func (t *ThreadTx) Rehome(ctx context.Context, threadID, connectorID uuid.UUID, chatID string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE external_thread_map SET connector_id = $2, external_chat_id = $3, updated_at = NOW()
		WHERE id = $1`, threadID, connectorID, chatID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *ThreadTx) GetConversation(ctx context.Context, tenantID, id uuid.UUID) (ConversationRecord, error) {
	return scanConversation(t.tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (t *ThreadTx) UpdateTitle(ctx context.Context, tenantID, id uuid.UUID, title string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE conversations SET title = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, title)
	return mapError(err)
}

// AssignIfUnowned sets the assignee only when none is set and reports whether it did.
func (t *ThreadTx) AssignIfUnowned(ctx context.Context, tenantID, id, userID uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE conversations SET assigned_user_id = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND assigned_user_id IS NULL`, tenantID, id, userID)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertConversation writes a conversation and its thread mapping.
func (t *ThreadTx) InsertConversation(ctx context.Context, conv ConversationRecord, thread ThreadRecord) (ConversationRecord, error) {
	created, err := scanConversation(t.tx.QueryRow(ctx, `
		INSERT INTO conversations (id, tenant_id, channel_id, title, kind, status, assigned_user_id, queue_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+conversationColumns,
		conv.ID, conv.TenantID, conv.ChannelID, conv.Title, conv.Kind, conv.Status, conv.AssignedUserID, conv.QueueID, conv.CreatedAt,
	))
	if err != nil {
		return ConversationRecord{}, fmt.Errorf("insert conversation: %w", err)
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO external_thread_map (id, tenant_id, connector_id, conversation_id, external_chat_id, external_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		thread.ID, thread.TenantID, thread.ConnectorID, created.ID, thread.ExternalChatID, thread.ExternalUserID,
	); err != nil {
		return ConversationRecord{}, fmt.Errorf("insert thread map: %w", mapError(err))
	}
	return created, nil
}

func (s *ConversationStore) Get(ctx context.Context, tenantID, id uuid.UUID) (ConversationRecord, error) {
	return scanConversation(s.db.Pool().QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// List returns conversations with the most recent activity first.
func (s *ConversationStore) List(ctx context.Context, tenantID uuid.UUID, params ListConversationsParams) (ListConversationsResult, error) {
	limit, offset := pageBounds(params.Page, params.PageSize)
	const filter = `
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::uuid IS NULL OR queue_id = $3)
		  AND ($4::uuid IS NULL OR assigned_user_id = $4)`

	var total int
	if err := s.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM conversations`+filter,
		tenantID, params.Status, params.QueueID, params.AssignedTo,
	).Scan(&total); err != nil {
		return ListConversationsResult{}, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.Pool().Query(ctx, `SELECT `+conversationColumns+` FROM conversations`+filter+`
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		LIMIT $5 OFFSET $6`,
		tenantID, params.Status, params.QueueID, params.AssignedTo, limit, offset)
	if err != nil {
		return ListConversationsResult{}, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	result := ListConversationsResult{TotalItems: total}
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			return ListConversationsResult{}, err
		}
		result.Conversations = append(result.Conversations, rec)
	}
	return result, rows.Err()
}

// Update overwrites title, status, queue and assignee.
func (s *ConversationStore) Update(ctx context.Context, rec ConversationRecord) (ConversationRecord, error) {
	return scanConversation(s.db.Pool().QueryRow(ctx, `
		UPDATE conversations
		SET title = $3, status = $4, queue_id = $5, assigned_user_id = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+conversationColumns,
		rec.TenantID, rec.ID, rec.Title, rec.Status, rec.QueueID, rec.AssignedUserID,
	))
}

// Delete removes a conversation with its messages and thread mappings.
func (s *ConversationStore) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE tenant_id = $1 AND conversation_id = $2`, tenantID, id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM external_thread_map WHERE tenant_id = $1 AND conversation_id = $2`, tenantID, id); err != nil {
			return fmt.Errorf("delete thread map: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// LatestThread returns the most recently touched mapping of a conversation with its connector.
func (s *ConversationStore) LatestThread(ctx context.Context, tenantID, conversationID uuid.UUID) (ThreadRecord, ConnectorRecord, error) {
	var thread ThreadRecord
	conn, err := scanConnector(s.db.Pool().QueryRow(ctx, `
		SELECT `+connectorColumns+`, m.id, m.external_chat_id, m.external_user_id
		FROM external_thread_map m
		JOIN connectors c ON c.id = m.connector_id
		WHERE m.tenant_id = $1 AND m.conversation_id = $2
		ORDER BY m.updated_at DESC, m.created_at DESC
		LIMIT 1`, tenantID, conversationID),
		&thread.ID, &thread.ExternalChatID, &thread.ExternalUserID,
	)
	if err != nil {
		return ThreadRecord{}, ConnectorRecord{}, err
	}
	thread.TenantID = tenantID
	thread.ConversationID = conversationID
	thread.ConnectorID = conn.ID
	return thread, conn, nil
}
