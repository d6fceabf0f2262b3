package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MessageRecord mirrors a row of the messages table without the raw payload.
type MessageRecord struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	ConversationID    uuid.UUID
	Direction         string
	SenderExternalID  *string
	SenderUserID      *uuid.UUID
	Body              string
	MediaType         *string
	MediaURL          *string
	ExternalMessageID *string
	Status            string
	CreatedAt         time.Time
}

// StatusUpdateResult reports what a conditional status update found.
type StatusUpdateResult struct {
	ConversationID uuid.UUID
	Applied        bool
}

// MessageStore provides access to the messages table.
type MessageStore struct {
	pool Pool
}

func NewMessageStore(pool Pool) *MessageStore {
	if pool == nil {
		panic("message store requires pool")
	}
	return &MessageStore{pool: pool}
}

const messageColumns = `id, tenant_id, conversation_id, direction, sender_external_id, sender_user_id, body,
	media_type, media_url, external_message_id, status, created_at`

func scanMessage(row pgx.Row) (MessageRecord, error) {
	var rec MessageRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.ConversationID, &rec.Direction, &rec.SenderExternalID, &rec.SenderUserID,
		&rec.Body, &rec.MediaType, &rec.MediaURL, &rec.ExternalMessageID, &rec.Status, &rec.CreatedAt)
	return rec, mapError(err)
}

// Insert appends a message and bumps the conversation's last activity in one
// statement. It returns ErrNotFound when the conversation is not the tenant's.
func (s *MessageStore) Insert(ctx context.Context, rec MessageRecord, rawPayload []byte) error {
	var touched int
	err := s.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO messages (id, tenant_id, conversation_id, direction, sender_external_id, sender_user_id, body,
				media_type, media_url, external_message_id, status, raw_payload, created_at)
			SELECT $1::uuid, $2::uuid, $3::uuid, $4::text, $5::text, $6::uuid, $7::text,
				$8::text, $9::text, $10::text, $11::text, $12::jsonb, $13::timestamptz
			WHERE EXISTS (SELECT 1 FROM conversations WHERE id = $3::uuid AND tenant_id = $2::uuid)
			RETURNING conversation_id, created_at
		), touched AS (
			UPDATE conversations c
			SET last_message_at = GREATEST(COALESCE(c.last_message_at, i.created_at), i.created_at), updated_at = NOW()
			FROM inserted i
			WHERE c.id = i.conversation_id
			RETURNING c.id
		)
		SELECT COUNT(*) FROM touched`,
		rec.ID, rec.TenantID, rec.ConversationID, rec.Direction, rec.SenderExternalID, rec.SenderUserID, rec.Body,
		rec.MediaType, rec.MediaURL, rec.ExternalMessageID, rec.Status, rawPayload, rec.CreatedAt,
	).Scan(&touched)
	if err != nil {
		return fmt.Errorf("insert message: %w", mapError(err))
	}
	if touched == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusIfForward moves the newest message with externalID to status when
// rank is above the rank of its current status. SENT=1, DELIVERED=2, READ=3, other=0.
func (s *MessageStore) UpdateStatusIfForward(ctx context.Context, tenantID uuid.UUID, externalID, status string, rank int) (StatusUpdateResult, error) {
	var result StatusUpdateResult
	err := s.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT id, conversation_id, status FROM messages
			WHERE tenant_id = $1 AND external_message_id = $2
			ORDER BY seq DESC
			LIMIT 1
		), updated AS (
			UPDATE messages m SET status = $3
			FROM target t
			WHERE m.id = t.id
			  AND (CASE t.status WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 WHEN 'READ' THEN 3 ELSE 0 END) < $4
			RETURNING m.id
		)
		SELECT t.conversation_id, EXISTS (SELECT 1 FROM updated) FROM target t`,
		tenantID, externalID, status, rank,
	).Scan(&result.ConversationID, &result.Applied)
	if err != nil {
		return StatusUpdateResult{}, mapError(err)
	}
	return result, nil
}

// ListByConversation returns up to limit messages older than before, newest first.
func (s *MessageStore) ListByConversation(ctx context.Context, tenantID, conversationID uuid.UUID, limit int, before *time.Time) ([]MessageRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE tenant_id = $1 AND conversation_id = $2 AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY seq DESC
		LIMIT $4`, tenantID, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
