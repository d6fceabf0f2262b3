package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// MemoryRepository keeps messages in insertion order. It mirrors the SQL store's
// rules: inserts need a known conversation and status only moves up in rank.
type MemoryRepository struct {
	mu       sync.RWMutex
	messages []persistence.MessageRecord
	raw      map[uuid.UUID][]byte

	// ConversationExists reports whether a conversation belongs to the tenant.
	// Nil accepts every conversation.
	ConversationExists func(tenantID, conversationID uuid.UUID) bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{raw: make(map[uuid.UUID][]byte)}
}

func (r *MemoryRepository) Insert(ctx context.Context, rec persistence.MessageRecord, rawPayload []byte) error {
	if r.ConversationExists != nil && !r.ConversationExists(rec.TenantID, rec.ConversationID) {
		return persistence.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, rec)
	if rawPayload != nil {
		r.raw[rec.ID] = append([]byte(nil), rawPayload...)
	}
	return nil
}

func (r *MemoryRepository) UpdateStatusIfForward(ctx context.Context, tenantID uuid.UUID, externalID, status string, rank int) (persistence.StatusUpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.messages) - 1; i >= 0; i-- {
		m := &r.messages[i]
		if m.TenantID != tenantID || m.ExternalMessageID == nil || *m.ExternalMessageID != externalID {
			continue
		}
		applied := channel.DeliveryStatus(m.Status).Rank() < rank
		if applied {
			m.Status = status
		}
		return persistence.StatusUpdateResult{ConversationID: m.ConversationID, Applied: applied}, nil
	}
	return persistence.StatusUpdateResult{}, persistence.ErrNotFound
}

func (r *MemoryRepository) ListByConversation(ctx context.Context, tenantID, conversationID uuid.UUID, limit int, before *time.Time) ([]persistence.MessageRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []persistence.MessageRecord
	for i := len(r.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.messages[i]
		if m.TenantID != tenantID || m.ConversationID != conversationID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// RawPayload returns the stored vendor payload of a message.
func (r *MemoryRepository) RawPayload(id uuid.UUID) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw[id]
}

// Count returns the number of messages stored for a conversation.
func (r *MemoryRepository) Count(conversationID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n
}

var _ Repository = (*MemoryRepository)(nil)
