package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// Repository defines the persistence operations required by the messages service.
type Repository interface {
	Insert(ctx context.Context, rec persistence.MessageRecord, rawPayload []byte) error
	UpdateStatusIfForward(ctx context.Context, tenantID uuid.UUID, externalID, status string, rank int) (persistence.StatusUpdateResult, error)
	ListByConversation(ctx context.Context, tenantID, conversationID uuid.UUID, limit int, before *time.Time) ([]persistence.MessageRecord, error)
}

type postgresRepository struct {
	store *persistence.MessageStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.MessageStore) Repository {
	if store == nil {
		panic("message store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Insert(ctx context.Context, rec persistence.MessageRecord, rawPayload []byte) error {
	return r.store.Insert(ctx, rec, rawPayload)
}

func (r *postgresRepository) UpdateStatusIfForward(ctx context.Context, tenantID uuid.UUID, externalID, status string, rank int) (persistence.StatusUpdateResult, error) {
	return r.store.UpdateStatusIfForward(ctx, tenantID, externalID, status, rank)
}

func (r *postgresRepository) ListByConversation(ctx context.Context, tenantID, conversationID uuid.UUID, limit int, before *time.Time) ([]persistence.MessageRecord, error) {
	return r.store.ListByConversation(ctx, tenantID, conversationID, limit, before)
}
