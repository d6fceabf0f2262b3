package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// Repository defines the persistence operations required by the queues service.
type Repository interface {
	Create(ctx context.Context, rec persistence.QueueRecord) (persistence.QueueRecord, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (persistence.QueueRecord, error)
	List(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]persistence.QueueRecord, error)
	Update(ctx context.Context, rec persistence.QueueRecord) (persistence.QueueRecord, error)
}

// NewPostgresRepository returns the queue store, which already satisfies Repository.
func NewPostgresRepository(store *persistence.QueueStore) Repository {
	if store == nil {
		panic("queue store is required")
	}
	return store
}
