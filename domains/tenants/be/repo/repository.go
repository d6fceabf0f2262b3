package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// Repository defines the persistence operations required by the tenants service.
type Repository interface {
	CreateWithDefaults(ctx context.Context, rec persistence.TenantRecord, channel persistence.ChannelRecord, queue persistence.QueueRecord) (persistence.TenantRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.TenantRecord, error)
	GetBySlug(ctx context.Context, slug string) (persistence.TenantRecord, error)
	List(ctx context.Context, params persistence.ListTenantsParams) (persistence.ListTenantsResult, error)
	Update(ctx context.Context, rec persistence.TenantRecord) (persistence.TenantRecord, error)
	UpdateProvisioning(ctx context.Context, id uuid.UUID, storageReady bool, lastError *string) (persistence.TenantRecord, error)
	DisableExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// NewPostgresRepository returns the tenant store, which already satisfies Repository.
func NewPostgresRepository(store *persistence.TenantStore) Repository {
	if store == nil {
		panic("tenant store is required")
	}
	return store
}
