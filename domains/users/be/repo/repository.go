package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// Repository defines the persistence operations required by the users service.
type Repository interface {
	Create(ctx context.Context, rec persistence.UserRecord) (persistence.UserRecord, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (persistence.UserRecord, error)
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (persistence.UserRecord, error)
	List(ctx context.Context, tenantID uuid.UUID, params persistence.ListUsersParams) (persistence.ListUsersResult, error)
	Update(ctx context.Context, rec persistence.UserRecord) (persistence.UserRecord, error)
}

// TenantDirectory resolves the tenant an agent signs in to.
type TenantDirectory interface {
	GetBySlug(ctx context.Context, slug string) (persistence.TenantRecord, error)
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.UserStore) Repository {
	if store == nil {
		panic("user store is required")
	}
	return store
}
