package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// Repository defines the persistence operations required by the channels service.
type Repository interface {
	CreateChannel(ctx context.Context, rec persistence.ChannelRecord) (persistence.ChannelRecord, error)
	GetChannel(ctx context.Context, tenantID, id uuid.UUID) (persistence.ChannelRecord, error)
	ListChannels(ctx context.Context, tenantID uuid.UUID) ([]persistence.ChannelRecord, error)
	CreateConnector(ctx context.Context, rec persistence.ConnectorRecord) (persistence.ConnectorRecord, error)
	GetConnector(ctx context.Context, tenantID, id uuid.UUID) (persistence.ConnectorRecord, error)
	ListConnectors(ctx context.Context, tenantID, channelID uuid.UUID) ([]persistence.ConnectorRecord, error)
	UpdateConnector(ctx context.Context, rec persistence.ConnectorRecord) (persistence.ConnectorRecord, error)
	BulkDeleteConnectors(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
}

func NewPostgresRepository(store *persistence.ChannelStore) Repository {
	if store == nil {
		panic("channel store is required")
	}
	return store
}
