package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// ThreadTx is the view of the thread map available while the per-user lock is held.
type ThreadTx interface {
	FindByChat(ctx context.Context, tenantID, connectorID uuid.UUID, chatID string) (persistence.ThreadRecord, error)
	FindByUser(ctx context.Context, tenantID uuid.UUID, userID string) (persistence.ThreadRecord, error)
	Rehome(ctx context.Context, threadID, connectorID uuid.UUID, chatID string) error
	GetConversation(ctx context.Context, tenantID, id uuid.UUID) (persistence.ConversationRecord, error)
	UpdateTitle(ctx context.Context, tenantID, id uuid.UUID, title string) error
	AssignIfUnowned(ctx context.Context, tenantID, id, userID uuid.UUID) (bool, error)
	InsertConversation(ctx context.Context, conv persistence.ConversationRecord, thread persistence.ThreadRecord) (persistence.ConversationRecord, error)
}

// Repository defines the persistence operations required by the conversations service.
type Repository interface {
	// WithThreadLock serializes fn with every other call sharing any of keys within the tenant.
	WithThreadLock(ctx context.Context, tenantID uuid.UUID, keys []string, fn func(ThreadTx) error) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (persistence.ConversationRecord, error)
	List(ctx context.Context, tenantID uuid.UUID, params persistence.ListConversationsParams) (persistence.ListConversationsResult, error)
	Update(ctx context.Context, rec persistence.ConversationRecord) (persistence.ConversationRecord, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	LatestThread(ctx context.Context, tenantID, conversationID uuid.UUID) (persistence.ThreadRecord, persistence.ConnectorRecord, error)
	ListActiveConnectors(ctx context.Context, tenantID uuid.UUID) ([]persistence.ConnectorRecord, *string, error)
	GetQueue(ctx context.Context, tenantID, id uuid.UUID) (persistence.QueueRecord, error)
}

type postgresRepository struct {
	conversations *persistence.ConversationStore
	channels      *persistence.ChannelStore
	queues        *persistence.QueueStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(conversations *persistence.ConversationStore, channels *persistence.ChannelStore, queues *persistence.QueueStore) Repository {
	if conversations == nil || channels == nil || queues == nil {
		panic("conversation, channel and queue stores are required")
	}
	return &postgresRepository{conversations: conversations, channels: channels, queues: queues}
}

func (r *postgresRepository) WithThreadLock(ctx context.Context, tenantID uuid.UUID, keys []string, fn func(ThreadTx) error) error {
	return r.conversations.WithThreadLock(ctx, tenantID, keys, func(tx *persistence.ThreadTx) error {
		return fn(tx)
	})
}

func (r *postgresRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (persistence.ConversationRecord, error) {
	return r.conversations.Get(ctx, tenantID, id)
}

func (r *postgresRepository) List(ctx context.Context, tenantID uuid.UUID, params persistence.ListConversationsParams) (persistence.ListConversationsResult, error) {
	return r.conversations.List(ctx, tenantID, params)
}

func (r *postgresRepository) Update(ctx context.Context, rec persistence.ConversationRecord) (persistence.ConversationRecord, error) {
	return r.conversations.Update(ctx, rec)
}

func (r *postgresRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return r.conversations.Delete(ctx, tenantID, id)
}

func (r *postgresRepository) LatestThread(ctx context.Context, tenantID, conversationID uuid.UUID) (persistence.ThreadRecord, persistence.ConnectorRecord, error) {
	return r.conversations.LatestThread(ctx, tenantID, conversationID)
}

func (r *postgresRepository) ListActiveConnectors(ctx context.Context, tenantID uuid.UUID) ([]persistence.ConnectorRecord, *string, error) {
	return r.channels.ListActiveConnectors(ctx, tenantID)
}

func (r *postgresRepository) GetQueue(ctx context.Context, tenantID, id uuid.UUID) (persistence.QueueRecord, error) {
	return r.queues.Get(ctx, tenantID, id)
}
