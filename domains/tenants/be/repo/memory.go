package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// MemoryRepository is an in-memory implementation suitable for tests and local runs.
// Default channels and queues are recorded so tests can assert on them.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]persistence.TenantRecord
	bySlug   map[string]uuid.UUID
	channels map[uuid.UUID][]persistence.ChannelRecord
	queues   map[uuid.UUID][]persistence.QueueRecord
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[uuid.UUID]persistence.TenantRecord),
		bySlug:   make(map[string]uuid.UUID),
		channels: make(map[uuid.UUID][]persistence.ChannelRecord),
		queues:   make(map[uuid.UUID][]persistence.QueueRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) CreateWithDefaults(ctx context.Context, rec persistence.TenantRecord, channel persistence.ChannelRecord, queue persistence.QueueRecord) (persistence.TenantRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slug := strings.ToLower(rec.Slug)
	if _, taken := r.bySlug[slug]; taken {
		return persistence.TenantRecord{}, fmt.Errorf("insert tenant: %w: tenants_slug_key", persistence.ErrConflict)
	}
	if _, taken := r.byID[rec.ID]; taken {
		return persistence.TenantRecord{}, fmt.Errorf("insert tenant: %w: tenants_pkey", persistence.ErrConflict)
	}

	rec.Slug = slug
	rec.UpdatedAt = rec.CreatedAt
	r.byID[rec.ID] = rec
	r.bySlug[slug] = rec.ID

	channel.TenantID, channel.CreatedAt, channel.UpdatedAt = rec.ID, rec.CreatedAt, rec.CreatedAt
	queue.TenantID, queue.CreatedAt, queue.UpdatedAt = rec.ID, rec.CreatedAt, rec.CreatedAt
	r.channels[rec.ID] = append(r.channels[rec.ID], channel)
	r.queues[rec.ID] = append(r.queues[rec.ID], queue)
	return rec, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (persistence.TenantRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return persistence.TenantRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) GetBySlug(ctx context.Context, slug string) (persistence.TenantRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySlug[strings.ToLower(slug)]
	if !ok {
		return persistence.TenantRecord{}, persistence.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) List(ctx context.Context, params persistence.ListTenantsParams) (persistence.ListTenantsResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]persistence.TenantRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		if params.State != nil && rec.State != *params.State {
			continue
		}
		items = append(items, rec)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID.String() < items[j].ID.String()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	page, size := params.Page, params.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return persistence.ListTenantsResult{Tenants: items[start:end], TotalItems: len(items)}, nil
}

func (r *MemoryRepository) Update(ctx context.Context, rec persistence.TenantRecord) (persistence.TenantRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[rec.ID]
	if !ok {
		return persistence.TenantRecord{}, persistence.ErrNotFound
	}
	current.DisplayName = rec.DisplayName
	current.DefaultProvider = rec.DefaultProvider
	current.State = rec.State
	current.SubscriptionExpiresAt = rec.SubscriptionExpiresAt
	current.UpdatedAt = r.now()
	r.byID[rec.ID] = current
	return current, nil
}

func (r *MemoryRepository) UpdateProvisioning(ctx context.Context, id uuid.UUID, storageReady bool, lastError *string) (persistence.TenantRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[id]
	if !ok {
		return persistence.TenantRecord{}, persistence.ErrNotFound
	}
	now := r.now()
	current.StorageReady = storageReady
	current.LastError = lastError
	current.LastProvisionedAt = &now
	current.UpdatedAt = now
	r.byID[id] = current
	return current, nil
}

func (r *MemoryRepository) DisableExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, rec := range r.byID {
		if rec.State != "ACTIVE" || rec.SubscriptionExpiresAt == nil || !rec.SubscriptionExpiresAt.Before(now) {
			continue
		}
		rec.State = "DISABLED"
		rec.UpdatedAt = r.now()
		r.byID[id] = rec
		ids = append(ids, id)
	}
	return ids, nil
}

// Defaults returns the channels and queues created alongside the tenant.
func (r *MemoryRepository) Defaults(tenantID uuid.UUID) ([]persistence.ChannelRecord, []persistence.QueueRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]persistence.ChannelRecord(nil), r.channels[tenantID]...), append([]persistence.QueueRecord(nil), r.queues[tenantID]...)
}
