package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// MemoryRepository keeps channels and connectors in maps. Used by tests and the
// in-memory API mode.
type MemoryRepository struct {
	mu         sync.RWMutex
	channels   map[uuid.UUID]persistence.ChannelRecord
	connectors map[uuid.UUID]persistence.ConnectorRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		channels:   make(map[uuid.UUID]persistence.ChannelRecord),
		connectors: make(map[uuid.UUID]persistence.ConnectorRecord),
	}
}

func (r *MemoryRepository) CreateChannel(ctx context.Context, rec persistence.ChannelRecord) (persistence.ChannelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[rec.ID]; exists {
		return persistence.ChannelRecord{}, persistence.ErrConflict
	}
	rec.UpdatedAt = rec.CreatedAt
	r.channels[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepository) GetChannel(ctx context.Context, tenantID, id uuid.UUID) (persistence.ChannelRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.channels[id]
	if !ok || rec.TenantID != tenantID {
		return persistence.ChannelRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) ListChannels(ctx context.Context, tenantID uuid.UUID) ([]persistence.ChannelRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []persistence.ChannelRecord
	for _, rec := range r.channels {
		if rec.TenantID == tenantID && rec.State != "DELETED" {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CreateConnector(ctx context.Context, rec persistence.ConnectorRecord) (persistence.ConnectorRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[rec.ChannelID]; !ok || ch.TenantID != rec.TenantID {
		return persistence.ConnectorRecord{}, persistence.ErrNotFound
	}
	rec.UpdatedAt = rec.CreatedAt
	r.connectors[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepository) GetConnector(ctx context.Context, tenantID, id uuid.UUID) (persistence.ConnectorRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.connectors[id]
	if !ok || rec.TenantID != tenantID {
		return persistence.ConnectorRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) ListConnectors(ctx context.Context, tenantID, channelID uuid.UUID) ([]persistence.ConnectorRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []persistence.ConnectorRecord
	for _, rec := range r.connectors {
		if rec.TenantID == tenantID && rec.ChannelID == channelID && rec.State != "DELETED" {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateConnector(ctx context.Context, rec persistence.ConnectorRecord) (persistence.ConnectorRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.connectors[rec.ID]
	if !ok || current.TenantID != rec.TenantID {
		return persistence.ConnectorRecord{}, persistence.ErrNotFound
	}
	current.Config = append([]byte(nil), rec.Config...)
	current.State = rec.State
	current.UpdatedAt = time.Now().UTC()
	r.connectors[rec.ID] = current
	return current, nil
}

func (r *MemoryRepository) BulkDeleteConnectors(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted []uuid.UUID
	now := time.Now().UTC()
	for _, id := range ids {
		rec, ok := r.connectors[id]
		if !ok || rec.TenantID != tenantID || rec.State == "DELETED" {
			continue
		}
		rec.State = "DELETED"
		rec.UpdatedAt = now
		r.connectors[id] = rec
		deleted = append(deleted, id)
	}
	return deleted, nil
}

var _ Repository = (*MemoryRepository)(nil)
