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
// It enforces the live-name uniqueness of the queues table.
type MemoryRepository struct {
	mu     sync.RWMutex
	queues map[uuid.UUID]persistence.QueueRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{queues: make(map[uuid.UUID]persistence.QueueRecord)}
}

func (r *MemoryRepository) Create(ctx context.Context, rec persistence.QueueRecord) (persistence.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTakenLocked(rec) {
		return persistence.QueueRecord{}, fmt.Errorf("%w: queues_tenant_name_live_idx", persistence.ErrConflict)
	}
	rec.UpdatedAt = rec.CreatedAt
	r.queues[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (persistence.QueueRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.queues[id]
	if !ok || rec.TenantID != tenantID {
		return persistence.QueueRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) List(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]persistence.QueueRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []persistence.QueueRecord
	for _, rec := range r.queues {
		if rec.TenantID != tenantID || rec.State == "DELETED" {
			continue
		}
		if !includeInactive && rec.State != "ACTIVE" {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, rec persistence.QueueRecord) (persistence.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.queues[rec.ID]
	if !ok || current.TenantID != rec.TenantID {
		return persistence.QueueRecord{}, persistence.ErrNotFound
	}
	if rec.State != "DELETED" && r.nameTakenLocked(rec) {
		return persistence.QueueRecord{}, fmt.Errorf("%w: queues_tenant_name_live_idx", persistence.ErrConflict)
	}
	current.Name = rec.Name
	current.State = rec.State
	current.UpdatedAt = time.Now().UTC()
	r.queues[rec.ID] = current
	return current, nil
}

func (r *MemoryRepository) nameTakenLocked(rec persistence.QueueRecord) bool {
	for _, other := range r.queues {
		if other.ID != rec.ID && other.TenantID == rec.TenantID && other.State != "DELETED" &&
			strings.EqualFold(other.Name, rec.Name) {
			return true
		}
	}
	return false
}

var _ Repository = (*MemoryRepository)(nil)
