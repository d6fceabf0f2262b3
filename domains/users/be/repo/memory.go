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

// MemoryRepository keeps users and a tenant directory in memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]persistence.UserRecord
	tenants map[string]persistence.TenantRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[uuid.UUID]persistence.UserRecord),
		tenants: make(map[string]persistence.TenantRecord),
	}
}

// AddTenant registers a tenant for GetBySlug.
func (r *MemoryRepository) AddTenant(rec persistence.TenantRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[strings.ToLower(rec.Slug)] = rec
}

func (r *MemoryRepository) GetBySlug(ctx context.Context, slug string) (persistence.TenantRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tenants[strings.ToLower(slug)]
	if !ok {
		return persistence.TenantRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) Create(ctx context.Context, rec persistence.UserRecord) (persistence.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Email = strings.ToLower(rec.Email)
	for _, other := range r.users {
		if other.TenantID == rec.TenantID && other.Email == rec.Email {
			return persistence.UserRecord{}, fmt.Errorf("%w: users_tenant_id_email_key", persistence.ErrConflict)
		}
	}
	rec.UpdatedAt = rec.CreatedAt
	r.users[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (persistence.UserRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[id]
	if !ok || rec.TenantID != tenantID {
		return persistence.UserRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (persistence.UserRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(email)
	for _, rec := range r.users {
		if rec.TenantID == tenantID && rec.Email == email {
			return rec, nil
		}
	}
	return persistence.UserRecord{}, persistence.ErrNotFound
}

func (r *MemoryRepository) List(ctx context.Context, tenantID uuid.UUID, params persistence.ListUsersParams) (persistence.ListUsersResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []persistence.UserRecord
	for _, rec := range r.users {
		if rec.TenantID != tenantID || rec.State == "DELETED" {
			continue
		}
		if params.Email != nil && !strings.Contains(rec.Email, strings.ToLower(*params.Email)) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	page, size := params.Page, params.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	result := persistence.ListUsersResult{TotalItems: len(matched)}
	if start < len(matched) {
		end := min(start+size, len(matched))
		result.Users = matched[start:end]
	}
	return result, nil
}

func (r *MemoryRepository) Update(ctx context.Context, rec persistence.UserRecord) (persistence.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.users[rec.ID]
	if !ok || current.TenantID != rec.TenantID {
		return persistence.UserRecord{}, persistence.ErrNotFound
	}
	current.FullName = rec.FullName
	current.Role = rec.Role
	current.PasswordHash = rec.PasswordHash
	current.State = rec.State
	current.UpdatedAt = time.Now().UTC()
	r.users[rec.ID] = current
	return current, nil
}

var (
	_ Repository      = (*MemoryRepository)(nil)
	_ TenantDirectory = (*MemoryRepository)(nil)
)
