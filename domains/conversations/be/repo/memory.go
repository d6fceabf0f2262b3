package repo

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

// MemoryRepository is an in-memory implementation suitable for tests and local runs.
// Thread locks are one process-wide mutex; writes made inside a failed callback are
// not rolled back.
type MemoryRepository struct {
	lockMu sync.Mutex

	mu              sync.RWMutex
	conversations   map[uuid.UUID]persistence.ConversationRecord
	threads         []threadRow
	connectors      []persistence.ConnectorRecord
	queues          map[uuid.UUID]persistence.QueueRecord
	defaultProvider map[uuid.UUID]string
	clock           int64
	lockKeys        [][]string
}

type threadRow struct {
	persistence.ThreadRecord
	touched int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		conversations:   make(map[uuid.UUID]persistence.ConversationRecord),
		queues:          make(map[uuid.UUID]persistence.QueueRecord),
		defaultProvider: make(map[uuid.UUID]string),
	}
}

// AddConnector seeds a connector. Only ACTIVE ones are returned by ListActiveConnectors.
func (r *MemoryRepository) AddConnector(rec persistence.ConnectorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors = append(r.connectors, rec)
}

// AddQueue seeds a queue.
func (r *MemoryRepository) AddQueue(rec persistence.QueueRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[rec.ID] = rec
}

// SetDefaultProvider sets the tenant's preferred provider.
func (r *MemoryRepository) SetDefaultProvider(tenantID uuid.UUID, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultProvider[tenantID] = provider
}

// Exists reports whether a conversation belongs to the tenant.
func (r *MemoryRepository) Exists(tenantID, id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	return ok && c.TenantID == tenantID
}

// Threads returns a copy of the thread map rows.
func (r *MemoryRepository) Threads() []persistence.ThreadRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]persistence.ThreadRecord, 0, len(r.threads))
	for _, t := range r.threads {
		out = append(out, t.ThreadRecord)
	}
	return out
}

// Touch moves a conversation's last activity, as a message insert would.
func (r *MemoryRepository) Touch(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[id]; ok {
		c.LastMessageAt = &at
		r.conversations[id] = c
	}
}

func (r *MemoryRepository) WithThreadLock(ctx context.Context, tenantID uuid.UUID, keys []string, fn func(ThreadTx) error) error {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	r.mu.Lock()
	r.lockKeys = append(r.lockKeys, slices.Clone(keys))
	r.mu.Unlock()
	return fn(memoryThreadTx{r: r})
}

// ThreadLockKeys returns the key sets passed to WithThreadLock, oldest first.
func (r *MemoryRepository) ThreadLockKeys() [][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.lockKeys)
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (persistence.ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(tenantID, id)
}

func (r *MemoryRepository) getLocked(tenantID, id uuid.UUID) (persistence.ConversationRecord, error) {
	c, ok := r.conversations[id]
	if !ok || c.TenantID != tenantID {
		return persistence.ConversationRecord{}, persistence.ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepository) List(ctx context.Context, tenantID uuid.UUID, params persistence.ListConversationsParams) (persistence.ListConversationsResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []persistence.ConversationRecord
	for _, c := range r.conversations {
		if c.TenantID != tenantID {
			continue
		}
		if params.Status != nil && c.Status != *params.Status {
			continue
		}
		if params.QueueID != nil && (c.QueueID == nil || *c.QueueID != *params.QueueID) {
			continue
		}
		if params.AssignedTo != nil && (c.AssignedUserID == nil || *c.AssignedUserID != *params.AssignedTo) {
			continue
		}
		items = append(items, c)
	}

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].LastMessageAt, items[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	page, pageSize := params.Page, params.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := min((page-1)*pageSize, len(items))
	end := min(start+pageSize, len(items))

	return persistence.ListConversationsResult{
		Conversations: items[start:end],
		TotalItems:    len(items),
	}, nil
}

func (r *MemoryRepository) Update(ctx context.Context, rec persistence.ConversationRecord) (persistence.ConversationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.getLocked(rec.TenantID, rec.ID)
	if err != nil {
		return persistence.ConversationRecord{}, err
	}
	current.Title = rec.Title
	current.Status = rec.Status
	current.QueueID = rec.QueueID
	current.AssignedUserID = rec.AssignedUserID
	current.UpdatedAt = time.Now().UTC()
	r.conversations[rec.ID] = current
	return current, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getLocked(tenantID, id); err != nil {
		return err
	}
	delete(r.conversations, id)
	kept := r.threads[:0]
	for _, t := range r.threads {
		if t.ConversationID != id {
			kept = append(kept, t)
		}
	}
	r.threads = kept
	return nil
}

func (r *MemoryRepository) LatestThread(ctx context.Context, tenantID, conversationID uuid.UUID) (persistence.ThreadRecord, persistence.ConnectorRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *threadRow
	for i := range r.threads {
		t := &r.threads[i]
		if t.TenantID != tenantID || t.ConversationID != conversationID {
			continue
		}
		if best == nil || t.touched > best.touched {
			best = t
		}
	}
	if best == nil {
		return persistence.ThreadRecord{}, persistence.ConnectorRecord{}, persistence.ErrNotFound
	}
	for _, c := range r.connectors {
		if c.ID == best.ConnectorID {
			return best.ThreadRecord, c, nil
		}
	}
	return persistence.ThreadRecord{}, persistence.ConnectorRecord{}, fmt.Errorf("connector %s: %w", best.ConnectorID, persistence.ErrNotFound)
}

func (r *MemoryRepository) ListActiveConnectors(ctx context.Context, tenantID uuid.UUID) ([]persistence.ConnectorRecord, *string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var def *string
	if p, ok := r.defaultProvider[tenantID]; ok {
		def = &p
	}

	var out []persistence.ConnectorRecord
	for _, c := range r.connectors {
		if c.TenantID == tenantID && c.State == "ACTIVE" {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if def != nil {
			pi, pj := out[i].Provider == *def, out[j].Provider == *def
			if pi != pj {
				return pi
			}
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, def, nil
}

func (r *MemoryRepository) GetQueue(ctx context.Context, tenantID, id uuid.UUID) (persistence.QueueRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[id]
	if !ok || q.TenantID != tenantID {
		return persistence.QueueRecord{}, persistence.ErrNotFound
	}
	return q, nil
}

type memoryThreadTx struct {
	r *MemoryRepository
}

func (t memoryThreadTx) FindByChat(ctx context.Context, tenantID, connectorID uuid.UUID, chatID string) (persistence.ThreadRecord, error) {
	t.r.mu.RLock()
	defer t.r.mu.RUnlock()
	for _, th := range t.r.threads {
		if th.TenantID == tenantID && th.ConnectorID == connectorID && th.ExternalChatID == chatID {
			return th.ThreadRecord, nil
		}
	}
	return persistence.ThreadRecord{}, persistence.ErrNotFound
}

func (t memoryThreadTx) FindByUser(ctx context.Context, tenantID uuid.UUID, userID string) (persistence.ThreadRecord, error) {
	t.r.mu.RLock()
	defer t.r.mu.RUnlock()
	var best *threadRow
	for i := range t.r.threads {
		th := &t.r.threads[i]
		if th.TenantID == tenantID && th.ExternalUserID == userID && (best == nil || th.touched > best.touched) {
			best = th
		}
	}
	if best == nil {
		return persistence.ThreadRecord{}, persistence.ErrNotFound
	}
	return best.ThreadRecord, nil
}

func (t memoryThreadTx) Rehome(ctx context.Context, threadID, connectorID uuid.UUID, chatID string) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for i := range t.r.threads {
		th := &t.r.threads[i]
		if th.ID != threadID {
			continue
		}
		for _, other := range t.r.threads {
			if other.ID != threadID && other.TenantID == th.TenantID && other.ConnectorID == connectorID && other.ExternalChatID == chatID {
				return fmt.Errorf("%w: external_thread_map_chat_key", persistence.ErrConflict)
			}
		}
		th.ConnectorID = connectorID
		th.ExternalChatID = chatID
		t.r.clock++
		th.touched = t.r.clock
		return nil
	}
	return persistence.ErrNotFound
}

func (t memoryThreadTx) GetConversation(ctx context.Context, tenantID, id uuid.UUID) (persistence.ConversationRecord, error) {
	return t.r.Get(ctx, tenantID, id)
}

func (t memoryThreadTx) UpdateTitle(ctx context.Context, tenantID, id uuid.UUID, title string) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	c, err := t.r.getLocked(tenantID, id)
	if err != nil {
		return err
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	t.r.conversations[id] = c
	return nil
}

func (t memoryThreadTx) AssignIfUnowned(ctx context.Context, tenantID, id, userID uuid.UUID) (bool, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	c, err := t.r.getLocked(tenantID, id)
	if err != nil || c.AssignedUserID != nil {
		return false, nil
	}
	c.AssignedUserID = &userID
	t.r.conversations[id] = c
	return true, nil
}

func (t memoryThreadTx) InsertConversation(ctx context.Context, conv persistence.ConversationRecord, thread persistence.ThreadRecord) (persistence.ConversationRecord, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()

	for _, th := range t.r.threads {
		if th.TenantID == thread.TenantID && th.ConnectorID == thread.ConnectorID && th.ExternalChatID == thread.ExternalChatID {
			return persistence.ConversationRecord{}, fmt.Errorf("%w: external_thread_map_chat_key", persistence.ErrConflict)
		}
	}

	conv.UpdatedAt = conv.CreatedAt
	t.r.conversations[conv.ID] = conv
	thread.ConversationID = conv.ID
	t.r.clock++
	t.r.threads = append(t.r.threads, threadRow{ThreadRecord: thread, touched: t.r.clock})
	return conv, nil
}

var _ Repository = (*MemoryRepository)(nil)
