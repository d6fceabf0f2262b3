package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QueueRecord mirrors a row of the queues table.
type QueueRecord struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueStore provides access to the queues table.
type QueueStore struct {
	pool Pool
}

func NewQueueStore(pool Pool) *QueueStore {
	if pool == nil {
		panic("queue store requires pool")
	}
	return &QueueStore{pool: pool}
}

const queueColumns = `id, tenant_id, name, state, created_at, updated_at`

func scanQueue(row pgx.Row) (QueueRecord, error) {
	var rec QueueRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Name, &rec.State, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, mapError(err)
}

func (s *QueueStore) Create(ctx context.Context, rec QueueRecord) (QueueRecord, error) {
	return scanQueue(s.pool.QueryRow(ctx, `
		INSERT INTO queues (id, tenant_id, name, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING `+queueColumns,
		rec.ID, rec.TenantID, rec.Name, rec.State, rec.CreatedAt,
	))
}

func (s *QueueStore) Get(ctx context.Context, tenantID, id uuid.UUID) (QueueRecord, error) {
	return scanQueue(s.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM queues WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// List returns the tenant's queues by name. Deleted queues are never listed.
func (s *QueueStore) List(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]QueueRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+` FROM queues
		WHERE tenant_id = $1 AND state <> 'DELETED' AND ($2 OR state = 'ACTIVE')
		ORDER BY lower(name) ASC`, tenantID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var out []QueueRecord
	for rows.Next() {
		rec, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Update overwrites name and state.
func (s *QueueStore) Update(ctx context.Context, rec QueueRecord) (QueueRecord, error) {
	return scanQueue(s.pool.QueryRow(ctx, `
		UPDATE queues SET name = $3, state = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+queueColumns,
		rec.TenantID, rec.ID, rec.Name, rec.State,
	))
}
