package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRecord mirrors a row of the users table.
type UserRecord struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Email        string
	FullName     string
	Role         string
	PasswordHash *string
	State        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListUsersParams filters the agents of one tenant.
type ListUsersParams struct {
	Email    *string
	Page     int
	PageSize int
}

// ListUsersResult is one page of users plus the unpaged total.
type ListUsersResult struct {
	Users      []UserRecord
	TotalItems int
}

// UserStore provides access to the users table.
type UserStore struct {
	pool Pool
}

func NewUserStore(pool Pool) *UserStore {
	if pool == nil {
		panic("user store requires pool")
	}
	return &UserStore{pool: pool}
}

const userColumns = `id, tenant_id, email, full_name, role, password_hash, state, created_at, updated_at`

func scanUser(row pgx.Row) (UserRecord, error) {
	var rec UserRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Email, &rec.FullName, &rec.Role, &rec.PasswordHash,
		&rec.State, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, mapError(err)
}

// Create inserts a new agent. The email is stored lower-cased.
func (s *UserStore) Create(ctx context.Context, rec UserRecord) (UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, tenant_id, email, full_name, role, password_hash, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+userColumns,
		rec.ID, rec.TenantID, strings.ToLower(rec.Email), rec.FullName, rec.Role, rec.PasswordHash, rec.State, rec.CreatedAt,
	))
}

// Get returns a user of tenantID.
func (s *UserStore) Get(ctx context.Context, tenantID, id uuid.UUID) (UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// GetByEmail returns a user of tenantID by email, case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND email = $2`, tenantID, strings.ToLower(email)))
}

// List returns the tenant's users that are not deleted.
func (s *UserStore) List(ctx context.Context, tenantID uuid.UUID, params ListUsersParams) (ListUsersResult, error) {
	limit, offset := pageBounds(params.Page, params.PageSize)

	var email *string
	if params.Email != nil {
		e := "%" + strings.ToLower(*params.Email) + "%"
		email = &e
	}

	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM users
		WHERE tenant_id = $1 AND state <> 'DELETED' AND ($2::text IS NULL OR email LIKE $2)`,
		tenantID, email,
	).Scan(&total); err != nil {
		return ListUsersResult{}, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE tenant_id = $1 AND state <> 'DELETED' AND ($2::text IS NULL OR email LIKE $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4`, tenantID, email, limit, offset)
	if err != nil {
		return ListUsersResult{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	result := ListUsersResult{TotalItems: total}
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			return ListUsersResult{}, err
		}
		result.Users = append(result.Users, rec)
	}
	return result, rows.Err()
}

// Update overwrites full name, role, password hash and state.
func (s *UserStore) Update(ctx context.Context, rec UserRecord) (UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		UPDATE users
		SET full_name = $3, role = $4, password_hash = $5, state = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+userColumns,
		rec.TenantID, rec.ID, rec.FullName, rec.Role, rec.PasswordHash, rec.State,
	))
}
