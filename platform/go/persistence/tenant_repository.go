package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TenantRecord mirrors a row of the tenants table.
type TenantRecord struct {
	ID                    uuid.UUID
	Slug                  string
	DisplayName           string
	DefaultProvider       *string
	State                 string
	SubscriptionExpiresAt *time.Time
	BasePrefix            string
	ShortTenantID         string
	StorageReady          bool
	LastProvisionedAt     *time.Time
	LastError             *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ListTenantsParams filters the tenant registry.
type ListTenantsParams struct {
	State    *string
	Page     int
	PageSize int
}

// ListTenantsResult is one page of tenants plus the unpaged total.
type ListTenantsResult struct {
	Tenants    []TenantRecord
	TotalItems int
}

// TenantStore provides access to the tenants table.
type TenantStore struct {
	db *TenantDB
}

func NewTenantStore(db *TenantDB) *TenantStore {
	if db == nil {
		panic("tenant store requires db")
	}
	return &TenantStore{db: db}
}

const tenantColumns = `id, slug, display_name, default_provider, state, subscription_expires_at,
	base_prefix, short_tenant_id, storage_ready, last_provisioned_at, last_error, created_at, updated_at`

func scanTenant(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	err := row.Scan(
		&rec.ID, &rec.Slug, &rec.DisplayName, &rec.DefaultProvider, &rec.State, &rec.SubscriptionExpiresAt,
		&rec.BasePrefix, &rec.ShortTenantID, &rec.StorageReady, &rec.LastProvisionedAt, &rec.LastError,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, mapError(err)
}

// CreateWithDefaults inserts the tenant together with its first channel and queue.
func (s *TenantStore) CreateWithDefaults(ctx context.Context, rec TenantRecord, channel ChannelRecord, queue QueueRecord) (TenantRecord, error) {
	if rec.ID == uuid.Nil {
		return TenantRecord{}, errors.New("tenant id is required")
	}

	var created TenantRecord
	err := s.db.WithTenant(ctx, rec.ID, func(tx pgx.Tx) error {
		var err error
		created, err = scanTenant(tx.QueryRow(ctx, `
			INSERT INTO tenants (id, slug, display_name, default_provider, state, subscription_expires_at,
				base_prefix, short_tenant_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			RETURNING `+tenantColumns,
			rec.ID, rec.Slug, rec.DisplayName, rec.DefaultProvider, rec.State, rec.SubscriptionExpiresAt,
			rec.BasePrefix, rec.ShortTenantID, rec.CreatedAt,
		))
		if err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO channels (id, tenant_id, name, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			channel.ID, rec.ID, channel.Name, channel.State, rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert default channel: %w", mapError(err))
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO queues (id, tenant_id, name, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			queue.ID, rec.ID, queue.Name, queue.State, rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert default queue: %w", mapError(err))
		}
		return nil
	})
	return created, err
}

// Get returns the tenant with id.
func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	return scanTenant(s.db.Pool().QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

// GetBySlug returns the tenant with slug.
func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (TenantRecord, error) {
	return scanTenant(s.db.Pool().QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, strings.ToLower(slug)))
}

// List returns tenants ordered by creation time.
func (s *TenantStore) List(ctx context.Context, params ListTenantsParams) (ListTenantsResult, error) {
	limit, offset := pageBounds(params.Page, params.PageSize)

	var total int
	if err := s.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM tenants WHERE ($1::text IS NULL OR state = $1)`, params.State,
	).Scan(&total); err != nil {
		return ListTenantsResult{}, fmt.Errorf("count tenants: %w", err)
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE ($1::text IS NULL OR state = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`, params.State, limit, offset)
	if err != nil {
		return ListTenantsResult{}, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	result := ListTenantsResult{TotalItems: total}
	for rows.Next() {
		rec, err := scanTenant(rows)
		if err != nil {
			return ListTenantsResult{}, err
		}
		result.Tenants = append(result.Tenants, rec)
	}
	return result, rows.Err()
}

// Update overwrites the mutable tenant fields.
func (s *TenantStore) Update(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	return scanTenant(s.db.Pool().QueryRow(ctx, `
		UPDATE tenants
		SET display_name = $2, default_provider = $3, state = $4, subscription_expires_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+tenantColumns,
		rec.ID, rec.DisplayName, rec.DefaultProvider, rec.State, rec.SubscriptionExpiresAt,
	))
}

// UpdateProvisioning records the outcome of a storage provisioning attempt.
func (s *TenantStore) UpdateProvisioning(ctx context.Context, id uuid.UUID, storageReady bool, lastError *string) (TenantRecord, error) {
	return scanTenant(s.db.Pool().QueryRow(ctx, `
		UPDATE tenants
		SET storage_ready = $2, last_error = $3, last_provisioned_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+tenantColumns,
		id, storageReady, lastError,
	))
}

// DisableExpired moves active tenants whose subscription lapsed before now to DISABLED.
func (s *TenantStore) DisableExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Pool().Query(ctx, `
		UPDATE tenants SET state = 'DISABLED', updated_at = NOW()
		WHERE state = 'ACTIVE' AND subscription_expires_at IS NOT NULL AND subscription_expires_at < $1
		RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("disable expired tenants: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
