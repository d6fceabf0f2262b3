package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TenantDB runs transactions scoped to one tenant. Every row lives in shared tables
// keyed by tenant_id; the scope is also published as the app.tenant_id setting so
// triggers and ad-hoc audit queries can see which tenant a session acted for.
type TenantDB struct {
	pool Pool
}

func NewTenantDB(pool Pool) *TenantDB {
	if pool == nil {
		panic("TenantDB requires pool")
	}
	return &TenantDB{pool: pool}
}

// Pool exposes the underlying pool for single-statement reads.
func (db *TenantDB) Pool() Pool { return db.pool }

// WithAdmin executes fn inside a transaction without a tenant scope.
func (db *TenantDB) WithAdmin(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return WithTx(ctx, db.pool, fn)
}

// WithTenant executes fn inside a transaction with app.tenant_id set for its duration.
func (db *TenantDB) WithTenant(ctx context.Context, tenantID uuid.UUID, fn func(tx pgx.Tx) error) error {
	if tenantID == uuid.Nil {
		return errors.New("tenant id is required")
	}

	return WithTx(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID.String()); err != nil {
			return fmt.Errorf("set tenant scope: %w", err)
		}
		return fn(tx)
	})
}

// LockKey serializes work on (tenant, key) until the surrounding transaction ends.
func LockKey(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, tenantID.String()+":"+key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// LockKeys takes LockKey for every distinct key in sorted order, so callers
// locking overlapping key sets cannot deadlock each other.
func LockKeys(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, keys ...string) error {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	for _, key := range slices.Compact(sorted) {
		if err := LockKey(ctx, tx, tenantID, key); err != nil {
			return err
		}
	}
	return nil
}
