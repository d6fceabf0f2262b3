package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChannelRecord mirrors a row of the channels table.
type ChannelRecord struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConnectorRecord mirrors a row of the connectors table. Config is the raw JSONB document.
type ConnectorRecord struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ChannelID uuid.UUID
	Provider  string
	Config    []byte
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChannelStore provides access to channels and their connectors.
type ChannelStore struct {
	db *TenantDB
}

func NewChannelStore(db *TenantDB) *ChannelStore {
	if db == nil {
		panic("channel store requires db")
	}
	return &ChannelStore{db: db}
}

const (
	channelColumns   = `id, tenant_id, name, state, created_at, updated_at`
	connectorColumns = `c.id, c.tenant_id, c.channel_id, c.provider, c.config, c.state, c.created_at, c.updated_at`
)

func scanChannel(row pgx.Row) (ChannelRecord, error) {
	var rec ChannelRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Name, &rec.State, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, mapError(err)
}

func scanConnector(row pgx.Row, extra ...any) (ConnectorRecord, error) {
	var rec ConnectorRecord
	dest := append([]any{&rec.ID, &rec.TenantID, &rec.ChannelID, &rec.Provider, &rec.Config, &rec.State,
		&rec.CreatedAt, &rec.UpdatedAt}, extra...)
	return rec, mapError(row.Scan(dest...))
}

func (s *ChannelStore) CreateChannel(ctx context.Context, rec ChannelRecord) (ChannelRecord, error) {
	return scanChannel(s.db.Pool().QueryRow(ctx, `
		INSERT INTO channels (id, tenant_id, name, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING `+channelColumns,
		rec.ID, rec.TenantID, rec.Name, rec.State, rec.CreatedAt,
	))
}

func (s *ChannelStore) GetChannel(ctx context.Context, tenantID, id uuid.UUID) (ChannelRecord, error) {
	return scanChannel(s.db.Pool().QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (s *ChannelStore) ListChannels(ctx context.Context, tenantID uuid.UUID) ([]ChannelRecord, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+channelColumns+` FROM channels
		WHERE tenant_id = $1 AND state <> 'DELETED'
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelRecord
	for rows.Next() {
		rec, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *ChannelStore) CreateConnector(ctx context.Context, rec ConnectorRecord) (ConnectorRecord, error) {
	return scanConnector(s.db.Pool().QueryRow(ctx, `
		INSERT INTO connectors AS c (id, tenant_id, channel_id, provider, config, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+connectorColumns,
		rec.ID, rec.TenantID, rec.ChannelID, rec.Provider, rec.Config, rec.State, rec.CreatedAt,
	))
}

func (s *ChannelStore) GetConnector(ctx context.Context, tenantID, id uuid.UUID) (ConnectorRecord, error) {
	return scanConnector(s.db.Pool().QueryRow(ctx,
		`SELECT `+connectorColumns+` FROM connectors c WHERE c.tenant_id = $1 AND c.id = $2`, tenantID, id))
}

// ListConnectors returns the connectors of one channel that are not deleted.
func (s *ChannelStore) ListConnectors(ctx context.Context, tenantID, channelID uuid.UUID) ([]ConnectorRecord, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+connectorColumns+` FROM connectors c
		WHERE c.tenant_id = $1 AND c.channel_id = $2 AND c.state <> 'DELETED'
		ORDER BY c.created_at ASC`, tenantID, channelID)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()

	var out []ConnectorRecord
	for rows.Next() {
		rec, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadActiveConnector looks a connector up by id alone, as webhooks do. It only
// returns connectors that are ACTIVE under an ACTIVE channel and tenant.
func (s *ChannelStore) LoadActiveConnector(ctx context.Context, id uuid.UUID) (ConnectorRecord, error) {
	return scanConnector(s.db.Pool().QueryRow(ctx, `
		SELECT `+connectorColumns+`
		FROM connectors c
		JOIN channels ch ON ch.id = c.channel_id
		JOIN tenants t ON t.id = c.tenant_id
		WHERE c.id = $1 AND c.state = 'ACTIVE' AND ch.state = 'ACTIVE' AND t.state = 'ACTIVE'`, id))
}

// ListActiveConnectors returns the tenant's usable connectors, those of the tenant's
// default provider first, then oldest first. The default provider is returned too.
func (s *ChannelStore) ListActiveConnectors(ctx context.Context, tenantID uuid.UUID) ([]ConnectorRecord, *string, error) {
	var defaultProvider *string
	if err := s.db.Pool().QueryRow(ctx,
		`SELECT default_provider FROM tenants WHERE id = $1`, tenantID,
	).Scan(&defaultProvider); err != nil {
		return nil, nil, mapError(err)
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+connectorColumns+`
		FROM connectors c
		JOIN channels ch ON ch.id = c.channel_id
		WHERE c.tenant_id = $1 AND c.state = 'ACTIVE' AND ch.state = 'ACTIVE'
		ORDER BY (c.provider = $2) DESC NULLS LAST, c.created_at ASC, c.id ASC`, tenantID, defaultProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("list active connectors: %w", err)
	}
	defer rows.Close()

	var out []ConnectorRecord
	for rows.Next() {
		rec, err := scanConnector(rows)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, rec)
	}
	return out, defaultProvider, rows.Err()
}

// UpdateConnector overwrites config and state.
func (s *ChannelStore) UpdateConnector(ctx context.Context, rec ConnectorRecord) (ConnectorRecord, error) {
	return scanConnector(s.db.Pool().QueryRow(ctx, `
		UPDATE connectors AS c SET config = $3, state = $4, updated_at = NOW()
		WHERE c.tenant_id = $1 AND c.id = $2
		RETURNING `+connectorColumns,
		rec.TenantID, rec.ID, rec.Config, rec.State,
	))
}

// BulkDeleteConnectors marks ids as DELETED in one transaction and returns the ids
// that changed. Unknown ids and ids of other tenants are skipped.
func (s *ChannelStore) BulkDeleteConnectors(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}

	var deleted []uuid.UUID
	err := s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		for _, id := range raw {
			tag, err := tx.Exec(ctx, `
				UPDATE connectors SET state = 'DELETED', updated_at = NOW()
				WHERE tenant_id = $1 AND id = $2::uuid AND state <> 'DELETED'`, tenantID, id)
			if err != nil {
				return fmt.Errorf("delete connector %s: %w", id, err)
			}
			if tag.RowsAffected() == 1 {
				deleted = append(deleted, uuid.MustParse(id))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
