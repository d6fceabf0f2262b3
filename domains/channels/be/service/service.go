// Package service manages channels and the provider connectors bound to them.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

const (
	maxNameLength   = 120
	maxBulkDeletion = 100
)

var (
	ErrChannelNotFound   = errors.New("channel not found")
	ErrConnectorNotFound = errors.New("connector not found")
	ErrChannelInactive   = errors.New("channel is not active")
)

// FieldErrors maps a field to its validation messages.
type FieldErrors map[string][]string

// ValidationError is returned when input fails validation.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string { return "validation failed" }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(FieldErrors)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

// Channel groups the connectors a tenant reaches its customers through.
type Channel struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	State     lifecycle.State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Connector is a provider binding with its decoded config.
type Connector struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ChannelID uuid.UUID
	Provider  channel.Provider
	Config    channel.Config
	State     lifecycle.State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateConnectorInput describes a new connector. Config is the raw provider document.
type CreateConnectorInput struct {
	Provider string
	Config   []byte
}

// UpdateConnectorInput replaces the config and/or state of a connector.
type UpdateConnectorInput struct {
	Config []byte
	State  *lifecycle.State
}

type Service interface {
	CreateChannel(ctx context.Context, tenantID uuid.UUID, name string) (Channel, error)
	GetChannel(ctx context.Context, tenantID, id uuid.UUID) (Channel, error)
	ListChannels(ctx context.Context, tenantID uuid.UUID) ([]Channel, error)
	CreateConnector(ctx context.Context, tenantID, channelID uuid.UUID, input CreateConnectorInput) (Connector, error)
	ListConnectors(ctx context.Context, tenantID, channelID uuid.UUID) ([]Connector, error)
	UpdateConnector(ctx context.Context, tenantID, id uuid.UUID, input UpdateConnectorInput) (Connector, error)
	// BulkDeleteConnectors marks connectors DELETED and returns the ids that changed.
	BulkDeleteConnectors(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
}

type service struct {
	repo   repo.Repository
	logger *zap.Logger
	now    func() time.Time
}

func New(repository repo.Repository, logger *zap.Logger) Service {
	if repository == nil {
		panic("channels repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: repository, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) CreateChannel(ctx context.Context, tenantID uuid.UUID, name string) (Channel, error) {
	name = strings.TrimSpace(name)
	verr := &ValidationError{Fields: FieldErrors{}}
	switch {
	case name == "":
		verr.add("name", "must not be empty")
	case len(name) > maxNameLength:
		verr.add("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if !verr.empty() {
		return Channel{}, verr
	}

	rec, err := s.repo.CreateChannel(ctx, persistence.ChannelRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		State:     lifecycle.Active.String(),
		CreatedAt: s.now(),
	})
	if err != nil {
		return Channel{}, fmt.Errorf("create channel: %w", err)
	}
	platformlogging.Ctx(ctx, s.logger).Info("channel created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("channel_id", rec.ID.String()))
	return toChannel(rec), nil
}

func (s *service) GetChannel(ctx context.Context, tenantID, id uuid.UUID) (Channel, error) {
	rec, err := s.repo.GetChannel(ctx, tenantID, id)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return Channel{}, ErrChannelNotFound
	case err != nil:
		return Channel{}, err
	case rec.State == lifecycle.Deleted.String():
		return Channel{}, ErrChannelNotFound
	}
	return toChannel(rec), nil
}

func (s *service) ListChannels(ctx context.Context, tenantID uuid.UUID) ([]Channel, error) {
	recs, err := s.repo.ListChannels(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toChannel(rec))
	}
	return out, nil
}

func (s *service) CreateConnector(ctx context.Context, tenantID, channelID uuid.UUID, input CreateConnectorInput) (Connector, error) {
	verr := &ValidationError{Fields: FieldErrors{}}
	provider, err := channel.ParseProvider(input.Provider)
	if err != nil {
		verr.add("provider", "must be one of: GTI OFFICIAL WEBCHAT")
		return Connector{}, verr
	}
	raw, err := normalizeConfig(provider, input.Config, verr)
	if err != nil {
		return Connector{}, err
	}

	ch, err := s.GetChannel(ctx, tenantID, channelID)
	if err != nil {
		return Connector{}, err
	}
	if !ch.State.IsActive() {
		return Connector{}, fmt.Errorf("%w: %s", ErrChannelInactive, channelID)
	}

	rec, err := s.repo.CreateConnector(ctx, persistence.ConnectorRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ChannelID: channelID,
		Provider:  provider.String(),
		Config:    raw,
		State:     lifecycle.Active.String(),
		CreatedAt: s.now(),
	})
	if err != nil {
		return Connector{}, fmt.Errorf("create connector: %w", err)
	}

	platformlogging.Ctx(ctx, s.logger).Info("connector created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("channel_id", channelID.String()),
		zap.String("connector_id", rec.ID.String()),
		zap.String("provider", provider.String()))
	return toConnector(rec)
}

func (s *service) ListConnectors(ctx context.Context, tenantID, channelID uuid.UUID) ([]Connector, error) {
	if _, err := s.GetChannel(ctx, tenantID, channelID); err != nil {
		return nil, err
	}
	recs, err := s.repo.ListConnectors(ctx, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	out := make([]Connector, 0, len(recs))
	for _, rec := range recs {
		conn, err := toConnector(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, nil
}

func (s *service) UpdateConnector(ctx context.Context, tenantID, id uuid.UUID, input UpdateConnectorInput) (Connector, error) {
	verr := &ValidationError{Fields: FieldErrors{}}
	if input.Config == nil && input.State == nil {
		verr.add("body", "at least one field must be provided")
		return Connector{}, verr
	}

	rec, err := s.repo.GetConnector(ctx, tenantID, id)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return Connector{}, ErrConnectorNotFound
	case err != nil:
		return Connector{}, err
	case rec.State == lifecycle.Deleted.String():
		return Connector{}, ErrConnectorNotFound
	}

	provider, err := channel.ParseProvider(rec.Provider)
	if err != nil {
		return Connector{}, fmt.Errorf("connector %s: %w", id, err)
	}
	if input.Config != nil {
		raw, err := normalizeConfig(provider, input.Config, verr)
		if err != nil {
			return Connector{}, err
		}
		rec.Config = raw
	}
	if input.State != nil {
		next, err := lifecycle.State(rec.State).Transition(*input.State)
		if err != nil {
			verr.add("state", err.Error())
			return Connector{}, verr
		}
		rec.State = next.String()
	}

	updated, err := s.repo.UpdateConnector(ctx, rec)
	if errors.Is(err, persistence.ErrNotFound) {
		return Connector{}, ErrConnectorNotFound
	}
	if err != nil {
		return Connector{}, fmt.Errorf("update connector: %w", err)
	}
	platformlogging.Ctx(ctx, s.logger).Info("connector updated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("connector_id", id.String()),
		zap.String("state", updated.State))
	return toConnector(updated)
}

func (s *service) BulkDeleteConnectors(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	verr := &ValidationError{Fields: FieldErrors{}}
	switch {
	case len(ids) == 0:
		verr.add("ids", "must contain at least one id")
	case len(ids) > maxBulkDeletion:
		verr.add("ids", fmt.Sprintf("must contain at most %d ids", maxBulkDeletion))
	}
	if !verr.empty() {
		return nil, verr
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	deleted, err := s.repo.BulkDeleteConnectors(ctx, tenantID, unique)
	if err != nil {
		return nil, fmt.Errorf("bulk delete connectors: %w", err)
	}
	if deleted == nil {
		deleted = []uuid.UUID{}
	}
	platformlogging.Ctx(ctx, s.logger).Info("connectors deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("requested", len(unique)),
		zap.Int("deleted", len(deleted)))
	return deleted, nil
}

// normalizeConfig validates raw against the provider schema and re-encodes it
// with defaults applied, so stored documents are always canonical.
func normalizeConfig(provider channel.Provider, raw []byte, verr *ValidationError) ([]byte, error) {
	cfg, err := channel.DecodeConfig(provider, raw)
	if err != nil {
		if errors.Is(err, channel.ErrInvalidConfig) {
			verr.add("config", strings.TrimPrefix(err.Error(), channel.ErrInvalidConfig.Error()+": "))
			return nil, verr
		}
		return nil, err
	}
	return channel.EncodeConfig(cfg)
}

func toChannel(rec persistence.ChannelRecord) Channel {
	return Channel{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Name:      rec.Name,
		State:     lifecycle.State(rec.State),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func toConnector(rec persistence.ConnectorRecord) (Connector, error) {
	provider, err := channel.ParseProvider(rec.Provider)
	if err != nil {
		return Connector{}, fmt.Errorf("connector %s: %w", rec.ID, err)
	}
	cfg, err := channel.DecodeConfig(provider, rec.Config)
	if err != nil {
		return Connector{}, fmt.Errorf("connector %s: %w", rec.ID, err)
	}
	return Connector{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		ChannelID: rec.ChannelID,
		Provider:  provider,
		Config:    cfg,
		State:     lifecycle.State(rec.State),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
