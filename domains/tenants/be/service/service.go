// Package service manages the tenant registry: creation with default channel
// and queue, media storage provisioning, subscription expiry and the
// resolution of a tenant Space for request middleware.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

// Names of the records every tenant starts with.
const (
	DefaultChannelName = "WhatsApp Principal"
	DefaultQueueName   = "Geral"
)

const maxDisplayNameLength = 200

// Errors returned by the service layer.
var (
	ErrNotFound     = errors.New("tenant not found")
	ErrConflictSlug = errors.New("tenant slug already exists")
	ErrNoStorage    = errors.New("storage provisioning is not configured")
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

// Tenant represents the domain model for a tenant registry entry.
type Tenant struct {
	ID                    uuid.UUID
	Slug                  string
	DisplayName           string
	DefaultProvider       *channel.Provider
	State                 lifecycle.State
	SubscriptionExpiresAt *time.Time
	BasePrefix            string
	ShortTenantID         string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Provisioning          ProvisioningStatus
}

// Expired reports whether the subscription lapsed before now.
func (t Tenant) Expired(now time.Time) bool {
	return t.SubscriptionExpiresAt != nil && t.SubscriptionExpiresAt.Before(now)
}

// ProvisioningStatus captures storage provisioning state.
type ProvisioningStatus struct {
	StorageReady      bool
	LastProvisionedAt *time.Time
	LastError         *string
}

// CreateInput represents the request to create a tenant.
type CreateInput struct {
	Slug                  string
	DisplayName           string
	DefaultProvider       *string
	SubscriptionExpiresAt *time.Time
}

// UpdateInput represents mutable fields for a tenant. Nil fields stay unchanged.
type UpdateInput struct {
	DisplayName           *string
	DefaultProvider       *string
	State                 *lifecycle.State
	SubscriptionExpiresAt *time.Time
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page     int
	PageSize int
	State    *lifecycle.State
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Service provides tenant registry operations.
type Service struct {
	repo   repo.Repository
	envKey string
	deps   ProvisioningDeps
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Service with required dependencies.
func New(repository repo.Repository, envKey string, deps ProvisioningDeps, logger *zap.Logger) *Service {
	if repository == nil {
		panic("tenants repo is required")
	}
	if envKey == "" {
		panic("envKey is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repository,
		envKey: envKey,
		deps:   deps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List tenants with optional state filter.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	params := persistence.ListTenantsParams{Page: page, PageSize: size}
	if opts.State != nil {
		state := opts.State.String()
		params.State = &state
	}

	res, err := s.repo.List(ctx, params)
	if err != nil {
		return ListResult{}, mapPersistenceError(err)
	}

	tenants := make([]Tenant, 0, len(res.Tenants))
	for _, rec := range res.Tenants {
		tenants = append(tenants, toTenant(rec))
	}
	return ListResult{
		Tenants:    tenants,
		Page:       page,
		PageSize:   size,
		TotalItems: res.TotalItems,
		TotalPages: (res.TotalItems + size - 1) / size,
	}, nil
}

// Create registers a tenant together with its default channel and queue, then
// provisions its media prefix. A provisioning failure is recorded on the tenant
// and does not fail the creation.
func (s *Service) Create(ctx context.Context, input CreateInput) (Tenant, error) {
	verr := &ValidationError{Fields: FieldErrors{}}

	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if !tenant.ValidSlug(slug) {
		verr.add("slug", "must be lowercase kebab-case, at most 63 characters")
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = slug
	}
	if len(displayName) > maxDisplayNameLength {
		verr.add("displayName", fmt.Sprintf("must be at most %d characters", maxDisplayNameLength))
	}
	provider := normalizeProvider(input.DefaultProvider, verr)
	if !verr.empty() {
		return Tenant{}, verr
	}

	id := uuid.New()
	shortID := tenant.ShortID(id)
	now := s.now()

	rec, err := s.repo.CreateWithDefaults(ctx,
		persistence.TenantRecord{
			ID:                    id,
			Slug:                  slug,
			DisplayName:           displayName,
			DefaultProvider:       provider,
			State:                 lifecycle.Active.String(),
			SubscriptionExpiresAt: input.SubscriptionExpiresAt,
			BasePrefix:            tenant.BuildBasePrefix(s.envKey, slug, shortID),
			ShortTenantID:         shortID,
			CreatedAt:             now,
		},
		persistence.ChannelRecord{ID: uuid.New(), Name: DefaultChannelName, State: lifecycle.Active.String()},
		persistence.QueueRecord{ID: uuid.New(), Name: DefaultQueueName, State: lifecycle.Active.String()},
	)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}

	logger := platformlogging.Ctx(ctx, s.logger).With(zap.String("tenant_id", rec.ID.String()), zap.String("slug", rec.Slug))
	logger.Info("tenant created", zap.String("base_prefix", rec.BasePrefix))

	if s.deps.Storage == nil {
		return toTenant(rec), nil
	}
	return s.provision(ctx, rec)
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}
	return toTenant(rec), nil
}

// GetBySlug returns a tenant by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (Tenant, error) {
	rec, err := s.repo.GetBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}
	return toTenant(rec), nil
}

// Update modifies mutable fields of a tenant.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Tenant, error) {
	verr := &ValidationError{Fields: FieldErrors{}}
	if input.DisplayName == nil && input.DefaultProvider == nil && input.State == nil && input.SubscriptionExpiresAt == nil {
		verr.add("body", "at least one field must be provided")
		return Tenant{}, verr
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}

	next := current
	if input.DisplayName != nil {
		name := strings.TrimSpace(*input.DisplayName)
		switch {
		case name == "":
			verr.add("displayName", "must not be empty")
		case len(name) > maxDisplayNameLength:
			verr.add("displayName", fmt.Sprintf("must be at most %d characters", maxDisplayNameLength))
		default:
			next.DisplayName = name
		}
	}
	if input.DefaultProvider != nil {
		// An empty string clears the preference.
		if strings.TrimSpace(*input.DefaultProvider) == "" {
			next.DefaultProvider = nil
		} else {
			next.DefaultProvider = normalizeProvider(input.DefaultProvider, verr)
		}
	}
	if input.State != nil {
		state, err := lifecycle.State(current.State).Transition(*input.State)
		if err != nil {
			verr.add("state", err.Error())
		}
		next.State = state.String()
	}
	if input.SubscriptionExpiresAt != nil {
		expires := input.SubscriptionExpiresAt.UTC()
		next.SubscriptionExpiresAt = &expires
	}
	if !verr.empty() {
		return Tenant{}, verr
	}

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}
	if updated.State != current.State {
		platformlogging.Ctx(ctx, s.logger).Info("tenant state changed",
			zap.String("tenant_id", id.String()),
			zap.String("from", current.State),
			zap.String("to", updated.State))
	}
	return toTenant(updated), nil
}

// Provision runs storage provisioning again for an existing tenant.
func (s *Service) Provision(ctx context.Context, id uuid.UUID) (Tenant, error) {
	if s.deps.Storage == nil {
		return Tenant{}, ErrNoStorage
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}
	return s.provision(ctx, rec)
}

// ProvisionStatus performs a live check and persists the result when it differs
// from the stored status.
func (s *Service) ProvisionStatus(ctx context.Context, id uuid.UUID) (ProvisioningStatus, error) {
	if s.deps.Storage == nil {
		return ProvisioningStatus{}, ErrNoStorage
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return ProvisioningStatus{}, mapPersistenceError(err)
	}

	res, checkErr := s.deps.Storage.Check(ctx, tenant.MediaPrefix(rec.BasePrefix))
	lastErr := errorText(checkErr)
	if res.Ready == rec.StorageReady && equalText(lastErr, rec.LastError) {
		return toTenant(rec).Provisioning, nil
	}

	updated, err := s.repo.UpdateProvisioning(ctx, id, res.Ready, lastErr)
	if err != nil {
		return ProvisioningStatus{}, mapPersistenceError(err)
	}
	return toTenant(updated).Provisioning, nil
}

func (s *Service) provision(ctx context.Context, rec persistence.TenantRecord) (Tenant, error) {
	logger := platformlogging.Ctx(ctx, s.logger).With(zap.String("tenant_id", rec.ID.String()))
	prefix := tenant.MediaPrefix(rec.BasePrefix)

	res, err := s.deps.Storage.Ensure(ctx, prefix)
	if err != nil {
		logger.Warn("storage provisioning failed", zap.String("prefix", prefix), zap.Error(err))
	} else {
		logger.Info("storage provisioned", zap.String("prefix", prefix), zap.Bool("ready", res.Ready))
	}

	updated, uerr := s.repo.UpdateProvisioning(ctx, rec.ID, res.Ready && err == nil, errorText(err))
	if uerr != nil {
		return Tenant{}, mapPersistenceError(uerr)
	}
	return toTenant(updated), nil
}

// DisableExpired moves tenants whose subscription lapsed to DISABLED and
// returns their ids.
func (s *Service) DisableExpired(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.repo.DisableExpired(ctx, s.now())
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	if len(ids) > 0 {
		fields := make([]string, 0, len(ids))
		for _, id := range ids {
			fields = append(fields, id.String())
		}
		platformlogging.Ctx(ctx, s.logger).Info("expired tenants disabled", zap.Strings("tenant_ids", fields))
	}
	return ids, nil
}

// ResolveTenantSpace returns a lightweight tenant Space for middleware consumption.
// Tenants that are not ACTIVE, or whose subscription expired, resolve to tenant.ErrDisabled.
func (s *Service) ResolveTenantSpace(ctx context.Context, id uuid.UUID) (tenant.Space, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return tenant.Space{}, err
	}
	if !t.State.IsActive() || t.Expired(s.now()) {
		return tenant.Space{}, fmt.Errorf("%w: %s", tenant.ErrDisabled, t.Slug)
	}

	space := tenant.Space{
		TenantID:      t.ID,
		Slug:          t.Slug,
		ShortTenantID: t.ShortTenantID,
		BasePrefix:    t.BasePrefix,
	}
	if t.DefaultProvider != nil {
		space.DefaultProvider = t.DefaultProvider.String()
	}
	return space, nil
}

func normalizeProvider(raw *string, verr *ValidationError) *string {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	p, err := channel.ParseProvider(*raw)
	if err != nil {
		verr.add("defaultProvider", "must be one of GTI, OFFICIAL, WEBCHAT")
		return nil
	}
	value := p.String()
	return &value
}

func toTenant(rec persistence.TenantRecord) Tenant {
	t := Tenant{
		ID:                    rec.ID,
		Slug:                  rec.Slug,
		DisplayName:           rec.DisplayName,
		State:                 lifecycle.State(rec.State),
		SubscriptionExpiresAt: rec.SubscriptionExpiresAt,
		BasePrefix:            rec.BasePrefix,
		ShortTenantID:         rec.ShortTenantID,
		CreatedAt:             rec.CreatedAt,
		UpdatedAt:             rec.UpdatedAt,
		Provisioning: ProvisioningStatus{
			StorageReady:      rec.StorageReady,
			LastProvisionedAt: rec.LastProvisionedAt,
			LastError:         rec.LastError,
		},
	}
	if rec.DefaultProvider != nil {
		if p, err := channel.ParseProvider(*rec.DefaultProvider); err == nil {
			t.DefaultProvider = &p
		}
	}
	return t
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflictSlug, err)
	default:
		return err
	}
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func equalText(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
