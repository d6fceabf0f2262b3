package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDisabled is returned when a tenant exists but may not use the helpdesk.
var ErrDisabled = errors.New("tenant disabled")

// Space captures the resolved tenant for a request. Middleware attaches it to
// the context once the tenant claim has been checked against the registry.
type Space struct {
	TenantID      uuid.UUID
	Slug          string
	ShortTenantID string
	BasePrefix    string
	// DefaultProvider is the provider key preferred when the tenant starts a
	// conversation. Empty when unset.
	DefaultProvider string
}

type ctxKey string

const spaceKey ctxKey = "HELPDESK_TENANT_SPACE"

// WithSpace returns a derived context carrying the tenant Space.
func WithSpace(ctx context.Context, space Space) context.Context {
	return context.WithValue(ctx, spaceKey, space)
}

// FromContext extracts the tenant Space and a boolean indicating presence.
func FromContext(ctx context.Context) (Space, bool) {
	space, ok := ctx.Value(spaceKey).(Space)
	return space, ok
}

// IDFromContext returns the tenant id of the current request, if resolved.
func IDFromContext(ctx context.Context) (uuid.UUID, bool) {
	space, ok := FromContext(ctx)
	if !ok || space.TenantID == uuid.Nil {
		return uuid.Nil, false
	}
	return space.TenantID, true
}
