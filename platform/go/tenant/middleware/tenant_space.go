package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

// Resolver looks up the tenant Space for a tenant id. Implemented by the tenants service.
type Resolver interface {
	ResolveTenantSpace(ctx context.Context, tenantID uuid.UUID) (tenant.Space, error)
}

// Config controls middleware behavior.
type Config struct {
	EnvKey string
	// CacheTTL keeps resolved spaces in memory; zero disables caching.
	CacheTTL time.Duration
}

// WithTenantSpace resolves the tenant from the JWT claims and attaches tenant.Space to the context.
// Disabled tenants get 403, and so do tenants provisioned for another envKey.
func WithTenantSpace(resolver Resolver, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}
	if cfg.EnvKey == "" {
		panic("tenant middleware: envKey is required")
	}

	var cache *tenantCache
	if cfg.CacheTTL > 0 {
		cache = newTenantCache(cfg.CacheTTL)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := platformauth.UserFromContext(r.Context())
			if !ok || creds.TenantID == nil || *creds.TenantID == "" {
				httpx.WriteProblem(w, httpx.NewProblem("Unauthorized", "tenant claim required", httpx.ProblemTypeUnauthorized, http.StatusUnauthorized, nil))
				return
			}

			tid, err := uuid.Parse(*creds.TenantID)
			if err != nil {
				httpx.WriteProblem(w, httpx.NewProblem("Unauthorized", "invalid tenant id", httpx.ProblemTypeUnauthorized, http.StatusUnauthorized, nil))
				return
			}

			space, hit := cache.get(tid)
			if !hit {
				space, err = resolver.ResolveTenantSpace(r.Context(), tid)
				switch {
				case errors.Is(err, tenant.ErrDisabled):
					httpx.WriteProblem(w, httpx.NewProblem("Forbidden", err.Error(), httpx.ProblemTypeForbidden, http.StatusForbidden, nil))
					return
				case err != nil:
					platformlogging.FromRequest(r, zap.NewNop()).Info("tenant resolution failed", zap.String("tenant_id", tid.String()), zap.Error(err))
					httpx.WriteProblem(w, httpx.NewProblem("Unauthorized", "tenant not found", httpx.ProblemTypeUnauthorized, http.StatusUnauthorized, nil))
					return
				}

				if !tenant.BelongsToEnv(space.BasePrefix, cfg.EnvKey) {
					httpx.WriteProblem(w, httpx.NewProblem("Forbidden", "tenant env mismatch", httpx.ProblemTypeForbidden, http.StatusForbidden, nil))
					return
				}
				cache.put(space)
			}

			next.ServeHTTP(w, r.WithContext(tenant.WithSpace(r.Context(), space)))
		})
	}
}

type tenantCache struct {
	ttl   time.Duration
	mu    sync.Mutex
	items map[uuid.UUID]cacheItem
}

type cacheItem struct {
	space     tenant.Space
	expiresAt time.Time
}

func newTenantCache(ttl time.Duration) *tenantCache {
	return &tenantCache{ttl: ttl, items: make(map[uuid.UUID]cacheItem)}
}

func (c *tenantCache) get(id uuid.UUID) (tenant.Space, bool) {
	if c == nil {
		return tenant.Space{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[id]
	if !ok {
		return tenant.Space{}, false
	}
	if time.Now().After(item.expiresAt) {
		delete(c.items, id)
		return tenant.Space{}, false
	}
	return item.space, true
}

func (c *tenantCache) put(space tenant.Space) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[space.TenantID] = cacheItem{space: space, expiresAt: time.Now().Add(c.ttl)}
}
