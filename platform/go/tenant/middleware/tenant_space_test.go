package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

type resolverFunc func(ctx context.Context, id uuid.UUID) (tenant.Space, error)

func (f resolverFunc) ResolveTenantSpace(ctx context.Context, id uuid.UUID) (tenant.Space, error) {
	return f(ctx, id)
}

func requestAs(tenantID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	creds := &platformauth.UserCredentials{Id: uuid.NewString(), Role: platformauth.RoleAgent}
	if tenantID != "" {
		creds.TenantID = &tenantID
	}
	return req.WithContext(platformauth.WithUser(req.Context(), creds))
}

func TestWithTenantSpace(t *testing.T) {
	t.Parallel()

	tid := uuid.New()
	var calls atomic.Int32
	resolver := resolverFunc(func(ctx context.Context, id uuid.UUID) (tenant.Space, error) {
		calls.Add(1)
		require.Equal(t, tid, id)
		return tenant.Space{TenantID: id, Slug: "acme", BasePrefix: "dev/acme-12345678/"}, nil
	})

	var seen tenant.Space
	handler := WithTenantSpace(resolver, Config{EnvKey: "dev", CacheTTL: time.Minute})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = tenant.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestAs(tid.String()))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	require.Equal(t, tid, seen.TenantID)
	require.EqualValues(t, 1, calls.Load(), "second request must hit the cache")
}

func TestWithTenantSpaceRejections(t *testing.T) {
	t.Parallel()

	tid := uuid.New()
	cases := []struct {
		name     string
		tenantID string
		resolve  func(ctx context.Context, id uuid.UUID) (tenant.Space, error)
		want     int
	}{
		{
			name: "missing claim",
			want: http.StatusUnauthorized,
		},
		{
			name:     "malformed claim",
			tenantID: "acme",
			want:     http.StatusUnauthorized,
		},
		{
			name:     "disabled tenant",
			tenantID: tid.String(),
			resolve: func(context.Context, uuid.UUID) (tenant.Space, error) {
				return tenant.Space{}, tenant.ErrDisabled
			},
			want: http.StatusForbidden,
		},
		{
			name:     "other env",
			tenantID: tid.String(),
			resolve: func(ctx context.Context, id uuid.UUID) (tenant.Space, error) {
				return tenant.Space{TenantID: id, BasePrefix: "prod/acme-12345678/"}, nil
			},
			want: http.StatusForbidden,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resolve := tc.resolve
			if resolve == nil {
				resolve = func(context.Context, uuid.UUID) (tenant.Space, error) {
					t.Fatal("resolver must not be called")
					return tenant.Space{}, nil
				}
			}
			handler := WithTenantSpace(resolverFunc(resolve), Config{EnvKey: "dev"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next must not be called")
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requestAs(tc.tenantID))
			require.Equal(t, tc.want, rec.Code)
		})
	}
}
