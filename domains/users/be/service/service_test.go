package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-helpdesk/domains/users/be/repo"
	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/lifecycle"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
)

type mockRepository struct {
	createFn func(ctx context.Context, rec persistence.UserRecord) (persistence.UserRecord, error)
	listFn   func(ctx context.Context, tenantID uuid.UUID, params persistence.ListUsersParams) (persistence.ListUsersResult, error)
}

func (m *mockRepository) Create(ctx context.Context, rec persistence.UserRecord) (persistence.UserRecord, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, rec)
}

func (m *mockRepository) List(ctx context.Context, tenantID uuid.UUID, params persistence.ListUsersParams) (persistence.ListUsersResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, tenantID, params)
}

func (m *mockRepository) Get(context.Context, uuid.UUID, uuid.UUID) (persistence.UserRecord, error) {
	panic("Get not configured")
}

func (m *mockRepository) GetByEmail(context.Context, uuid.UUID, string) (persistence.UserRecord, error) {
	panic("GetByEmail not configured")
}

func (m *mockRepository) Update(context.Context, persistence.UserRecord) (persistence.UserRecord, error) {
	panic("Update not configured")
}

const secret = "test-secret"

type fixture struct {
	svc      Service
	repo     *repo.MemoryRepository
	tenantID uuid.UUID
}

func newFixture(t *testing.T, tenantState string, expires *time.Time) *fixture {
	t.Helper()
	memory := repo.NewMemoryRepository()
	tenantID := uuid.New()
	memory.AddTenant(persistence.TenantRecord{ID: tenantID, Slug: "acme", State: tenantState, SubscriptionExpiresAt: expires})

	issuer, err := platformauth.NewTokenIssuer(secret, "helpdesk", time.Hour)
	require.NoError(t, err)
	return &fixture{
		svc:      New(memory, memory, issuer, zaptest.NewLogger(t)),
		repo:     memory,
		tenantID: tenantID,
	}
}

func TestServiceCreateValidation(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{}, repo.NewMemoryRepository(), nil, zaptest.NewLogger(t))

	_, err := svc.Create(context.Background(), uuid.New(), CreateInput{Role: "owner", Password: "short"})
	require.Error(t, err)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Contains(t, validationErr.Fields, "email")
	require.Contains(t, validationErr.Fields, "fullName")
	require.Contains(t, validationErr.Fields, "role")
	require.Contains(t, validationErr.Fields, "password")
}

func TestServiceCreateConflict(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{
		createFn: func(ctx context.Context, rec persistence.UserRecord) (persistence.UserRecord, error) {
			require.Equal(t, "ana@example.com", rec.Email)
			require.Equal(t, string(RoleAgent), rec.Role)
			require.Nil(t, rec.PasswordHash)
			return persistence.UserRecord{}, persistence.ErrConflict
		},
	}, repo.NewMemoryRepository(), nil, zaptest.NewLogger(t))

	_, err := svc.Create(context.Background(), uuid.New(), CreateInput{Email: "Ana@Example.com", FullName: "Ana"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestServiceListClampsPaging(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	svc := New(&mockRepository{
		listFn: func(ctx context.Context, id uuid.UUID, params persistence.ListUsersParams) (persistence.ListUsersResult, error) {
			require.Equal(t, tenantID, id)
			require.Equal(t, 1, params.Page)
			require.Equal(t, 100, params.PageSize)
			require.Nil(t, params.Email)
			return persistence.ListUsersResult{TotalItems: 250}, nil
		},
	}, repo.NewMemoryRepository(), nil, zaptest.NewLogger(t))

	blank := "  "
	result, err := svc.List(context.Background(), tenantID, ListOptions{Email: &blank, Page: -2, PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalPages)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "ACTIVE", nil)
	ctx := context.Background()

	admin, err := f.svc.Create(ctx, f.tenantID, CreateInput{Email: "admin@acme.com", FullName: "Admin", Role: "admin", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, admin.Role)

	result, err := f.svc.Login(ctx, LoginInput{TenantSlug: "ACME", Email: "Admin@acme.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.Equal(t, admin.ID, result.User.ID)
	require.False(t, result.ExpiresAt.IsZero())

	claims, err := platformauth.HS256TokenVerifier(secret, "helpdesk")(ctx, result.Token)
	require.NoError(t, err)
	require.Equal(t, admin.ID.String(), claims["sub"])
	require.Equal(t, f.tenantID.String(), claims["tenantId"])
	require.Equal(t, "admin", claims["role"])
	require.Equal(t, true, claims["isAdmin"])

	cases := []LoginInput{
		{TenantSlug: "acme", Email: "admin@acme.com", Password: "wrong-pass"},
		{TenantSlug: "acme", Email: "nobody@acme.com", Password: "s3cret-pass"},
		{TenantSlug: "other", Email: "admin@acme.com", Password: "s3cret-pass"},
	}
	for _, in := range cases {
		_, err := f.svc.Login(ctx, in)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	disabled := lifecycle.Disabled
	_, err = f.svc.Update(ctx, f.tenantID, admin.ID, UpdateInput{State: &disabled})
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, LoginInput{TenantSlug: "acme", Email: "admin@acme.com", Password: "s3cret-pass"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var verr *ValidationError
	_, err = f.svc.Login(ctx, LoginInput{})
	require.ErrorAs(t, err, &verr)
}

func TestLoginInactiveTenant(t *testing.T) {
	t.Parallel()

	expired := time.Now().Add(-time.Hour)
	for name, f := range map[string]*fixture{
		"disabled": newFixture(t, "DISABLED", nil),
		"expired":  newFixture(t, "ACTIVE", &expired),
	} {
		_, err := f.svc.Create(context.Background(), f.tenantID, CreateInput{Email: "a@acme.com", FullName: "A", Password: "long-enough"})
		require.NoError(t, err, name)
		_, err = f.svc.Login(context.Background(), LoginInput{TenantSlug: "acme", Email: "a@acme.com", Password: "long-enough"})
		require.ErrorIs(t, err, ErrTenantDisabled, name)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "ACTIVE", nil)
	ctx := context.Background()

	user, err := f.svc.Create(ctx, f.tenantID, CreateInput{Email: "bia@acme.com", FullName: "Bia"})
	require.NoError(t, err)

	role := "ADMIN"
	updated, err := f.svc.Update(ctx, f.tenantID, user.ID, UpdateInput{Role: &role})
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, updated.Role)

	name := "Beatriz"
	updated, err = f.svc.UpdateSelf(ctx, f.tenantID, user.ID, UpdateSelfInput{FullName: &name})
	require.NoError(t, err)
	require.Equal(t, "Beatriz", updated.FullName)

	var verr *ValidationError
	_, err = f.svc.UpdateSelf(ctx, f.tenantID, user.ID, UpdateSelfInput{})
	require.ErrorAs(t, err, &verr)
	_, err = f.svc.Update(ctx, f.tenantID, user.ID, UpdateInput{})
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.Get(ctx, uuid.New(), user.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, f.tenantID, user.ID))
	_, err = f.svc.Get(ctx, f.tenantID, user.ID)
	require.ErrorIs(t, err, ErrNotFound)

	list, err := f.svc.List(ctx, f.tenantID, ListOptions{})
	require.NoError(t, err)
	require.Zero(t, list.TotalItems)
}
