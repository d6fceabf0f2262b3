package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	t.Parallel()

	issuer, err := NewTokenIssuer("s3cr3t", "helpdesk", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token, expiresAt, err := issuer.Issue("user-1", TokenClaims{TenantID: "tenant-1", Email: "a@example.com", Role: RoleAgent}, now)
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(time.Hour), expiresAt, time.Second)

	claims, err := HS256TokenVerifier("s3cr3t", "helpdesk")(context.Background(), token)
	require.NoError(t, err)

	creds, err := DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.Equal(t, "user-1", creds.Id)
	require.Equal(t, "tenant-1", *creds.TenantID)
	require.Equal(t, RoleAgent, creds.Role)

	_, err = HS256TokenVerifier("other", "helpdesk")(context.Background(), token)
	require.Error(t, err)
}

func TestTokenIssuerExpired(t *testing.T) {
	t.Parallel()

	issuer, err := NewTokenIssuer("s3cr3t", "", time.Minute)
	require.NoError(t, err)

	token, _, err := issuer.Issue("user-1", TokenClaims{TenantID: "t"}, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = HS256TokenVerifier("s3cr3t", "")(context.Background(), token)
	require.Error(t, err)
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewTokenIssuer("", "", 0)
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestExtractJWTToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "bearer abc")
	token, ok := ExtractJWTToken(req)
	require.True(t, ok)
	require.Equal(t, "abc", token)

	req = httptest.NewRequest("GET", "/ws?access_token=xyz", nil)
	_, ok = ExtractJWTToken(req)
	require.False(t, ok)

	req.Header.Set("Upgrade", "websocket")
	token, ok = ExtractJWTToken(req)
	require.True(t, ok)
	require.Equal(t, "xyz", token)
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	_, err := HashPassword("short")
	require.ErrorIs(t, err, ErrInvalidPassword)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NoError(t, ComparePassword(hash, "correct horse"))
	require.ErrorIs(t, ComparePassword(hash, "wrong horse"), ErrInvalidPassword)
}
