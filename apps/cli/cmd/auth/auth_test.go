package auth

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	tenantID, userID := uuid.NewString(), uuid.NewString()

	cmd := Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--secret", "s3cret", "--tenant-id", tenantID, "--user-id", userID, "--email", "ana@example.com", "--admin"})
	require.NoError(t, cmd.Execute())

	claims, err := platformauth.HS256TokenVerifier("s3cret", "palmyra-helpdesk")(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)

	creds, err := platformauth.DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.Equal(t, userID, creds.Id)
	require.Equal(t, tenantID, *creds.TenantID)
	require.True(t, creds.IsAdmin)
}

func TestDevTokenCommand(t *testing.T) {
	cmd := Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"devtoken", "--tenant", "acme", "--user-id", "u1", "--email", "u1@example.com"})
	require.NoError(t, cmd.Execute())

	claims, err := platformauth.UnsignedTokenVerifier()(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "acme", claims["tenantId"])
	require.Equal(t, "u1", claims["sub"])
}

func TestTokenCommandRejectsBadTenant(t *testing.T) {
	cmd := Command()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--secret", "s3cret", "--tenant-id", "acme", "--user-id", "u1"})
	require.Error(t, cmd.Execute())
}
