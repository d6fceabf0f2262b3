package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

func TestResolveObjectLocation(t *testing.T) {
	space := tenant.Space{
		TenantID:      uuid.New(),
		Slug:          "acme-co",
		ShortTenantID: "12345678",
		BasePrefix:    "dev/acme-co-12345678/",
	}

	convID, msgID := uuid.NewString(), uuid.NewString()
	loc, err := ResolveObjectLocation(space, "helpdesk-dev-media", MediaKey(convID, msgID, ".jpg"))
	require.NoError(t, err)
	require.Equal(t, "helpdesk-dev-media", loc.Bucket)
	require.Equal(t, "dev/acme-co-12345678/media/"+convID+"/"+msgID+".jpg", loc.FullPath)
}

func TestResolveObjectLocation_trimsSlashAndValidates(t *testing.T) {
	space := tenant.Space{
		TenantID:   uuid.New(),
		Slug:       "acme-co",
		BasePrefix: "dev/acme-co-12345678", // no trailing slash
	}

	loc, err := ResolveObjectLocation(space, "bucket", "/media/"+MarkerObject)
	require.NoError(t, err)
	require.Equal(t, "dev/acme-co-12345678/media/.keep", loc.FullPath)

	_, err = ResolveObjectLocation(space, "", "file")
	require.Error(t, err)

	_, err = ResolveObjectLocation(space, "bucket", " ")
	require.Error(t, err)

	_, err = ResolveObjectLocation(space, "bucket", "../other-tenant/file")
	require.Error(t, err)

	space.BasePrefix = ""
	_, err = ResolveObjectLocation(space, "bucket", "file")
	require.Error(t, err)
}

func TestMediaKeyWithoutExtension(t *testing.T) {
	require.Equal(t, "media/c/m", MediaKey("c", "m", ""))
}
