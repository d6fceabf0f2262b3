package provisioning

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageProvisioner(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	p := NewLocalStorageProvisioner(base)
	ctx := context.Background()
	prefix := "dev/acme-1a2b3c4d/media/"

	res, err := p.Check(ctx, prefix)
	require.NoError(t, err)
	require.False(t, res.Ready)

	res, err = p.Ensure(ctx, prefix)
	require.NoError(t, err)
	require.True(t, res.Ready)
	_, err = os.Stat(filepath.Join(base, "dev", "acme-1a2b3c4d", "media", ".keep"))
	require.NoError(t, err)

	res, err = p.Ensure(ctx, prefix)
	require.NoError(t, err, "ensure is idempotent")
	require.True(t, res.Ready)

	res, err = p.Check(ctx, prefix)
	require.NoError(t, err)
	require.True(t, res.Ready)
}

func TestMarkerNameRejectsBadPrefixes(t *testing.T) {
	t.Parallel()

	_, err := markerName("  ")
	require.Error(t, err)
	_, err = markerName("dev/../etc/")
	require.Error(t, err)

	name, err := markerName("dev/acme-1a2b3c4d/media")
	require.NoError(t, err)
	require.Equal(t, "dev/acme-1a2b3c4d/media/.keep", name)
}
