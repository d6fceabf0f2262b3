package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestBuildBasePrefix(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("7f9c2d4e-1111-2222-3333-444455556666")
	short := ShortID(id)
	require.Equal(t, "7f9c2d4e", short)

	prefix := BuildBasePrefix("dev/", "acme-store", short)
	require.Equal(t, "dev/acme-store-7f9c2d4e/", prefix)
	require.Equal(t, "dev/acme-store-7f9c2d4e/media/", MediaPrefix(prefix))
	require.True(t, BelongsToEnv(prefix, "dev"))
	require.False(t, BelongsToEnv(prefix, "prod"))
}

func TestValidSlug(t *testing.T) {
	t.Parallel()

	require.True(t, ValidSlug("acme"))
	require.True(t, ValidSlug("acme-store-2"))
	require.False(t, ValidSlug("Acme"))
	require.False(t, ValidSlug("acme--store"))
	require.False(t, ValidSlug("-acme"))
	require.False(t, ValidSlug(""))
}

func TestSpaceContext(t *testing.T) {
	t.Parallel()

	_, ok := IDFromContext(context.Background())
	require.False(t, ok)

	id := uuid.New()
	ctx := WithSpace(context.Background(), Space{TenantID: id, Slug: "acme"})
	got, ok := IDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, got)
}
