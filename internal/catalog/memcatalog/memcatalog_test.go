package memcatalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvstorage/xiovolumed/internal/catalog"
)

func TestRegisterGetUnregister(t *testing.T) {
	ctx := context.Background()
	c := New()

	require.NoError(t, c.Register(ctx, "v1", 4096))
	assert.True(t, catalog.IsAlreadyExists(c.Register(ctx, "v1", 4096)))

	e, err := c.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, catalog.Entry{Name: "v1", Size: 4096}, e)

	require.NoError(t, c.Unregister(ctx, "v1"))
	_, err = c.Get(ctx, "v1")
	assert.True(t, catalog.IsNotFound(err))
}

func TestResize(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.Register(ctx, "v1", 4096))
	require.NoError(t, c.Resize(ctx, "v1", 8192))
	e, err := c.Get(ctx, "v1")
	require.NoError(t, err)
	assert.EqualValues(t, 8192, e.Size)

	assert.True(t, catalog.IsNotFound(c.Resize(ctx, "missing", 1)))
}

func TestListVolumes(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.Register(ctx, "v1", 1))
	require.NoError(t, c.Register(ctx, "v2", 1))
	entries, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSnapshotTracking(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.Register(ctx, "v1", 1))

	require.NoError(t, c.AddSnapshot(ctx, "v1", "s1"))
	assert.True(t, catalog.IsAlreadyExists(c.AddSnapshot(ctx, "v1", "s1")))
	assert.True(t, catalog.IsNotFound(c.AddSnapshot(ctx, "missing", "s1")))

	require.NoError(t, c.AddSnapshot(ctx, "v1", "s2"))
	names, err := c.Snapshots(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, names)

	hadChildren, err := c.RemoveSnapshot(ctx, "v1", "s1")
	assert.True(t, hadChildren)
	assert.True(t, catalog.IsHasChildren(err))

	hadChildren, err = c.RemoveSnapshot(ctx, "v1", "s2")
	require.NoError(t, err)
	assert.False(t, hadChildren)

	hadChildren, err = c.RemoveSnapshot(ctx, "v1", "s1")
	require.NoError(t, err)
	assert.False(t, hadChildren)
}
