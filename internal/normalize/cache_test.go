package normalize

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheKey_Folding(t *testing.T) {
	variants := []string{
		"Computer Science, MIT",
		"computer science, mit",
		"  Computer   Science,   MIT  ",
		"COMPUTER SCIENCE, MIT",
	}
	want := CacheKey(variants[0])
	for _, v := range variants[1:] {
		assert.Equal(t, want, CacheKey(v), "variant %q must fold to the same key", v)
	}

	assert.NotEqual(t, CacheKey("History, Yale"), CacheKey("History, Brown"))
}

func TestCache_GetPutRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "Computer Science, MIT")
	require.NoError(t, err)
	assert.False(t, hit)

	labels := Labels{Program: "Computer Science", University: "Massachusetts Institute of Technology"}
	require.NoError(t, c.Put(ctx, "Computer Science, MIT", labels))

	// Read path folds the same way as the write path.
	got, hit, err := c.Get(ctx, "  computer SCIENCE,  mit ")
	require.NoError(t, err)
	assert.True(t, hit, "folded duplicate must hit")
	assert.Equal(t, labels, got)
}

func TestCache_FirstWriteWins(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	first := Labels{Program: "Physics", University: "Caltech"}
	require.NoError(t, c.Put(ctx, "physics caltech", first))
	require.NoError(t, c.Put(ctx, "Physics Caltech", Labels{Program: "Other", University: "Other"}))

	got, hit, err := c.Get(ctx, "physics caltech")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, first, got, "cached output is immutable")
}

func TestCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c, err := OpenCache(path)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "econ harvard", Labels{Program: "Economics", University: "Harvard University"}))
	require.NoError(t, c.Close())

	c2, err := OpenCache(path)
	require.NoError(t, err)
	defer c2.Close()

	_, hit, err := c2.Get(ctx, "Econ Harvard")
	require.NoError(t, err)
	assert.True(t, hit, "cache is durable across restarts")

	n, err := c2.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
