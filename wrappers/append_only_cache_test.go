package wrappers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianmcphee/persidict"
	"github.com/adrianmcphee/persidict/wrappers"
)

func newAppendOnlyCache() *wrappers.AppendOnlyCacheWrapper {
	cfg := persidict.DefaultConfig()
	cfg.AppendOnly = true
	main := persidict.NewMemoryBackend(cfg)
	valueCache := persidict.NewMemoryBackend(persidict.DefaultConfig())
	return wrappers.NewAppendOnlyCacheWrapper(main, valueCache)
}

func TestAppendOnlyCacheServesStaleCacheWithoutRevalidation(t *testing.T) {
	cache := newAppendOnlyCache()
	ctx := context.Background()
	key := persidict.MustSafeKey("events", "1")

	require.NoError(t, cache.Set(ctx, key, "first"))

	v, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	// A second Get must hit the cache: an append-only value never changes,
	// so there is nothing to revalidate.
	v, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "first", v, "cached Get")
}

func TestAppendOnlyCacheForbidsDeleteAndDiscard(t *testing.T) {
	cache := newAppendOnlyCache()
	ctx := context.Background()
	key := persidict.MustSafeKey("events", "2")

	require.NoError(t, cache.Set(ctx, key, "created"))

	assert.True(t, persidict.IsMutationPolicy(cache.Delete(ctx, key)), "Delete should be rejected as a MutationPolicy violation")
	_, discardErr := cache.Discard(ctx, key)
	assert.True(t, persidict.IsMutationPolicy(discardErr), "Discard should be rejected as a MutationPolicy violation")
}

func TestAppendOnlyCacheContainsChecksCacheBeforeMain(t *testing.T) {
	cache := newAppendOnlyCache()
	ctx := context.Background()
	key := persidict.MustSafeKey("events", "3")

	exists, err := cache.Contains(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "Contains before write")

	require.NoError(t, cache.Set(ctx, key, "v1"))

	exists, err = cache.Contains(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists, "Contains after write")
}
