package wrappers_test

import (
	"context"
	"testing"

	"github.com/adrianmcphee/persidict"
	"github.com/adrianmcphee/persidict/wrappers"
)

func newMutableCache() (*wrappers.MutableCacheWrapper, persidict.PersiDict) {
	main := persidict.NewMemoryBackend(persidict.DefaultConfig())
	valueCache := persidict.NewMemoryBackend(persidict.DefaultConfig())
	etagCache := persidict.NewMemoryBackend(persidict.DefaultConfig())
	return wrappers.NewMutableCacheWrapper(main, valueCache, etagCache), main
}

func TestMutableCacheRefetchesWhenMainETagChanges(t *testing.T) {
	cache, main := newMutableCache()
	ctx := context.Background()
	key := persidict.MustSafeKey("widgets", "1")

	if err := cache.Set(ctx, key, "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Mutate main directly: main's ETag changes, so the wrapper must
	// refetch instead of serving the cached "v1".
	if err := main.Set(ctx, key, "tampered"); err != nil {
		t.Fatalf("direct main Set failed: %v", err)
	}

	v, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "tampered" {
		t.Errorf("Get = %v, want %q (GetItemIf against main always observes main's ETag)", v, "tampered")
	}
}

func TestMutableCacheInvalidatesOnOverwrite(t *testing.T) {
	cache, _ := newMutableCache()
	ctx := context.Background()
	key := persidict.MustSafeKey("widgets", "2")

	if err := cache.Set(ctx, key, "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Set(ctx, key, "v2"); err != nil {
		t.Fatalf("overwrite Set failed: %v", err)
	}
	v, err := cache.Get(ctx, key)
	if err != nil || v != "v2" {
		t.Errorf("Get = %v, %v; want %q, nil", v, err, "v2")
	}
}

func TestMutableCacheMirrorsDeleteAcrossCaches(t *testing.T) {
	cache, _ := newMutableCache()
	ctx := context.Background()
	key := persidict.MustSafeKey("widgets", "3")

	if err := cache.Set(ctx, key, "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := cache.Get(ctx, key); !persidict.IsNotFound(err) {
		t.Errorf("Get after Delete: got %v, want KeyMissing", err)
	}
}

func TestMutableCacheGetSubdictIsIndependentlyCached(t *testing.T) {
	cache, _ := newMutableCache()
	ctx := context.Background()
	prefix := persidict.MustSafeKey("accounts", "9")

	sub, err := cache.GetSubdict(ctx, prefix)
	if err != nil {
		t.Fatalf("GetSubdict failed: %v", err)
	}
	childKey := persidict.MustSafeKey("name")
	if err := sub.Set(ctx, childKey, "jane"); err != nil {
		t.Fatalf("Set on subdict failed: %v", err)
	}
	v, err := sub.Get(ctx, childKey)
	if err != nil || v != "jane" {
		t.Errorf("subdict Get = %v, %v; want %q, nil", v, err, "jane")
	}
}
