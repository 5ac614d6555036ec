package persidict_test

import (
	"context"
	"testing"

	"github.com/adrianmcphee/persidict"
	"github.com/adrianmcphee/persidict/backendtest"
	"github.com/adrianmcphee/persidict/codec"
)

func TestFileDirBackendCompliance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) persidict.PersiDict {
		store, err := persidict.NewFileDirBackend(t.TempDir(), codec.JSON{}, persidict.DefaultConfig())
		if err != nil {
			t.Fatalf("NewFileDirBackend failed: %v", err)
		}
		return store
	})
}

func TestFileDirBackendPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := persidict.MustSafeKey("durable", "value")

	first, err := persidict.NewFileDirBackend(dir, codec.JSON{}, persidict.DefaultConfig())
	if err != nil {
		t.Fatalf("NewFileDirBackend failed: %v", err)
	}
	if err := first.Set(ctx, key, "saved"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second, err := persidict.NewFileDirBackend(dir, codec.JSON{}, persidict.DefaultConfig())
	if err != nil {
		t.Fatalf("reopening NewFileDirBackend failed: %v", err)
	}
	v, err := second.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get from reopened backend failed: %v", err)
	}
	if v != "saved" {
		t.Errorf("Get = %v, want %q", v, "saved")
	}
}

func TestFileDirBackendETagChangesOnWrite(t *testing.T) {
	store, err := persidict.NewFileDirBackend(t.TempDir(), codec.JSON{}, persidict.DefaultConfig())
	if err != nil {
		t.Fatalf("NewFileDirBackend failed: %v", err)
	}
	ctx := context.Background()
	key := persidict.MustSafeKey("file", "a")

	if err := store.Set(ctx, key, "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	first, err := store.ETag(ctx, key)
	if err != nil {
		t.Fatalf("ETag failed: %v", err)
	}
	if err := store.Set(ctx, key, "v2"); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}
	second, err := store.ETag(ctx, key)
	if err != nil {
		t.Fatalf("ETag failed: %v", err)
	}
	if first == second {
		t.Error("ETag should change after overwrite (atomic rename replaces the inode)")
	}
}

func TestFileDirBackendKeysRoundTripThroughDigestSuffix(t *testing.T) {
	store, err := persidict.NewFileDirBackend(t.TempDir(), codec.JSON{}, persidict.DefaultConfig())
	if err != nil {
		t.Fatalf("NewFileDirBackend failed: %v", err)
	}
	ctx := context.Background()
	original := persidict.MustSafeKey("Widgets", "Report")

	if err := store.Set(ctx, original, "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	found := false
	for _, k := range keys {
		if k.Equal(original) {
			found = true
		}
	}
	if !found {
		t.Errorf("Keys() = %v, want to include the original-case key %v after digest-suffix parsing", keys, original)
	}
}
