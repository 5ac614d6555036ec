package persidict_test

import (
	"context"
	"errors"
	"testing"

	"github.com/adrianmcphee/persidict"
	"github.com/adrianmcphee/persidict/backendtest"
)

func TestMemoryBackendCompliance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) persidict.PersiDict {
		return persidict.NewMemoryBackend(persidict.DefaultConfig())
	})
}

func TestMemoryBackendAppendOnly(t *testing.T) {
	cfg := persidict.DefaultConfig()
	cfg.AppendOnly = true
	store := persidict.NewMemoryBackend(cfg)
	ctx := context.Background()
	key := persidict.MustSafeKey("events", "1")

	if err := store.Set(ctx, key, "created"); err != nil {
		t.Fatalf("first Set failed: %v", err)
	}
	if err := store.Set(ctx, key, "overwritten"); !errors.Is(err, persidict.ErrMutationPolicy) {
		t.Errorf("overwrite under AppendOnly: got %v, want ErrMutationPolicy", err)
	}
	if err := store.Delete(ctx, key); !errors.Is(err, persidict.ErrMutationPolicy) {
		t.Errorf("delete under AppendOnly: got %v, want ErrMutationPolicy", err)
	}
}

func TestMemoryBackendValueValidator(t *testing.T) {
	cfg := persidict.DefaultConfig()
	cfg.ValueValidator = func(v any) error {
		if _, ok := v.(int); !ok {
			return errors.New("only ints allowed")
		}
		return nil
	}
	store := persidict.NewMemoryBackend(cfg)
	ctx := context.Background()
	key := persidict.MustSafeKey("numbers", "1")

	if err := store.Set(ctx, key, "not an int"); !errors.Is(err, persidict.ErrInvalidData) {
		t.Errorf("invalid value: got %v, want ErrInvalidData", err)
	}
	if err := store.Set(ctx, key, 7); err != nil {
		t.Errorf("valid value rejected: %v", err)
	}
}

func TestMemoryBackendETagsAreMonotonic(t *testing.T) {
	store := persidict.NewMemoryBackend(persidict.DefaultConfig())
	ctx := context.Background()
	key := persidict.MustSafeKey("counter")

	if err := store.Set(ctx, key, 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	first, err := store.ETag(ctx, key)
	if err != nil {
		t.Fatalf("ETag failed: %v", err)
	}
	if err := store.Set(ctx, key, 2); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}
	second, err := store.ETag(ctx, key)
	if err != nil {
		t.Fatalf("ETag failed: %v", err)
	}
	if first == second {
		t.Error("ETag should change after a write")
	}
}
