// Package backendtest is a shared compliance suite runnable against any
// persidict.PersiDict implementation, generalized from the teacher's
// TestBackendCompliance table-driven pattern (backend_test.go) from one
// fixed Backend interface to PersiDict's mapping-plus-conditional surface.
package backendtest

import (
	"context"
	"errors"
	"testing"

	"github.com/adrianmcphee/persidict"
)

// Factory builds a fresh, empty PersiDict for one subtest. Backends that
// need teardown should register it with t.Cleanup inside the factory.
type Factory func(t *testing.T) persidict.PersiDict

// Run exercises the full PersiDict contract against store, grouped into
// subtests the way the teacher grouped BasicCRUD/ETagOperations/
// ListOperations/ErrorHandling under one top-level t.Run(tc.name, ...).
func Run(t *testing.T, newStore Factory) {
	t.Run("BasicCRUD", func(t *testing.T) { testBasicCRUD(t, newStore(t)) })
	t.Run("Discard", func(t *testing.T) { testDiscard(t, newStore(t)) })
	t.Run("ConditionalProtocol", func(t *testing.T) { testConditionalProtocol(t, newStore(t)) })
	t.Run("Jokers", func(t *testing.T) { testJokers(t, newStore(t)) })
	t.Run("Listing", func(t *testing.T) { testListing(t, newStore(t)) })
	t.Run("Subdict", func(t *testing.T) { testSubdict(t, newStore(t)) })
	t.Run("ErrorHandling", func(t *testing.T) { testErrorHandling(t, newStore(t)) })
}

func testBasicCRUD(t *testing.T, store persidict.PersiDict) {
	ctx := context.Background()
	key := persidict.MustSafeKey("widgets", "one")

	if _, err := store.Get(ctx, key); !persidict.IsNotFound(err) {
		t.Fatalf("Get on absent key: got %v, want KeyMissing", err)
	}

	if err := store.Set(ctx, key, "hello"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "hello" {
		t.Errorf("Get = %v, want %q", v, "hello")
	}

	exists, err := store.Contains(ctx, key)
	if err != nil || !exists {
		t.Errorf("Contains = %v, %v; want true, nil", exists, err)
	}

	if err := store.Set(ctx, key, "world"); err != nil {
		t.Fatalf("overwrite Set failed: %v", err)
	}
	v, err = store.Get(ctx, key)
	if err != nil || v != "world" {
		t.Errorf("Get after overwrite = %v, %v; want %q, nil", v, err, "world")
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, key); !persidict.IsNotFound(err) {
		t.Errorf("second Delete: got %v, want KeyMissing", err)
	}
}

func testDiscard(t *testing.T, store persidict.PersiDict) {
	ctx := context.Background()
	key := persidict.MustSafeKey("widgets", "discard")

	removed, err := store.Discard(ctx, key)
	if err != nil || removed {
		t.Errorf("Discard on absent key = %v, %v; want false, nil", removed, err)
	}

	if err := store.Set(ctx, key, 42); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	removed, err = store.Discard(ctx, key)
	if err != nil || !removed {
		t.Errorf("Discard on present key = %v, %v; want true, nil", removed, err)
	}
}

func testConditionalProtocol(t *testing.T, store persidict.PersiDict) {
	ctx := context.Background()
	key := persidict.MustSafeKey("widgets", "conditional")

	res, err := store.SetItemIf(ctx, key, "v1", persidict.ItemNotAvailable, persidict.ETagIsTheSame)
	if err != nil {
		t.Fatalf("initial SetItemIf failed: %v", err)
	}
	if !res.ConditionWasSatisfied {
		t.Fatal("initial create against ItemNotAvailable should be satisfied")
	}
	firstETag := res.ResultingETag

	res, err = store.SetItemIf(ctx, key, "v2", "stale-etag", persidict.ETagIsTheSame)
	if err != nil {
		t.Fatalf("conflicting SetItemIf errored: %v", err)
	}
	if res.ConditionWasSatisfied {
		t.Error("SetItemIf against a stale ETag should not be satisfied")
	}

	res, err = store.SetItemIf(ctx, key, "v2", firstETag, persidict.ETagIsTheSame)
	if err != nil {
		t.Fatalf("correct-ETag SetItemIf errored: %v", err)
	}
	if !res.ConditionWasSatisfied {
		t.Fatal("SetItemIf against the current ETag should be satisfied")
	}
	if res.NewValue != "v2" {
		t.Errorf("NewValue = %v, want v2", res.NewValue)
	}

	getRes, err := store.GetItemIf(ctx, key, res.ResultingETag, persidict.ETagHasChanged, persidict.IfETagChanged)
	if err != nil {
		t.Fatalf("GetItemIf failed: %v", err)
	}
	if getRes.ConditionWasSatisfied {
		t.Error("ETagHasChanged against the current ETag should not be satisfied")
	}
	if !persidict.IsValueNotRetrieved(getRes.NewValue) {
		t.Errorf("IfETagChanged with unchanged ETag should skip retrieval, got %v", getRes.NewValue)
	}

	discardRes, err := store.DiscardIf(ctx, key, "stale-etag", persidict.ETagIsTheSame)
	if err != nil {
		t.Fatalf("conflicting DiscardIf errored: %v", err)
	}
	if discardRes.ConditionWasSatisfied {
		t.Error("DiscardIf against a stale ETag should not be satisfied")
	}

	discardRes, err = store.DiscardIf(ctx, key, getRes.ActualETag, persidict.ETagIsTheSame)
	if err != nil {
		t.Fatalf("correct-ETag DiscardIf errored: %v", err)
	}
	if !discardRes.ConditionWasSatisfied {
		t.Fatal("DiscardIf against the current ETag should be satisfied")
	}
}

func testJokers(t *testing.T, store persidict.PersiDict) {
	ctx := context.Background()
	key := persidict.MustSafeKey("widgets", "jokers")

	if err := store.Set(ctx, key, "original"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res, err := store.SetItemIf(ctx, key, persidict.KeepCurrent, persidict.ItemNotAvailable, persidict.AnyETag)
	if err != nil {
		t.Fatalf("KeepCurrent SetItemIf errored: %v", err)
	}
	if !res.ConditionWasSatisfied {
		t.Error("KeepCurrent should report satisfied as a no-op")
	}
	v, err := store.Get(ctx, key)
	if err != nil || v != "original" {
		t.Errorf("value after KeepCurrent = %v, %v; want %q, nil", v, err, "original")
	}

	res, err = store.SetItemIf(ctx, key, persidict.DeleteCurrent, persidict.ItemNotAvailable, persidict.AnyETag)
	if err != nil {
		t.Fatalf("DeleteCurrent SetItemIf errored: %v", err)
	}
	if !res.ConditionWasSatisfied || !persidict.IsItemNotAvailable(res.ResultingETag) {
		t.Errorf("DeleteCurrent result = %+v, want satisfied with ItemNotAvailable", res)
	}
	if _, err := store.Get(ctx, key); !persidict.IsNotFound(err) {
		t.Errorf("Get after DeleteCurrent: got %v, want KeyMissing", err)
	}
}

func testListing(t *testing.T, store persidict.PersiDict) {
	ctx := context.Background()
	keys := []persidict.SafeKey{
		persidict.MustSafeKey("listing", "a"),
		persidict.MustSafeKey("listing", "b"),
		persidict.MustSafeKey("listing", "c"),
	}
	for i, k := range keys {
		if err := store.Set(ctx, k, i); err != nil {
			t.Fatalf("Set(%v) failed: %v", k, err)
		}
	}

	n, err := store.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n < len(keys) {
		t.Errorf("Len = %d, want at least %d", n, len(keys))
	}

	got, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(got) < len(keys) {
		t.Errorf("Keys returned %d entries, want at least %d", len(got), len(keys))
	}

	rk, err := store.RandomKey(ctx)
	if err != nil {
		t.Fatalf("RandomKey failed: %v", err)
	}
	if exists, err := store.Contains(ctx, rk); err != nil || !exists {
		t.Errorf("RandomKey returned a key not in the store: %v", rk)
	}

	oldest, err := store.OldestKeys(ctx, 1)
	if err != nil || len(oldest) != 1 {
		t.Errorf("OldestKeys(1) = %v, %v; want one key", oldest, err)
	}
	newest, err := store.NewestKeys(ctx, 1)
	if err != nil || len(newest) != 1 {
		t.Errorf("NewestKeys(1) = %v, %v; want one key", newest, err)
	}
}

func testSubdict(t *testing.T, store persidict.PersiDict) {
	ctx := context.Background()
	prefix := persidict.MustSafeKey("accounts", "42")
	sub, err := store.GetSubdict(ctx, prefix)
	if err != nil {
		t.Fatalf("GetSubdict failed: %v", err)
	}

	childKey := persidict.MustSafeKey("profile")
	if err := sub.Set(ctx, childKey, "jane"); err != nil {
		t.Fatalf("Set on subdict failed: %v", err)
	}

	full := append(append(persidict.SafeKey{}, prefix...), childKey...)
	v, err := store.Get(ctx, full)
	if err != nil || v != "jane" {
		t.Errorf("value via parent key = %v, %v; want %q, nil", v, err, "jane")
	}

	v, err = sub.Get(ctx, childKey)
	if err != nil || v != "jane" {
		t.Errorf("value via subdict key = %v, %v; want %q, nil", v, err, "jane")
	}

	names, err := store.Subdicts(ctx)
	if err != nil {
		t.Fatalf("Subdicts failed: %v", err)
	}
	found := false
	for _, name := range names {
		if name == "accounts" {
			found = true
		}
	}
	if !found {
		t.Errorf("Subdicts = %v, want to include %q", names, "accounts")
	}
}

func testErrorHandling(t *testing.T, store persidict.PersiDict) {
	ctx := context.Background()
	missing := persidict.MustSafeKey("does-not-exist", "at-all")

	if _, err := store.Get(ctx, missing); !errors.Is(err, persidict.ErrKeyMissing) {
		t.Errorf("Get on missing key: got %v, want ErrKeyMissing", err)
	}
	if _, err := store.ETag(ctx, missing); !errors.Is(err, persidict.ErrKeyMissing) {
		t.Errorf("ETag on missing key: got %v, want ErrKeyMissing", err)
	}
	if _, err := store.Timestamp(ctx, missing); !errors.Is(err, persidict.ErrKeyMissing) {
		t.Errorf("Timestamp on missing key: got %v, want ErrKeyMissing", err)
	}
	if err := store.Delete(ctx, missing); !errors.Is(err, persidict.ErrKeyMissing) {
		t.Errorf("Delete on missing key: got %v, want ErrKeyMissing", err)
	}
}
