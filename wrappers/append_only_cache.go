package wrappers

import (
	"context"
	"time"

	"github.com/adrianmcphee/persidict"
)

// AppendOnlyCacheWrapper wraps a main backend whose Config().AppendOnly is
// true plus one subordinate value cache. Because an append-only item
// never changes once written, a cache hit is trusted without revalidating
// its ETag against main - there is nothing to invalidate (spec.md §4.8).
// DiscardIf is rejected at the wrapper boundary since append-only forbids
// removal regardless of what main would do; every other conditional
// operation is delegated straight through.
type AppendOnlyCacheWrapper struct {
	main       persidict.PersiDict
	valueCache persidict.PersiDict
}

// NewAppendOnlyCacheWrapper wraps main, an append-only backend, with
// valueCache as the subordinate store.
func NewAppendOnlyCacheWrapper(main, valueCache persidict.PersiDict) *AppendOnlyCacheWrapper {
	return &AppendOnlyCacheWrapper{main: main, valueCache: valueCache}
}

func (w *AppendOnlyCacheWrapper) Config() persidict.Config { return w.main.Config() }
func (w *AppendOnlyCacheWrapper) Close() error             { return w.main.Close() }

func (w *AppendOnlyCacheWrapper) Get(ctx context.Context, key persidict.SafeKey) (any, error) {
	if v, err := w.valueCache.Get(ctx, key); err == nil {
		return v, nil
	}
	v, err := w.main.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	w.valueCache.Set(ctx, key, v)
	return v, nil
}

func (w *AppendOnlyCacheWrapper) Set(ctx context.Context, key persidict.SafeKey, value any) error {
	if err := w.main.Set(ctx, key, value); err != nil {
		return err
	}
	w.valueCache.Set(ctx, key, value)
	return nil
}

func (w *AppendOnlyCacheWrapper) Delete(ctx context.Context, key persidict.SafeKey) error {
	return &persidict.MutationPolicy{Policy: "append-only-cache", Key: key}
}

func (w *AppendOnlyCacheWrapper) Discard(ctx context.Context, key persidict.SafeKey) (bool, error) {
	return false, &persidict.MutationPolicy{Policy: "append-only-cache", Key: key}
}

func (w *AppendOnlyCacheWrapper) Contains(ctx context.Context, key persidict.SafeKey) (bool, error) {
	if _, err := w.valueCache.Get(ctx, key); err == nil {
		return true, nil
	}
	return w.main.Contains(ctx, key)
}

func (w *AppendOnlyCacheWrapper) Len(ctx context.Context) (int, error) { return w.main.Len(ctx) }

func (w *AppendOnlyCacheWrapper) Keys(ctx context.Context) ([]persidict.SafeKey, error) {
	return w.main.Keys(ctx)
}

func (w *AppendOnlyCacheWrapper) Values(ctx context.Context) ([]any, error) {
	return w.main.Values(ctx)
}

func (w *AppendOnlyCacheWrapper) Items(ctx context.Context) (map[string]any, error) {
	return w.main.Items(ctx)
}

func (w *AppendOnlyCacheWrapper) ETag(ctx context.Context, key persidict.SafeKey) (string, error) {
	return w.main.ETag(ctx, key)
}

func (w *AppendOnlyCacheWrapper) Timestamp(ctx context.Context, key persidict.SafeKey) (time.Time, error) {
	return w.main.Timestamp(ctx, key)
}

func (w *AppendOnlyCacheWrapper) RandomKey(ctx context.Context) (persidict.SafeKey, error) {
	return w.main.RandomKey(ctx)
}

func (w *AppendOnlyCacheWrapper) OldestKeys(ctx context.Context, n int) ([]persidict.SafeKey, error) {
	return w.main.OldestKeys(ctx, n)
}

func (w *AppendOnlyCacheWrapper) NewestKeys(ctx context.Context, n int) ([]persidict.SafeKey, error) {
	return w.main.NewestKeys(ctx, n)
}

func (w *AppendOnlyCacheWrapper) Subdicts(ctx context.Context) ([]string, error) {
	return w.main.Subdicts(ctx)
}

func (w *AppendOnlyCacheWrapper) GetSubdict(ctx context.Context, prefix persidict.SafeKey) (persidict.PersiDict, error) {
	inner, err := w.main.GetSubdict(ctx, prefix)
	if err != nil {
		return nil, err
	}
	cacheSub, err := w.valueCache.GetSubdict(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return NewAppendOnlyCacheWrapper(inner, cacheSub), nil
}

func (w *AppendOnlyCacheWrapper) GetItemIf(ctx context.Context, key persidict.SafeKey, expected any, condition persidict.ETagCondition, retrieve persidict.RetrieveMode) (persidict.ConditionalResult, error) {
	return w.main.GetItemIf(ctx, key, expected, condition, retrieve)
}

func (w *AppendOnlyCacheWrapper) SetItemIf(ctx context.Context, key persidict.SafeKey, value any, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	res, err := w.main.SetItemIf(ctx, key, value, expected, condition)
	if err != nil {
		return persidict.ConditionalResult{}, err
	}
	if res.ConditionWasSatisfied && !persidict.IsItemNotAvailable(res.ResultingETag) {
		w.valueCache.Set(ctx, key, res.NewValue)
	}
	return res, nil
}

func (w *AppendOnlyCacheWrapper) SetDefaultIf(ctx context.Context, key persidict.SafeKey, defaultValue any, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	res, err := w.main.SetDefaultIf(ctx, key, defaultValue, expected, condition)
	if err != nil {
		return persidict.ConditionalResult{}, err
	}
	if res.ConditionWasSatisfied {
		w.valueCache.Set(ctx, key, res.NewValue)
	}
	return res, nil
}

// DiscardIf always fails with MutationPolicy: append-only forbids removal
// regardless of the caller's condition (spec.md §4.8).
func (w *AppendOnlyCacheWrapper) DiscardIf(ctx context.Context, key persidict.SafeKey, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	return persidict.ConditionalResult{}, &persidict.MutationPolicy{Policy: "append-only-cache", Key: key}
}

var _ persidict.PersiDict = (*AppendOnlyCacheWrapper)(nil)
