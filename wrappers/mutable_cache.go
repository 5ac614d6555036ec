// Package wrappers provides composable PersiDict decorators: caching,
// append-only cache coherence, and write-once policy (spec.md §4.7-4.9).
// Each wrapper holds an inner PersiDict and mediates caching or policy
// before delegating to it, the same decorator shape the teacher used for
// S3BackendWithRedisLock wrapping *S3Backend.
package wrappers

import (
	"context"
	"time"

	"github.com/adrianmcphee/persidict"
)

// MutableCacheWrapper wraps a main backend plus two subordinate PersiDict
// stores (typically MemoryBackend-backed): a value cache and an ETag
// cache. Reads are validated against main via IF_ETAG_CHANGED so an
// unchanged item never pays the cost of re-fetching its value; writes
// always go to main first and only then update the caches, so the caches
// never observe a value main rejected (spec.md §4.7).
type MutableCacheWrapper struct {
	main       persidict.PersiDict
	valueCache persidict.PersiDict
	etagCache  persidict.PersiDict
}

// NewMutableCacheWrapper builds a cache wrapper around main, using
// valueCache and etagCache as the subordinate stores.
func NewMutableCacheWrapper(main, valueCache, etagCache persidict.PersiDict) *MutableCacheWrapper {
	return &MutableCacheWrapper{main: main, valueCache: valueCache, etagCache: etagCache}
}

func (w *MutableCacheWrapper) Config() persidict.Config { return w.main.Config() }
func (w *MutableCacheWrapper) Close() error             { return w.main.Close() }

// cachedETag returns the cached ETag for key, or persidict.ItemNotAvailable
// if nothing is cached yet.
func (w *MutableCacheWrapper) cachedETag(ctx context.Context, key persidict.SafeKey) any {
	etag, err := w.etagCache.Get(ctx, key)
	if err != nil {
		return persidict.ItemNotAvailable
	}
	return etag
}

func (w *MutableCacheWrapper) mirror(ctx context.Context, key persidict.SafeKey, value any, etag any) {
	if persidict.IsItemNotAvailable(etag) {
		w.valueCache.Discard(ctx, key)
		w.etagCache.Discard(ctx, key)
		return
	}
	w.valueCache.Set(ctx, key, value)
	w.etagCache.Set(ctx, key, etag)
}

func (w *MutableCacheWrapper) GetItemIf(ctx context.Context, key persidict.SafeKey, expected any, condition persidict.ETagCondition, retrieve persidict.RetrieveMode) (persidict.ConditionalResult, error) {
	cached := w.cachedETag(ctx, key)

	res, err := w.main.GetItemIf(ctx, key, cached, persidict.ETagHasChanged, persidict.IfETagChanged)
	if err != nil {
		return persidict.ConditionalResult{}, err
	}

	if res.ConditionWasSatisfied {
		w.mirror(ctx, key, res.NewValue, res.ActualETag)
	} else if !persidict.IsItemNotAvailable(res.ActualETag) {
		if v, err := w.valueCache.Get(ctx, key); err == nil {
			res.NewValue = v
		}
	}

	satisfied := condition == persidict.AnyETag
	if condition != persidict.AnyETag {
		satisfied = w.evalCondition(condition, expected, res.ActualETag)
	}
	return persidict.ConditionalResult{
		ConditionWasSatisfied: satisfied,
		ActualETag:            res.ActualETag,
		ResultingETag:         res.ActualETag,
		NewValue:              res.NewValue,
	}, nil
}

func (w *MutableCacheWrapper) evalCondition(condition persidict.ETagCondition, expected, actual any) bool {
	switch condition {
	case persidict.AnyETag:
		return true
	case persidict.ETagIsTheSame:
		return etagsEqual(expected, actual)
	case persidict.ETagHasChanged:
		return !etagsEqual(expected, actual)
	default:
		return false
	}
}

func etagsEqual(a, b any) bool {
	aNA := persidict.IsItemNotAvailable(a)
	bNA := persidict.IsItemNotAvailable(b)
	if aNA || bNA {
		return aNA && bNA
	}
	return a == b
}

func (w *MutableCacheWrapper) SetItemIf(ctx context.Context, key persidict.SafeKey, value any, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	res, err := w.main.SetItemIf(ctx, key, value, expected, condition)
	if err != nil {
		return persidict.ConditionalResult{}, err
	}
	if res.ConditionWasSatisfied {
		w.mirror(ctx, key, res.NewValue, res.ResultingETag)
	} else if persidict.IsValueNotRetrieved(res.NewValue) {
		w.valueCache.Discard(ctx, key)
		w.etagCache.Discard(ctx, key)
	} else {
		w.mirror(ctx, key, res.NewValue, res.ActualETag)
	}
	return res, nil
}

func (w *MutableCacheWrapper) SetDefaultIf(ctx context.Context, key persidict.SafeKey, defaultValue any, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	res, err := w.main.SetDefaultIf(ctx, key, defaultValue, expected, condition)
	if err != nil {
		return persidict.ConditionalResult{}, err
	}
	if res.ConditionWasSatisfied {
		w.mirror(ctx, key, res.NewValue, res.ResultingETag)
	}
	return res, nil
}

func (w *MutableCacheWrapper) DiscardIf(ctx context.Context, key persidict.SafeKey, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	res, err := w.main.DiscardIf(ctx, key, expected, condition)
	if err != nil {
		return persidict.ConditionalResult{}, err
	}
	if res.ConditionWasSatisfied {
		w.valueCache.Discard(ctx, key)
		w.etagCache.Discard(ctx, key)
	}
	return res, nil
}

func (w *MutableCacheWrapper) Get(ctx context.Context, key persidict.SafeKey) (any, error) {
	res, err := w.GetItemIf(ctx, key, persidict.ItemNotAvailable, persidict.AnyETag, persidict.AlwaysRetrieve)
	if err != nil {
		return nil, err
	}
	if persidict.IsItemNotAvailable(res.ActualETag) {
		return nil, &persidict.KeyMissing{Key: key}
	}
	return res.NewValue, nil
}

func (w *MutableCacheWrapper) Set(ctx context.Context, key persidict.SafeKey, value any) error {
	_, err := w.SetItemIf(ctx, key, value, persidict.ItemNotAvailable, persidict.AnyETag)
	return err
}

func (w *MutableCacheWrapper) Delete(ctx context.Context, key persidict.SafeKey) error {
	res, err := w.DiscardIf(ctx, key, persidict.ItemNotAvailable, persidict.AnyETag)
	if err != nil {
		return err
	}
	if persidict.IsItemNotAvailable(res.ActualETag) {
		return &persidict.KeyMissing{Key: key}
	}
	return nil
}

func (w *MutableCacheWrapper) Discard(ctx context.Context, key persidict.SafeKey) (bool, error) {
	res, err := w.DiscardIf(ctx, key, persidict.ItemNotAvailable, persidict.AnyETag)
	if err != nil {
		return false, err
	}
	return !persidict.IsItemNotAvailable(res.ActualETag), nil
}

func (w *MutableCacheWrapper) Contains(ctx context.Context, key persidict.SafeKey) (bool, error) {
	return w.main.Contains(ctx, key)
}

func (w *MutableCacheWrapper) Len(ctx context.Context) (int, error) { return w.main.Len(ctx) }

func (w *MutableCacheWrapper) Keys(ctx context.Context) ([]persidict.SafeKey, error) {
	return w.main.Keys(ctx)
}

func (w *MutableCacheWrapper) Values(ctx context.Context) ([]any, error) {
	return w.main.Values(ctx)
}

func (w *MutableCacheWrapper) Items(ctx context.Context) (map[string]any, error) {
	return w.main.Items(ctx)
}

func (w *MutableCacheWrapper) ETag(ctx context.Context, key persidict.SafeKey) (string, error) {
	return w.main.ETag(ctx, key)
}

func (w *MutableCacheWrapper) Timestamp(ctx context.Context, key persidict.SafeKey) (time.Time, error) {
	return w.main.Timestamp(ctx, key)
}

func (w *MutableCacheWrapper) RandomKey(ctx context.Context) (persidict.SafeKey, error) {
	return w.main.RandomKey(ctx)
}

func (w *MutableCacheWrapper) OldestKeys(ctx context.Context, n int) ([]persidict.SafeKey, error) {
	return w.main.OldestKeys(ctx, n)
}

func (w *MutableCacheWrapper) NewestKeys(ctx context.Context, n int) ([]persidict.SafeKey, error) {
	return w.main.NewestKeys(ctx, n)
}

func (w *MutableCacheWrapper) Subdicts(ctx context.Context) ([]string, error) {
	return w.main.Subdicts(ctx)
}

func (w *MutableCacheWrapper) GetSubdict(ctx context.Context, prefix persidict.SafeKey) (persidict.PersiDict, error) {
	inner, err := w.main.GetSubdict(ctx, prefix)
	if err != nil {
		return nil, err
	}
	valueSub, err := w.valueCache.GetSubdict(ctx, prefix)
	if err != nil {
		return nil, err
	}
	etagSub, err := w.etagCache.GetSubdict(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return NewMutableCacheWrapper(inner, valueSub, etagSub), nil
}

var _ persidict.PersiDict = (*MutableCacheWrapper)(nil)
