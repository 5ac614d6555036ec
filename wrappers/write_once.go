package wrappers

import (
	"context"
	"math/rand"
	"reflect"
	"time"

	"github.com/adrianmcphee/persidict"
)

// WriteOnceWrapper enforces "first write wins" over an inner PersiDict: a
// Set/SetItemIf against an already-present key is silently accepted as a
// no-op rather than propagated as a write, matching KEEP_CURRENT's joker
// semantics (spec.md §4.9). SampleRate, if > 0, drives a probabilistic
// equality check between the rejected value and the one already stored;
// a mismatch means the caller's assumption of "first write wins
// idempotently" was violated, and is reported as MutationPolicy rather
// than silently ignored. This wrapper sits above any caching wrapper, so
// the no-op short-circuit observes the same value the cache would.
type WriteOnceWrapper struct {
	inner      persidict.PersiDict
	sampleRate float64
}

// NewWriteOnceWrapper wraps inner with the given consistency-check sample
// rate in [0, 1]; 0 disables the check entirely.
func NewWriteOnceWrapper(inner persidict.PersiDict, sampleRate float64) *WriteOnceWrapper {
	return &WriteOnceWrapper{inner: inner, sampleRate: sampleRate}
}

func (w *WriteOnceWrapper) Config() persidict.Config { return w.inner.Config() }
func (w *WriteOnceWrapper) Close() error             { return w.inner.Close() }

func (w *WriteOnceWrapper) shouldSample() bool {
	return w.sampleRate > 0 && rand.Float64() < w.sampleRate
}

func (w *WriteOnceWrapper) checkConsistency(ctx context.Context, key persidict.SafeKey, value any) error {
	if !w.shouldSample() {
		return nil
	}
	existing, err := w.inner.Get(ctx, key)
	if err != nil {
		return nil
	}
	if !reflect.DeepEqual(existing, value) {
		return &persidict.MutationPolicy{Policy: "write-once", Key: key}
	}
	return nil
}

func (w *WriteOnceWrapper) Get(ctx context.Context, key persidict.SafeKey) (any, error) {
	return w.inner.Get(ctx, key)
}

func (w *WriteOnceWrapper) Set(ctx context.Context, key persidict.SafeKey, value any) error {
	exists, err := w.inner.Contains(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return w.checkConsistency(ctx, key, value)
	}
	return w.inner.Set(ctx, key, value)
}

// Delete always fails: write-once forbids removal (spec.md §4.9).
func (w *WriteOnceWrapper) Delete(ctx context.Context, key persidict.SafeKey) error {
	return &persidict.MutationPolicy{Policy: "write-once", Key: key}
}

func (w *WriteOnceWrapper) Discard(ctx context.Context, key persidict.SafeKey) (bool, error) {
	return false, &persidict.MutationPolicy{Policy: "write-once", Key: key}
}

func (w *WriteOnceWrapper) Contains(ctx context.Context, key persidict.SafeKey) (bool, error) {
	return w.inner.Contains(ctx, key)
}

func (w *WriteOnceWrapper) Len(ctx context.Context) (int, error) { return w.inner.Len(ctx) }

func (w *WriteOnceWrapper) Keys(ctx context.Context) ([]persidict.SafeKey, error) {
	return w.inner.Keys(ctx)
}

func (w *WriteOnceWrapper) Values(ctx context.Context) ([]any, error) {
	return w.inner.Values(ctx)
}

func (w *WriteOnceWrapper) Items(ctx context.Context) (map[string]any, error) {
	return w.inner.Items(ctx)
}

func (w *WriteOnceWrapper) ETag(ctx context.Context, key persidict.SafeKey) (string, error) {
	return w.inner.ETag(ctx, key)
}

func (w *WriteOnceWrapper) Timestamp(ctx context.Context, key persidict.SafeKey) (time.Time, error) {
	return w.inner.Timestamp(ctx, key)
}

func (w *WriteOnceWrapper) RandomKey(ctx context.Context) (persidict.SafeKey, error) {
	return w.inner.RandomKey(ctx)
}

func (w *WriteOnceWrapper) OldestKeys(ctx context.Context, n int) ([]persidict.SafeKey, error) {
	return w.inner.OldestKeys(ctx, n)
}

func (w *WriteOnceWrapper) NewestKeys(ctx context.Context, n int) ([]persidict.SafeKey, error) {
	return w.inner.NewestKeys(ctx, n)
}

func (w *WriteOnceWrapper) Subdicts(ctx context.Context) ([]string, error) {
	return w.inner.Subdicts(ctx)
}

func (w *WriteOnceWrapper) GetSubdict(ctx context.Context, prefix persidict.SafeKey) (persidict.PersiDict, error) {
	inner, err := w.inner.GetSubdict(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return NewWriteOnceWrapper(inner, w.sampleRate), nil
}

func (w *WriteOnceWrapper) GetItemIf(ctx context.Context, key persidict.SafeKey, expected any, condition persidict.ETagCondition, retrieve persidict.RetrieveMode) (persidict.ConditionalResult, error) {
	return w.inner.GetItemIf(ctx, key, expected, condition, retrieve)
}

// SetItemIf silently treats a write against an existing key as
// KEEP_CURRENT, per the "first write wins" joker semantics (spec.md
// §4.9), still subject to the sampled consistency check.
func (w *WriteOnceWrapper) SetItemIf(ctx context.Context, key persidict.SafeKey, value any, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	if persidict.IsKeepCurrent(value) || persidict.IsDeleteCurrent(value) {
		return persidict.ConditionalResult{}, &persidict.MutationPolicy{Policy: "write-once", Key: key}
	}

	exists, err := w.inner.Contains(ctx, key)
	if err != nil {
		return persidict.ConditionalResult{}, err
	}
	if exists {
		if err := w.checkConsistency(ctx, key, value); err != nil {
			return persidict.ConditionalResult{}, err
		}
		current, err := w.inner.GetItemIf(ctx, key, persidict.ItemNotAvailable, persidict.AnyETag, persidict.AlwaysRetrieve)
		if err != nil {
			return persidict.ConditionalResult{}, err
		}
		return persidict.ConditionalResult{
			ConditionWasSatisfied: true,
			ActualETag:            current.ActualETag,
			ResultingETag:         current.ActualETag,
			NewValue:              current.NewValue,
		}, nil
	}
	return w.inner.SetItemIf(ctx, key, value, expected, condition)
}

func (w *WriteOnceWrapper) SetDefaultIf(ctx context.Context, key persidict.SafeKey, defaultValue any, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	return w.inner.SetDefaultIf(ctx, key, defaultValue, expected, condition)
}

// DiscardIf always fails: write-once forbids removal (spec.md §4.9).
func (w *WriteOnceWrapper) DiscardIf(ctx context.Context, key persidict.SafeKey, expected any, condition persidict.ETagCondition) (persidict.ConditionalResult, error) {
	return persidict.ConditionalResult{}, &persidict.MutationPolicy{Policy: "write-once", Key: key}
}

var _ persidict.PersiDict = (*WriteOnceWrapper)(nil)
