package persidict

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// memItem is one stored entry in a MemoryBackend.
type memItem struct {
	value   any
	etag    uint64
	modTime time.Time
}

// MemoryBackend is a process-local hierarchical PersiDict. ETags are a
// monotonically increasing per-instance counter: strong within the
// process, meaningless across processes - acceptable since the backend
// is explicitly single-process (spec.md §4.5). All conditional operations
// serialize through one instance-wide mutex, matching the teacher's
// striped-lock idiom collapsed to a single stripe since there is no
// cross-process contention to spread across stripes for.
type MemoryBackend struct {
	mu      sync.Mutex
	items   map[string]*memItem
	keys    map[string]SafeKey
	counter uint64
	cfg     Config
}

// NewMemoryBackend creates an empty in-process backend using cfg.
func NewMemoryBackend(cfg Config) *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]*memItem),
		keys:  make(map[string]SafeKey),
		cfg:   cfg,
	}
}

func (b *MemoryBackend) Config() Config { return b.cfg }
func (b *MemoryBackend) Close() error   { return nil }

func (b *MemoryBackend) nextETag() string {
	b.counter++
	return strconv.FormatUint(b.counter, 10)
}

func (b *MemoryBackend) GetItemIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition, retrieve RetrieveMode) (ConditionalResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, exists := b.items[key.String()]
	var actual any = ItemNotAvailable
	if exists {
		actual = strconv.FormatUint(item.etag, 10)
	}
	satisfied := satisfiesCondition(condition, expected, actual)

	if !exists {
		return ConditionalResult{
			ConditionWasSatisfied: satisfied,
			ActualETag:            ItemNotAvailable,
			ResultingETag:         ItemNotAvailable,
			NewValue:              ItemNotAvailable,
		}, nil
	}

	newValue := any(ValueNotRetrieved)
	if shouldRetrieve(retrieve, !etagEqual(expected, actual)) {
		newValue = item.value
	}

	return ConditionalResult{
		ConditionWasSatisfied: satisfied,
		ActualETag:            actual,
		ResultingETag:         actual,
		NewValue:              newValue,
	}, nil
}

func (b *MemoryBackend) SetItemIf(ctx context.Context, key SafeKey, value any, expected any, condition ETagCondition) (ConditionalResult, error) {
	if err := b.cfg.validateValue(value); err != nil && !IsKeepCurrent(value) && !IsDeleteCurrent(value) {
		return ConditionalResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	item, exists := b.items[key.String()]
	var actual any = ItemNotAvailable
	if exists {
		actual = strconv.FormatUint(item.etag, 10)
	}
	satisfied := satisfiesCondition(condition, expected, actual)
	if !satisfied {
		return ConditionalResult{
			ConditionWasSatisfied: false,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              notRetrievedOrAbsent(exists),
		}, nil
	}

	if IsKeepCurrent(value) {
		return ConditionalResult{
			ConditionWasSatisfied: true,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              notRetrievedOrAbsent(exists),
		}, nil
	}

	if IsDeleteCurrent(value) {
		if err := enforceWritePolicy(b.cfg, key, exists, true); err != nil {
			return ConditionalResult{}, err
		}
		if exists {
			delete(b.items, key.String())
			delete(b.keys, key.String())
		}
		return ConditionalResult{
			ConditionWasSatisfied: true,
			ActualETag:            actual,
			ResultingETag:         ItemNotAvailable,
			NewValue:              ItemNotAvailable,
		}, nil
	}

	if err := enforceWritePolicy(b.cfg, key, exists, false); err != nil {
		return ConditionalResult{}, err
	}

	newETag := b.nextETag()
	n, err := strconv.ParseUint(newETag, 10, 64)
	if err != nil {
		return ConditionalResult{}, &BackendFailure{Backend: "memory", Op: "SetItemIf", Key: key.String(), Cause: err}
	}
	b.items[key.String()] = &memItem{value: value, etag: n, modTime: time.Now()}
	b.keys[key.String()] = key

	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actual,
		ResultingETag:         newETag,
		NewValue:              value,
	}, nil
}

func (b *MemoryBackend) SetDefaultIf(ctx context.Context, key SafeKey, defaultValue any, expected any, condition ETagCondition) (ConditionalResult, error) {
	if err := rejectJokerDefault(defaultValue); err != nil {
		return ConditionalResult{}, err
	}

	b.mu.Lock()
	item, exists := b.items[key.String()]
	if exists {
		actual := strconv.FormatUint(item.etag, 10)
		defer b.mu.Unlock()
		return ConditionalResult{
			ConditionWasSatisfied: false,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              item.value,
		}, nil
	}
	b.mu.Unlock()

	return b.SetItemIf(ctx, key, defaultValue, expected, condition)
}

func (b *MemoryBackend) DiscardIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition) (ConditionalResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, exists := b.items[key.String()]
	var actual any = ItemNotAvailable
	if exists {
		actual = strconv.FormatUint(item.etag, 10)
	}
	satisfied := satisfiesCondition(condition, expected, actual)
	if !exists {
		return ConditionalResult{
			ConditionWasSatisfied: satisfied,
			ActualETag:            ItemNotAvailable,
			ResultingETag:         ItemNotAvailable,
			NewValue:              ItemNotAvailable,
		}, nil
	}
	if !satisfied {
		return ConditionalResult{
			ConditionWasSatisfied: false,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              ValueNotRetrieved,
		}, nil
	}
	if err := enforceWritePolicy(b.cfg, key, true, true); err != nil {
		return ConditionalResult{}, err
	}
	delete(b.items, key.String())
	delete(b.keys, key.String())
	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actual,
		ResultingETag:         ItemNotAvailable,
		NewValue:              ItemNotAvailable,
	}, nil
}

func notRetrievedOrAbsent(exists bool) any {
	if exists {
		return ValueNotRetrieved
	}
	return ItemNotAvailable
}

// --- Mapping surface, built atop the conditional primitives ---

func (b *MemoryBackend) Get(ctx context.Context, key SafeKey) (any, error) {
	res, err := b.GetItemIf(ctx, key, ItemNotAvailable, AnyETag, AlwaysRetrieve)
	if err != nil {
		return nil, err
	}
	if IsItemNotAvailable(res.ActualETag) {
		return nil, &KeyMissing{Key: key}
	}
	return res.NewValue, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key SafeKey, value any) error {
	_, err := b.SetItemIf(ctx, key, value, ItemNotAvailable, AnyETag)
	return err
}

func (b *MemoryBackend) Delete(ctx context.Context, key SafeKey) error {
	res, err := b.DiscardIf(ctx, key, ItemNotAvailable, AnyETag)
	if err != nil {
		return err
	}
	if IsItemNotAvailable(res.ActualETag) {
		return &KeyMissing{Key: key}
	}
	return nil
}

func (b *MemoryBackend) Discard(ctx context.Context, key SafeKey) (bool, error) {
	res, err := b.DiscardIf(ctx, key, ItemNotAvailable, AnyETag)
	if err != nil {
		return false, err
	}
	return !IsItemNotAvailable(res.ActualETag), nil
}

func (b *MemoryBackend) Contains(ctx context.Context, key SafeKey) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, exists := b.items[key.String()]
	return exists, nil
}

func (b *MemoryBackend) Len(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items), nil
}

func (b *MemoryBackend) Keys(ctx context.Context) ([]SafeKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SafeKey, 0, len(b.keys))
	for _, k := range b.keys {
		out = append(out, k)
	}
	return out, nil
}

func (b *MemoryBackend) Values(ctx context.Context) ([]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, 0, len(b.items))
	for _, it := range b.items {
		out = append(out, it.value)
	}
	return out, nil
}

func (b *MemoryBackend) Items(ctx context.Context) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.items))
	for k, it := range b.items {
		out[k] = it.value
	}
	return out, nil
}

func (b *MemoryBackend) ETag(ctx context.Context, key SafeKey) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, exists := b.items[key.String()]
	if !exists {
		return "", &KeyMissing{Key: key}
	}
	return strconv.FormatUint(item.etag, 10), nil
}

func (b *MemoryBackend) Timestamp(ctx context.Context, key SafeKey) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, exists := b.items[key.String()]
	if !exists {
		return time.Time{}, &KeyMissing{Key: key}
	}
	return item.modTime, nil
}

func (b *MemoryBackend) RandomKey(ctx context.Context) (SafeKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.keys) == 0 {
		return nil, &KeyMissing{Key: SafeKey{"*"}}
	}
	idx := randIndex(len(b.keys))
	i := 0
	for _, k := range b.keys {
		if i == idx {
			return k, nil
		}
		i++
	}
	panic("unreachable")
}

func (b *MemoryBackend) sortedByTime(ascending bool, n int) []SafeKey {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]SafeKey, 0, len(b.items))
	times := make([]time.Time, 0, len(b.items))
	for ks, it := range b.items {
		keys = append(keys, b.keys[ks])
		times = append(times, it.modTime)
	}
	return topNByTime(keys, times, ascending, n)
}

func (b *MemoryBackend) OldestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	return b.sortedByTime(true, n), nil
}

func (b *MemoryBackend) NewestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	return b.sortedByTime(false, n), nil
}

func (b *MemoryBackend) Subdicts(ctx context.Context) ([]string, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return collectSubdictNames(keys), nil
}

func (b *MemoryBackend) GetSubdict(ctx context.Context, prefix SafeKey) (PersiDict, error) {
	return &subdictView{parent: b, prefix: prefix}, nil
}

// subdictView is a thin PersiDict facade that prepends prefix to every
// key before delegating to parent, and strips it back off on the way
// out. It is shared by every backend's GetSubdict implementation.
type subdictView struct {
	parent PersiDict
	prefix SafeKey
}

func (v *subdictView) full(key SafeKey) SafeKey {
	out := make(SafeKey, 0, len(v.prefix)+len(key))
	out = append(out, v.prefix...)
	out = append(out, key...)
	return out
}

func (v *subdictView) Get(ctx context.Context, key SafeKey) (any, error) {
	return v.parent.Get(ctx, v.full(key))
}
func (v *subdictView) Set(ctx context.Context, key SafeKey, value any) error {
	return v.parent.Set(ctx, v.full(key), value)
}
func (v *subdictView) Delete(ctx context.Context, key SafeKey) error {
	return v.parent.Delete(ctx, v.full(key))
}
func (v *subdictView) Discard(ctx context.Context, key SafeKey) (bool, error) {
	return v.parent.Discard(ctx, v.full(key))
}
func (v *subdictView) Contains(ctx context.Context, key SafeKey) (bool, error) {
	return v.parent.Contains(ctx, v.full(key))
}
func (v *subdictView) Len(ctx context.Context) (int, error) {
	keys, err := v.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
func (v *subdictView) Keys(ctx context.Context) ([]SafeKey, error) {
	all, err := v.parent.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return filterByPrefix(all, v.prefix), nil
}
func (v *subdictView) Values(ctx context.Context) ([]any, error) {
	keys, err := v.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		val, err := v.Get(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, val)
	}
	return out, nil
}
func (v *subdictView) Items(ctx context.Context) (map[string]any, error) {
	keys, err := v.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		val, err := v.Get(ctx, k)
		if err != nil {
			continue
		}
		out[k.String()] = val
	}
	return out, nil
}
func (v *subdictView) ETag(ctx context.Context, key SafeKey) (string, error) {
	return v.parent.ETag(ctx, v.full(key))
}
func (v *subdictView) Timestamp(ctx context.Context, key SafeKey) (time.Time, error) {
	return v.parent.Timestamp(ctx, v.full(key))
}
func (v *subdictView) RandomKey(ctx context.Context) (SafeKey, error) {
	keys, err := v.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &KeyMissing{Key: SafeKey{"*"}}
	}
	return keys[randIndex(len(keys))], nil
}
func (v *subdictView) OldestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	all, err := v.parent.OldestKeys(ctx, -1)
	if err != nil {
		return nil, err
	}
	filtered := filterByPrefix(all, v.prefix)
	if n <= 0 || n > len(filtered) {
		n = len(filtered)
	}
	return filtered[:n], nil
}
func (v *subdictView) NewestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	all, err := v.parent.NewestKeys(ctx, -1)
	if err != nil {
		return nil, err
	}
	filtered := filterByPrefix(all, v.prefix)
	if n <= 0 || n > len(filtered) {
		n = len(filtered)
	}
	return filtered[:n], nil
}
func (v *subdictView) GetSubdict(ctx context.Context, prefix SafeKey) (PersiDict, error) {
	return &subdictView{parent: v.parent, prefix: v.full(prefix)}, nil
}
func (v *subdictView) Subdicts(ctx context.Context) ([]string, error) {
	keys, err := v.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return collectSubdictNames(keys), nil
}
func (v *subdictView) GetItemIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition, retrieve RetrieveMode) (ConditionalResult, error) {
	return v.parent.GetItemIf(ctx, v.full(key), expected, condition, retrieve)
}
func (v *subdictView) SetItemIf(ctx context.Context, key SafeKey, value any, expected any, condition ETagCondition) (ConditionalResult, error) {
	return v.parent.SetItemIf(ctx, v.full(key), value, expected, condition)
}
func (v *subdictView) SetDefaultIf(ctx context.Context, key SafeKey, defaultValue any, expected any, condition ETagCondition) (ConditionalResult, error) {
	return v.parent.SetDefaultIf(ctx, v.full(key), defaultValue, expected, condition)
}
func (v *subdictView) DiscardIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition) (ConditionalResult, error) {
	return v.parent.DiscardIf(ctx, v.full(key), expected, condition)
}
func (v *subdictView) Config() Config { return v.parent.Config() }
func (v *subdictView) Close() error   { return nil }

var _ PersiDict = (*MemoryBackend)(nil)
var _ PersiDict = (*subdictView)(nil)
