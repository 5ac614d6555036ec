package persidict

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSBackend implements PersiDict over a Google Cloud Storage bucket,
// a supplemental third backend beyond the two spec.md names: the
// conditional protocol is backend-agnostic, and the teacher ships a GCS
// backend, so wiring cloud.google.com/go/storage demonstrates the
// protocol generalizes to a second atomic object store (spec.md §4.4b).
// An object's Generation (rendered as a decimal string) stands in for
// its ETag, matching GCS's own compare-and-swap primitive.
type GCSBackend struct {
	client  *storage.Client
	bucket  string
	prefix  string
	codec   Codec
	cfg     Config
	breaker *CircuitBreaker
}

// NewGCSBackend creates a backend against bucket using Application
// Default Credentials. Every call out to GCS runs through a CircuitBreaker,
// the same pattern RedisCoordinator uses to guard its Redis calls and
// S3Backend uses to guard its own network calls, so a GCS outage fails
// fast instead of hanging behind a string of dial timeouts.
func NewGCSBackend(ctx context.Context, bucket, prefix string, codec Codec, cfg Config) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, &BackendFailure{Backend: "gcs", Op: "NewClient", Cause: err}
	}
	return &GCSBackend{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		codec:   codec,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cloudBackendMaxFailures, cloudBackendResetTimeout),
	}, nil
}

func (b *GCSBackend) Config() Config { return b.cfg }
func (b *GCSBackend) Close() error   { return b.client.Close() }

func (b *GCSBackend) objectName(key SafeKey) string {
	name := key.String() + "." + b.codec.Ext()
	if b.prefix == "" {
		return name
	}
	return b.prefix + "/" + name
}

func (b *GCSBackend) object(name string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(name)
}

func isGCSNotExist(err error) bool {
	return errors.Is(err, storage.ErrObjectNotExist)
}

func isGCSPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 412 || apiErr.Code == 409
	}
	return false
}

func (b *GCSBackend) attrs(ctx context.Context, name string) (any, *storage.ObjectAttrs, error) {
	var attrs *storage.ObjectAttrs
	err := b.breaker.Execute(ctx, func() error {
		var opErr error
		attrs, opErr = b.object(name).Attrs(ctx)
		return opErr
	})
	if err != nil {
		if isGCSNotExist(err) {
			return ItemNotAvailable, nil, nil
		}
		return nil, nil, &BackendFailure{Backend: "gcs", Op: "Attrs", Key: name, Cause: err}
	}
	return strconv.FormatInt(attrs.Generation, 10), attrs, nil
}

func (b *GCSBackend) read(ctx context.Context, name string) (any, error) {
	var r *storage.Reader
	err := b.breaker.Execute(ctx, func() error {
		var opErr error
		r, opErr = b.object(name).NewReader(ctx)
		return opErr
	})
	if err != nil {
		if isGCSNotExist(err) {
			return ItemNotAvailable, nil
		}
		return nil, &BackendFailure{Backend: "gcs", Op: "NewReader", Key: name, Cause: err}
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &BackendFailure{Backend: "gcs", Op: "Read", Key: name, Cause: err}
	}
	v, err := b.codec.Decode(data)
	if err != nil {
		return nil, &BackendFailure{Backend: "gcs", Op: "decode", Key: name, Cause: err}
	}
	return v, nil
}

// conditions translates the ETag condition algebra into a GCS
// precondition handle, applied to a write via ObjectHandle.If, mirroring
// S3Backend's conditionHeaders (spec.md §4.4b).
func (b *GCSBackend) conditions(condition ETagCondition, expected any) (storage.Conditions, bool) {
	switch condition {
	case ETagIsTheSame:
		if IsItemNotAvailable(expected) {
			return storage.Conditions{DoesNotExist: true}, true
		}
		gen, err := strconv.ParseInt(expected.(string), 10, 64)
		if err != nil {
			return storage.Conditions{}, false
		}
		return storage.Conditions{GenerationMatch: gen}, true
	default:
		return storage.Conditions{}, false
	}
}

func (b *GCSBackend) GetItemIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition, retrieve RetrieveMode) (ConditionalResult, error) {
	name := b.objectName(key)
	actual, _, err := b.attrs(ctx, name)
	if err != nil {
		return ConditionalResult{}, err
	}
	satisfied := satisfiesCondition(condition, expected, actual)

	if IsItemNotAvailable(actual) {
		return ConditionalResult{
			ConditionWasSatisfied: satisfied,
			ActualETag:            ItemNotAvailable,
			ResultingETag:         ItemNotAvailable,
			NewValue:              ItemNotAvailable,
		}, nil
	}

	newValue := any(ValueNotRetrieved)
	if shouldRetrieve(retrieve, !etagEqual(expected, actual)) {
		v, err := b.read(ctx, name)
		if err != nil {
			return ConditionalResult{}, err
		}
		newValue = v
	}

	return ConditionalResult{
		ConditionWasSatisfied: satisfied,
		ActualETag:            actual,
		ResultingETag:         actual,
		NewValue:              newValue,
	}, nil
}

// SetItemIf evaluates the condition against a preceding Attrs call, then
// writes with GCS's native generation precondition whenever the condition
// maps to one (ETagIsTheSame), so a concurrent change between the two
// calls is still caught. ETagHasChanged, like on S3, has no object-store
// precondition and relies on the Attrs check alone (spec.md §4.4b).
func (b *GCSBackend) SetItemIf(ctx context.Context, key SafeKey, value any, expected any, condition ETagCondition) (ConditionalResult, error) {
	if !IsKeepCurrent(value) && !IsDeleteCurrent(value) {
		if err := b.cfg.validateValue(value); err != nil {
			return ConditionalResult{}, err
		}
	}

	name := b.objectName(key)

	if IsKeepCurrent(value) {
		actual, _, err := b.attrs(ctx, name)
		if err != nil {
			return ConditionalResult{}, err
		}
		satisfied := satisfiesCondition(condition, expected, actual)
		return ConditionalResult{
			ConditionWasSatisfied: satisfied,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              notRetrievedOrAbsent(!IsItemNotAvailable(actual)),
		}, nil
	}

	if IsDeleteCurrent(value) {
		return b.discardConditional(ctx, key, name, expected, condition)
	}

	actualBefore, _, err := b.attrs(ctx, name)
	if err != nil {
		return ConditionalResult{}, err
	}
	exists := !IsItemNotAvailable(actualBefore)

	if !satisfiesCondition(condition, expected, actualBefore) {
		return ConditionalResult{
			ConditionWasSatisfied: false,
			ActualETag:            actualBefore,
			ResultingETag:         actualBefore,
			NewValue:              notRetrievedOrAbsent(exists),
		}, nil
	}

	if err := enforceWritePolicy(b.cfg, key, exists, false); err != nil {
		return ConditionalResult{}, err
	}

	data, err := b.codec.Encode(value)
	if err != nil {
		return ConditionalResult{}, &BackendFailure{Backend: "gcs", Op: "encode", Key: name, Cause: err}
	}

	obj := b.object(name)
	if cond, ok := b.conditions(condition, expected); ok {
		obj = obj.If(cond)
	}

	w := obj.NewWriter(ctx)
	writeErr := b.breaker.Execute(ctx, func() error {
		if _, err := w.Write(data); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if writeErr != nil {
		err := writeErr
		if isGCSPreconditionFailed(err) {
			actual, _, headErr := b.attrs(ctx, name)
			if headErr != nil {
				return ConditionalResult{}, headErr
			}
			return ConditionalResult{
				ConditionWasSatisfied: false,
				ActualETag:            actual,
				ResultingETag:         actual,
				NewValue:              notRetrievedOrAbsent(!IsItemNotAvailable(actual)),
			}, nil
		}
		return ConditionalResult{}, &BackendFailure{Backend: "gcs", Op: "Writer.Close", Key: name, Cause: err}
	}

	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actualBefore,
		ResultingETag:         strconv.FormatInt(w.Attrs().Generation, 10),
		NewValue:              value,
	}, nil
}

func (b *GCSBackend) SetDefaultIf(ctx context.Context, key SafeKey, defaultValue any, expected any, condition ETagCondition) (ConditionalResult, error) {
	if err := rejectJokerDefault(defaultValue); err != nil {
		return ConditionalResult{}, err
	}
	name := b.objectName(key)
	actual, _, err := b.attrs(ctx, name)
	if err != nil {
		return ConditionalResult{}, err
	}
	if !IsItemNotAvailable(actual) {
		v, err := b.read(ctx, name)
		if err != nil {
			return ConditionalResult{}, err
		}
		return ConditionalResult{
			ConditionWasSatisfied: false,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              v,
		}, nil
	}
	return b.SetItemIf(ctx, key, defaultValue, expected, condition)
}

func (b *GCSBackend) discardConditional(ctx context.Context, key SafeKey, name string, expected any, condition ETagCondition) (ConditionalResult, error) {
	actual, _, err := b.attrs(ctx, name)
	if err != nil {
		return ConditionalResult{}, err
	}
	exists := !IsItemNotAvailable(actual)
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
	if err := b.breaker.ExecuteBackendOp(ctx, "gcs", "Delete", name, func() error { return b.object(name).Delete(ctx) }); err != nil {
		return ConditionalResult{}, err
	}
	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actual,
		ResultingETag:         ItemNotAvailable,
		NewValue:              ItemNotAvailable,
	}, nil
}

func (b *GCSBackend) DiscardIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition) (ConditionalResult, error) {
	return b.discardConditional(ctx, key, b.objectName(key), expected, condition)
}

func (b *GCSBackend) Get(ctx context.Context, key SafeKey) (any, error) {
	v, err := b.read(ctx, b.objectName(key))
	if err != nil {
		return nil, err
	}
	if IsItemNotAvailable(v) {
		return nil, &KeyMissing{Key: key}
	}
	return v, nil
}

func (b *GCSBackend) Set(ctx context.Context, key SafeKey, value any) error {
	_, err := b.SetItemIf(ctx, key, value, ItemNotAvailable, AnyETag)
	return err
}

func (b *GCSBackend) Delete(ctx context.Context, key SafeKey) error {
	res, err := b.DiscardIf(ctx, key, ItemNotAvailable, AnyETag)
	if err != nil {
		return err
	}
	if IsItemNotAvailable(res.ActualETag) {
		return &KeyMissing{Key: key}
	}
	return nil
}

func (b *GCSBackend) Discard(ctx context.Context, key SafeKey) (bool, error) {
	res, err := b.DiscardIf(ctx, key, ItemNotAvailable, AnyETag)
	if err != nil {
		return false, err
	}
	return !IsItemNotAvailable(res.ActualETag), nil
}

func (b *GCSBackend) Contains(ctx context.Context, key SafeKey) (bool, error) {
	actual, _, err := b.attrs(ctx, b.objectName(key))
	if err != nil {
		return false, err
	}
	return !IsItemNotAvailable(actual), nil
}

func (b *GCSBackend) ETag(ctx context.Context, key SafeKey) (string, error) {
	actual, _, err := b.attrs(ctx, b.objectName(key))
	if err != nil {
		return "", err
	}
	if IsItemNotAvailable(actual) {
		return "", &KeyMissing{Key: key}
	}
	return actual.(string), nil
}

func (b *GCSBackend) Timestamp(ctx context.Context, key SafeKey) (time.Time, error) {
	actual, attrs, err := b.attrs(ctx, b.objectName(key))
	if err != nil {
		return time.Time{}, err
	}
	if IsItemNotAvailable(actual) {
		return time.Time{}, &KeyMissing{Key: key}
	}
	return attrs.Updated, nil
}

func (b *GCSBackend) listAll(ctx context.Context) ([]SafeKey, []time.Time, error) {
	var keys []SafeKey
	var times []time.Time
	ext := "." + b.codec.Ext()

	query := &storage.Query{}
	if b.prefix != "" {
		query.Prefix = b.prefix + "/"
	}
	it := b.client.Bucket(b.bucket).Objects(ctx, query)
	for {
		var attrs *storage.ObjectAttrs
		var done bool
		err := b.breaker.Execute(ctx, func() error {
			a, opErr := it.Next()
			if errors.Is(opErr, iterator.Done) {
				done = true
				return nil
			}
			attrs = a
			return opErr
		})
		if done {
			break
		}
		if err != nil {
			return nil, nil, &BackendFailure{Backend: "gcs", Op: "Objects.Next", Cause: err}
		}
		name := attrs.Name
		if b.prefix != "" {
			name = strings.TrimPrefix(name, b.prefix+"/")
		}
		if !strings.HasSuffix(name, ext) {
			continue
		}
		name = strings.TrimSuffix(name, ext)
		key, err := ParseSafeKey(name)
		if err != nil {
			continue
		}
		keys = append(keys, key)
		times = append(times, attrs.Updated)
	}
	return keys, times, nil
}

func (b *GCSBackend) Keys(ctx context.Context) ([]SafeKey, error) {
	keys, _, err := b.listAll(ctx)
	return keys, err
}

func (b *GCSBackend) Len(ctx context.Context) (int, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *GCSBackend) Values(ctx context.Context) ([]any, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		v, err := b.Get(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *GCSBackend) Items(ctx context.Context) (map[string]any, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := b.Get(ctx, k)
		if err != nil {
			continue
		}
		out[k.String()] = v
	}
	return out, nil
}

func (b *GCSBackend) RandomKey(ctx context.Context) (SafeKey, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &KeyMissing{Key: SafeKey{"*"}}
	}
	return keys[randIndex(len(keys))], nil
}

func (b *GCSBackend) rankByTime(ctx context.Context, ascending bool, n int) ([]SafeKey, error) {
	keys, times, err := b.listAll(ctx)
	if err != nil {
		return nil, err
	}
	return topNByTime(keys, times, ascending, n), nil
}

func (b *GCSBackend) OldestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	return b.rankByTime(ctx, true, n)
}

func (b *GCSBackend) NewestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	return b.rankByTime(ctx, false, n)
}

func (b *GCSBackend) Subdicts(ctx context.Context) ([]string, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return collectSubdictNames(keys), nil
}

func (b *GCSBackend) GetSubdict(ctx context.Context, prefix SafeKey) (PersiDict, error) {
	return &subdictView{parent: b, prefix: prefix}, nil
}

var _ PersiDict = (*GCSBackend)(nil)
