package persidict

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Backend implements PersiDict over an S3 bucket, one object per key.
// Unlike the teacher's Head-then-Put, conditional writes use S3's native
// IfMatch/IfNoneMatch request headers, so SetItemIf is atomic server-side
// with no local locking required (spec.md §4.4).
type S3Backend struct {
	client  *s3svc.Client
	bucket  string
	prefix  string
	codec   Codec
	cfg     Config
	breaker *CircuitBreaker
}

// cloudBackendMaxFailures and cloudBackendResetTimeout size the breaker
// guarding every S3Backend/GCSBackend network call, the same defaults
// RedisCoordinator uses to guard its Redis calls: fail fast after a
// handful of consecutive errors rather than hanging every caller behind a
// string of dial timeouts.
const (
	cloudBackendMaxFailures  = 5
	cloudBackendResetTimeout = 30 * time.Second
)

// NewS3Backend creates a backend against bucket, prefixing every object
// key with prefix (empty is fine). Credentials and region are resolved
// through the standard AWS SDK v2 config chain. Bucket lifecycle is
// best-effort: see ensureBucket.
func NewS3Backend(ctx context.Context, bucket, prefix string, codec Codec, cfg Config) (*S3Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &BackendFailure{Backend: "s3", Op: "LoadDefaultConfig", Cause: err}
	}
	client := s3svc.NewFromConfig(awsCfg)
	if err := ensureBucket(ctx, client, bucket); err != nil {
		return nil, err
	}
	return &S3Backend{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		codec:   codec,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cloudBackendMaxFailures, cloudBackendResetTimeout),
	}, nil
}

// NewS3BackendWithClient builds a backend around an already-configured
// client, the way the teacher's NewS3BackendWithRedisLock takes a client
// instead of resolving one itself. This is the seam integration tests use
// to point the backend at a MinIO container instead of real S3. Bucket
// lifecycle is best-effort: see ensureBucket.
func NewS3BackendWithClient(ctx context.Context, client *s3svc.Client, bucket, prefix string, codec Codec, cfg Config) (*S3Backend, error) {
	if err := ensureBucket(ctx, client, bucket); err != nil {
		return nil, err
	}
	return &S3Backend{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		codec:   codec,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cloudBackendMaxFailures, cloudBackendResetTimeout),
	}, nil
}

// ensureBucket performs a best-effort provisioning check the way the
// teacher's Ping (a HeadBucket call) confirms reachability and its
// s3_integration_test.go ensureBucketExists helper provisions a bucket for
// test runs: HeadBucket first, then CreateBucket if the bucket is missing.
// Creation is best-effort: BucketAlreadyOwnedByYou/BucketAlreadyExists from
// CreateBucket, and access-denied from HeadBucket, are absorbed since
// either way the bucket is presumably already usable. These are the only
// swallowed errors; any other failure is returned as a BackendFailure.
func ensureBucket(ctx context.Context, client *s3svc.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3svc.HeadBucketInput{Bucket: &bucket})
	if err == nil {
		return nil
	}
	if isAccessDenied(err) {
		return nil
	}

	_, err = client.CreateBucket(ctx, &s3svc.CreateBucketInput{Bucket: &bucket})
	if err == nil {
		return nil
	}
	var alreadyOwned *types.BucketAlreadyOwnedByYou
	var alreadyExists *types.BucketAlreadyExists
	if errors.As(err, &alreadyOwned) || errors.As(err, &alreadyExists) {
		return nil
	}
	return &BackendFailure{Backend: "s3", Op: "CreateBucket", Key: bucket, Cause: err}
}

// isAccessDenied reports whether err is a 403 from HeadBucket, the
// not-authorized-on-head-bucket case ensureBucket absorbs.
func isAccessDenied(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 403
	}
	return false
}

func (b *S3Backend) Config() Config { return b.cfg }
func (b *S3Backend) Close() error   { return nil }

func (b *S3Backend) objectKey(key SafeKey) string {
	name := key.String() + "." + b.codec.Ext()
	if b.prefix == "" {
		return name
	}
	return b.prefix + "/" + name
}

// conditionHeaders translates the ETag condition algebra into S3's
// conditional-write request headers per spec.md §4.4:
//
//	AnyETag          -> no header, unconditional write
//	ETagIsTheSame     -> IfMatch: expected            (expected must be a real ETag)
//	                  -> IfNoneMatch: "*"              (expected is ItemNotAvailable: "create only if absent")
//	ETagHasChanged    -> has no direct S3 header; SetItemIf evaluates it with a HEAD, then calls setUnconditional
func conditionHeaders(condition ETagCondition, expected any) (ifMatch, ifNoneMatch *string) {
	switch condition {
	case ETagIsTheSame:
		if IsItemNotAvailable(expected) {
			star := "*"
			return nil, &star
		}
		s := expected.(string)
		return &s, nil
	default:
		return nil, nil
	}
}

func isPreconditionFailed(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 412 || respErr.HTTPStatusCode() == 409
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (b *S3Backend) head(ctx context.Context, key string) (any, time.Time, error) {
	var out *s3svc.HeadObjectOutput
	err := b.breaker.Execute(ctx, func() error {
		var opErr error
		out, opErr = b.client.HeadObject(ctx, &s3svc.HeadObjectInput{Bucket: &b.bucket, Key: &key})
		return opErr
	})
	if err != nil {
		if isNotFound(err) {
			return ItemNotAvailable, time.Time{}, nil
		}
		return nil, time.Time{}, &BackendFailure{Backend: "s3", Op: "HeadObject", Key: key, Cause: err}
	}
	etag := aws.ToString(out.ETag)
	modTime := time.Time{}
	if out.LastModified != nil {
		modTime = *out.LastModified
	}
	return etag, modTime, nil
}

func (b *S3Backend) get(ctx context.Context, key string) (any, any, error) {
	var out *s3svc.GetObjectOutput
	err := b.breaker.Execute(ctx, func() error {
		var opErr error
		out, opErr = b.client.GetObject(ctx, &s3svc.GetObjectInput{Bucket: &b.bucket, Key: &key})
		return opErr
	})
	if err != nil {
		if isNotFound(err) {
			return ItemNotAvailable, ItemNotAvailable, nil
		}
		return nil, nil, &BackendFailure{Backend: "s3", Op: "GetObject", Key: key, Cause: err}
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, &BackendFailure{Backend: "s3", Op: "GetObject.Read", Key: key, Cause: err}
	}
	v, err := b.codec.Decode(data)
	if err != nil {
		return nil, nil, &BackendFailure{Backend: "s3", Op: "decode", Key: key, Cause: err}
	}
	return aws.ToString(out.ETag), v, nil
}

func (b *S3Backend) GetItemIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition, retrieve RetrieveMode) (ConditionalResult, error) {
	objKey := b.objectKey(key)
	actual, _, err := b.head(ctx, objKey)
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
		_, v, err := b.get(ctx, objKey)
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

// SetItemIf performs the write with a single server-side conditional
// PutObject call whenever the condition maps to IfMatch/IfNoneMatch; a
// not-satisfied response comes back as a 412 from S3, translated here
// into ConditionWasSatisfied=false rather than an error (spec.md §4.4).
// ETagHasChanged has no direct S3 header, so it is evaluated with a HEAD
// immediately before the PutObject call; the brief window between the two
// calls is the one case where this backend is not server-side atomic,
// called out explicitly since callers relying on ETagHasChanged for
// correctness (rather than as a hint) should prefer ETagIsTheSame.
func (b *S3Backend) SetItemIf(ctx context.Context, key SafeKey, value any, expected any, condition ETagCondition) (ConditionalResult, error) {
	if !IsKeepCurrent(value) && !IsDeleteCurrent(value) {
		if err := b.cfg.validateValue(value); err != nil {
			return ConditionalResult{}, err
		}
	}

	objKey := b.objectKey(key)

	if condition == ETagHasChanged {
		actual, _, err := b.head(ctx, objKey)
		if err != nil {
			return ConditionalResult{}, err
		}
		if !satisfiesCondition(condition, expected, actual) {
			return ConditionalResult{
				ConditionWasSatisfied: false,
				ActualETag:            actual,
				ResultingETag:         actual,
				NewValue:              notRetrievedOrAbsent(!IsItemNotAvailable(actual)),
			}, nil
		}
		return b.setUnconditional(ctx, key, objKey, value, actual)
	}

	if IsKeepCurrent(value) {
		actual, _, err := b.head(ctx, objKey)
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
		return b.discardConditional(ctx, key, objKey, expected, condition)
	}

	ifMatch, ifNoneMatch := conditionHeaders(condition, expected)
	actualBefore, _, err := b.head(ctx, objKey)
	if err != nil {
		return ConditionalResult{}, err
	}
	exists := !IsItemNotAvailable(actualBefore)
	if err := enforceWritePolicy(b.cfg, key, exists, false); err != nil {
		return ConditionalResult{}, err
	}

	data, err := b.codec.Encode(value)
	if err != nil {
		return ConditionalResult{}, &BackendFailure{Backend: "s3", Op: "encode", Key: objKey, Cause: err}
	}

	put := &s3svc.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &objKey,
		Body:        strings.NewReader(string(data)),
		IfMatch:     ifMatch,
		IfNoneMatch: ifNoneMatch,
	}
	var out *s3svc.PutObjectOutput
	err = b.breaker.Execute(ctx, func() error {
		var opErr error
		out, opErr = b.client.PutObject(ctx, put)
		return opErr
	})
	if err != nil {
		if isPreconditionFailed(err) {
			actual, _, headErr := b.head(ctx, objKey)
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
		return ConditionalResult{}, &BackendFailure{Backend: "s3", Op: "PutObject", Key: objKey, Cause: err}
	}

	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actualBefore,
		ResultingETag:         aws.ToString(out.ETag),
		NewValue:              value,
	}, nil
}

// setUnconditional writes value with no conditional header, used once a
// prior HEAD has already evaluated the condition (the ETagHasChanged
// path).
func (b *S3Backend) setUnconditional(ctx context.Context, key SafeKey, objKey string, value any, actualBefore any) (ConditionalResult, error) {
	exists := !IsItemNotAvailable(actualBefore)
	if err := enforceWritePolicy(b.cfg, key, exists, false); err != nil {
		return ConditionalResult{}, err
	}
	data, err := b.codec.Encode(value)
	if err != nil {
		return ConditionalResult{}, &BackendFailure{Backend: "s3", Op: "encode", Key: objKey, Cause: err}
	}
	var out *s3svc.PutObjectOutput
	err = b.breaker.ExecuteBackendOp(ctx, "s3", "PutObject", objKey, func() error {
		var opErr error
		out, opErr = b.client.PutObject(ctx, &s3svc.PutObjectInput{Bucket: &b.bucket, Key: &objKey, Body: strings.NewReader(string(data))})
		return opErr
	})
	if err != nil {
		return ConditionalResult{}, err
	}
	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actualBefore,
		ResultingETag:         aws.ToString(out.ETag),
		NewValue:              value,
	}, nil
}

func (b *S3Backend) SetDefaultIf(ctx context.Context, key SafeKey, defaultValue any, expected any, condition ETagCondition) (ConditionalResult, error) {
	if err := rejectJokerDefault(defaultValue); err != nil {
		return ConditionalResult{}, err
	}
	objKey := b.objectKey(key)
	actual, _, err := b.head(ctx, objKey)
	if err != nil {
		return ConditionalResult{}, err
	}
	if !IsItemNotAvailable(actual) {
		_, v, err := b.get(ctx, objKey)
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

func (b *S3Backend) discardConditional(ctx context.Context, key SafeKey, objKey string, expected any, condition ETagCondition) (ConditionalResult, error) {
	actual, _, err := b.head(ctx, objKey)
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
	err = b.breaker.ExecuteBackendOp(ctx, "s3", "DeleteObject", objKey, func() error {
		_, opErr := b.client.DeleteObject(ctx, &s3svc.DeleteObjectInput{Bucket: &b.bucket, Key: &objKey})
		return opErr
	})
	if err != nil {
		return ConditionalResult{}, err
	}
	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actual,
		ResultingETag:         ItemNotAvailable,
		NewValue:              ItemNotAvailable,
	}, nil
}

func (b *S3Backend) DiscardIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition) (ConditionalResult, error) {
	return b.discardConditional(ctx, key, b.objectKey(key), expected, condition)
}

func (b *S3Backend) Get(ctx context.Context, key SafeKey) (any, error) {
	actual, v, err := b.get(ctx, b.objectKey(key))
	if err != nil {
		return nil, err
	}
	if IsItemNotAvailable(actual) {
		return nil, &KeyMissing{Key: key}
	}
	return v, nil
}

func (b *S3Backend) Set(ctx context.Context, key SafeKey, value any) error {
	_, err := b.SetItemIf(ctx, key, value, ItemNotAvailable, AnyETag)
	return err
}

func (b *S3Backend) Delete(ctx context.Context, key SafeKey) error {
	res, err := b.DiscardIf(ctx, key, ItemNotAvailable, AnyETag)
	if err != nil {
		return err
	}
	if IsItemNotAvailable(res.ActualETag) {
		return &KeyMissing{Key: key}
	}
	return nil
}

func (b *S3Backend) Discard(ctx context.Context, key SafeKey) (bool, error) {
	res, err := b.DiscardIf(ctx, key, ItemNotAvailable, AnyETag)
	if err != nil {
		return false, err
	}
	return !IsItemNotAvailable(res.ActualETag), nil
}

func (b *S3Backend) Contains(ctx context.Context, key SafeKey) (bool, error) {
	actual, _, err := b.head(ctx, b.objectKey(key))
	if err != nil {
		return false, err
	}
	return !IsItemNotAvailable(actual), nil
}

func (b *S3Backend) ETag(ctx context.Context, key SafeKey) (string, error) {
	actual, _, err := b.head(ctx, b.objectKey(key))
	if err != nil {
		return "", err
	}
	if IsItemNotAvailable(actual) {
		return "", &KeyMissing{Key: key}
	}
	return actual.(string), nil
}

func (b *S3Backend) Timestamp(ctx context.Context, key SafeKey) (time.Time, error) {
	actual, modTime, err := b.head(ctx, b.objectKey(key))
	if err != nil {
		return time.Time{}, err
	}
	if IsItemNotAvailable(actual) {
		return time.Time{}, &KeyMissing{Key: key}
	}
	return modTime, nil
}

// listAll pages through every object under prefix via ListObjectsV2,
// decoding each key's SafeKey form and recording its LastModified time;
// entries whose suffix doesn't match the configured codec extension are
// foreign and skipped (spec.md §4.4, "Listing").
func (b *S3Backend) listAll(ctx context.Context) ([]SafeKey, []time.Time, error) {
	var keys []SafeKey
	var times []time.Time
	ext := "." + b.codec.Ext()

	var token *string
	for {
		var out *s3svc.ListObjectsV2Output
		err := b.breaker.Execute(ctx, func() error {
			var opErr error
			out, opErr = b.client.ListObjectsV2(ctx, &s3svc.ListObjectsV2Input{
				Bucket:            &b.bucket,
				Prefix:            strPtrOrNil(b.prefix),
				ContinuationToken: token,
				MaxKeys:           aws.Int32(int32(DefaultListPageSize)),
			})
			return opErr
		})
		if err != nil {
			return nil, nil, &BackendFailure{Backend: "s3", Op: "ListObjectsV2", Cause: err}
		}
		for _, obj := range out.Contents {
			name := aws.ToString(obj.Key)
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
			if obj.LastModified != nil {
				times = append(times, *obj.LastModified)
			} else {
				times = append(times, time.Time{})
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, times, nil
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (b *S3Backend) Keys(ctx context.Context) ([]SafeKey, error) {
	keys, _, err := b.listAll(ctx)
	return keys, err
}

func (b *S3Backend) Len(ctx context.Context) (int, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *S3Backend) Values(ctx context.Context) ([]any, error) {
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

func (b *S3Backend) Items(ctx context.Context) (map[string]any, error) {
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

func (b *S3Backend) RandomKey(ctx context.Context) (SafeKey, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &KeyMissing{Key: SafeKey{"*"}}
	}
	return keys[randIndex(len(keys))], nil
}

func (b *S3Backend) rankByTime(ctx context.Context, ascending bool, n int) ([]SafeKey, error) {
	keys, times, err := b.listAll(ctx)
	if err != nil {
		return nil, err
	}
	return topNByTime(keys, times, ascending, n), nil
}

func (b *S3Backend) OldestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	return b.rankByTime(ctx, true, n)
}

func (b *S3Backend) NewestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	return b.rankByTime(ctx, false, n)
}

func (b *S3Backend) Subdicts(ctx context.Context) ([]string, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return collectSubdictNames(keys), nil
}

func (b *S3Backend) GetSubdict(ctx context.Context, prefix SafeKey) (PersiDict, error) {
	return &subdictView{parent: b, prefix: prefix}, nil
}

var _ PersiDict = (*S3Backend)(nil)
