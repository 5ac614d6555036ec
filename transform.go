package persidict

import (
	"context"
	"time"
)

// Transformer computes a new value from the current one. current is
// ItemNotAvailable if the key does not yet exist. Returning DeleteCurrent
// discards the key instead of writing; returning KeepCurrent aborts the
// transform as a no-op.
type Transformer func(current any) any

// TransformEngine runs a read-modify-write retry loop atop a PersiDict's
// conditional protocol, the Go analogue of the reference implementation's
// optimistic "transaction" helper (spec.md §4.6). It carries no state of
// its own beyond the store and retry policy, matching the teacher's
// thin-wrapper style for cross-cutting helpers (compare circuit_breaker.go).
type TransformEngine struct {
	store  PersiDict
	retry  RetryConfig
	logger Logger
}

// NewTransformEngine returns a TransformEngine operating against store
// with the given retry policy. Lost-race retries and retry-budget
// exhaustion are logged through a NoOpLogger by default; use WithLogger
// to observe them.
func NewTransformEngine(store PersiDict, retry RetryConfig) *TransformEngine {
	return &TransformEngine{store: store, retry: retry, logger: &NoOpLogger{}}
}

// WithLogger attaches logger to e, returning e for chaining.
func (e *TransformEngine) WithLogger(logger Logger) *TransformEngine {
	e.logger = logger
	return e
}

// NewTransformEngineForStore derives a TransformEngine's retry policy from
// store's own Config.NRetries (spec.md §6), using the package's default
// backoff curve for the rest of RetryConfig. This is the constructor to use
// when a store's configured retry bound - including UnboundedRetries - should
// govern its transforms, rather than a retry policy picked independently.
func NewTransformEngineForStore(store PersiDict) *TransformEngine {
	retry := DefaultRetryConfig()
	retry.MaxRetries = store.Config().NRetries
	return &TransformEngine{store: store, retry: retry, logger: &NoOpLogger{}}
}

// Transform applies fn to the current value at key, retrying on
// concurrency conflicts up to e.retry.MaxRetries times. When MaxRetries is
// UnboundedRetries (spec.md §4.6 step 5: "if n_retries is unbounded (null),
// the loop continues indefinitely"), Transform never gives up on its own -
// it keeps retrying until it succeeds or ctx is cancelled.
//
// Algorithm per spec.md §4.6:
//  1. GetItemIf(AnyETag, AlwaysRetrieve) to read current value + ETag.
//  2. Compute next = fn(current).
//  3. SetItemIf(next, expected=observed ETag, ETagIsTheSame).
//  4. If the condition wasn't satisfied, another writer won the race:
//     retry from step 1. Otherwise return the OperationResult.
func (e *TransformEngine) Transform(ctx context.Context, key SafeKey, fn Transformer) (OperationResult, error) {
	unbounded := e.retry.Unbounded()
	maxAttempts := e.retry.MaxRetries

	for attempt := 0; unbounded || attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return OperationResult{}, err
		}

		read, err := e.store.GetItemIf(ctx, key, ItemNotAvailable, AnyETag, AlwaysRetrieve)
		if err != nil {
			return OperationResult{}, err
		}

		next := fn(read.NewValue)

		if IsKeepCurrent(next) {
			return OperationResult{ResultingETag: read.ActualETag, NewValue: read.NewValue}, nil
		}

		write, err := e.store.SetItemIf(ctx, key, next, read.ActualETag, ETagIsTheSame)
		if err != nil {
			return OperationResult{}, err
		}
		if write.ConditionWasSatisfied {
			return OperationResult{ResultingETag: write.ResultingETag, NewValue: write.NewValue}, nil
		}

		LogTransformConflict(e.logger, key, attempt, read.ActualETag)

		if unbounded || attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return OperationResult{}, ctx.Err()
			case <-time.After(e.retry.Backoff(attempt)):
			}
		}
	}

	LogTransformExhausted(e.logger, key, maxAttempts+1)
	return OperationResult{}, &ConcurrencyConflict{Key: key, Attempts: maxAttempts + 1}
}
