package persidict

import (
	"errors"
	"fmt"
)

// Sentinel target errors, matched with errors.Is against the concrete
// error types below.
var (
	ErrKeyMissing     = errors.New("key missing")
	ErrMutationPolicy = errors.New("mutation forbidden by policy")
	ErrConflict       = errors.New("concurrent modification detected")

	ErrInvalidData   = errors.New("invalid data")
	ErrInvalidConfig = errors.New("invalid configuration")

	ErrUnauthorized       = errors.New("unauthorized access")
	ErrTimeout            = errors.New("operation timed out")
	ErrBackendUnavailable = errors.New("backend unavailable")

	ErrLockHeld    = errors.New("lock already held by another process")
	ErrLockTimeout = errors.New("failed to acquire lock within timeout")

	ErrNotSupported = errors.New("operation not supported")
)

// KeyMissing is raised by unconditional Get/ETag/Timestamp when the key is
// absent. It carries the raw key so callers can log it without a type
// assertion.
type KeyMissing struct {
	Key SafeKey
}

func (e *KeyMissing) Error() string {
	return fmt.Sprintf("key missing: %s", e.Key)
}

func (e *KeyMissing) Unwrap() error { return ErrKeyMissing }

// MutationPolicy reports that the store's policy forbids the attempted
// mutation (append-only overwrite/delete, write-once overwrite, read-only
// view). Policy names the policy that rejected the call, not the
// operation that triggered it.
type MutationPolicy struct {
	Policy string
	Key    SafeKey
}

func (e *MutationPolicy) Error() string {
	return fmt.Sprintf("%s forbids this mutation on %s", e.Policy, e.Key)
}

func (e *MutationPolicy) Unwrap() error { return ErrMutationPolicy }

// ConcurrencyConflict is raised by TransformEngine when its retry budget
// is exhausted. Cause preserves the last conflicting result or error.
type ConcurrencyConflict struct {
	Key      SafeKey
	Attempts int
	Cause    error
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("transform on %s did not converge after %d attempts", e.Key, e.Attempts)
}

func (e *ConcurrencyConflict) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, ErrConflict) to match a ConcurrencyConflict
// even when Cause is nil.
func (e *ConcurrencyConflict) Is(target error) bool {
	return target == ErrConflict
}

// BackendFailure wraps any backend/infrastructure failure that is not a
// missing-key condition: permissions, network, auth, corruption detected
// by the backend. The original cause is always preserved via Unwrap.
type BackendFailure struct {
	Backend string
	Op      string
	Key     string
	Cause   error
}

func (e *BackendFailure) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Backend, e.Op, e.Key, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Cause)
}

func (e *BackendFailure) Unwrap() error { return e.Cause }

// ErrorWithContext decorates a sentinel error with structured debugging
// context, without losing errors.Is/As compatibility with the sentinel.
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error { return e.Err }

// WithContext attaches structured context to a sentinel error.
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{Err: err, Context: context}
}

// IsNotFound reports whether err represents a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyMissing)
}

// IsMutationPolicy reports whether err was a policy rejection.
func IsMutationPolicy(err error) bool {
	return errors.Is(err, ErrMutationPolicy)
}

// IsConflict reports whether err represents a lost optimistic-concurrency
// race (conditional write not satisfied, or retry exhaustion).
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable reports whether retrying the operation unchanged might
// succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrLockHeld) ||
		errors.Is(err, ErrLockTimeout)
}

// IsPermanent reports whether retrying the operation unchanged cannot
// succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrKeyMissing) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMutationPolicy)
}
