package persidict

import (
	"context"
	"time"
)

// PersiDict is the capability set every backend and wrapper implements:
// the familiar mapping surface plus the ETag-based conditional protocol
// (spec.md §4.1). Backends own storage; wrappers hold an inner PersiDict
// and mediate caching or policy before delegating to it.
type PersiDict interface {
	// Get returns the value stored at key, or a *KeyMissing error.
	Get(ctx context.Context, key SafeKey) (any, error)

	// Set stores value at key. set(k, KeepCurrent) is a no-op;
	// set(k, DeleteCurrent) is equivalent to Discard(k).
	Set(ctx context.Context, key SafeKey, value any) error

	// Delete removes key, returning *KeyMissing if it was already absent.
	Delete(ctx context.Context, key SafeKey) error

	// Discard removes key if present. Unlike Delete it never raises for
	// a missing key; it reports whether anything was removed.
	Discard(ctx context.Context, key SafeKey) (removed bool, err error)

	// Contains reports whether key currently has a value.
	Contains(ctx context.Context, key SafeKey) (bool, error)

	// Len returns the number of keys currently stored.
	Len(ctx context.Context) (int, error)

	// Keys, Values and Items enumerate the store. Iteration order is
	// unspecified; listings reflect a non-atomic snapshot (spec.md §5).
	Keys(ctx context.Context) ([]SafeKey, error)
	Values(ctx context.Context) ([]any, error)
	Items(ctx context.Context) (map[string]any, error)

	// ETag returns the current ETag for key, or *KeyMissing.
	ETag(ctx context.Context, key SafeKey) (string, error)

	// Timestamp returns the last-modification time for key, or
	// *KeyMissing.
	Timestamp(ctx context.Context, key SafeKey) (time.Time, error)

	// RandomKey returns an arbitrary present key, or *KeyMissing if the
	// store is empty.
	RandomKey(ctx context.Context) (SafeKey, error)

	// OldestKeys and NewestKeys return up to n keys ordered by
	// last-modification time. No cross-key ordering guarantee is implied
	// beyond this best-effort ranking (spec.md §5).
	OldestKeys(ctx context.Context, n int) ([]SafeKey, error)
	NewestKeys(ctx context.Context, n int) ([]SafeKey, error)

	// GetSubdict returns a view restricted to keys under prefix, with
	// prefix stripped from the view's own keys.
	GetSubdict(ctx context.Context, prefix SafeKey) (PersiDict, error)

	// Subdicts lists the immediate prefix components that have at least
	// one key beneath them.
	Subdicts(ctx context.Context) ([]string, error)

	// GetItemIf, SetItemIf, SetDefaultIf and DiscardIf are the
	// conditional protocol (spec.md §4.2).
	GetItemIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition, retrieve RetrieveMode) (ConditionalResult, error)
	SetItemIf(ctx context.Context, key SafeKey, value any, expected any, condition ETagCondition) (ConditionalResult, error)
	SetDefaultIf(ctx context.Context, key SafeKey, defaultValue any, expected any, condition ETagCondition) (ConditionalResult, error)
	DiscardIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition) (ConditionalResult, error)

	// Config returns the instance's configuration.
	Config() Config

	// Close releases any resources held by the implementation.
	Close() error
}
