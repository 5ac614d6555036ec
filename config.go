package persidict

import "time"

// Tuning constants shared across backends and wrappers.
const (
	DefaultMaxRetries      = 3
	DefaultInitialBackoff  = 100 * time.Millisecond
	DefaultBackoffMultiple = 2
	DefaultJitterPercent   = 0.5 // 50% jitter to avoid thundering herd

	DefaultListPageSize = 1000

	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755

	// DefaultMaxBackoff caps the exponential backoff delay computed by
	// RetryConfig.Backoff, which would otherwise grow without bound in
	// UnboundedRetries mode.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultDigestLen is the number of hex characters FileDirBackend
	// appends to each key component when digest suffixing is enabled.
	DefaultDigestLen = 8

	// DefaultStripes is the number of mutex stripes FileDirBackend uses to
	// serialize its check-then-act conditional window per key.
	DefaultStripes = 32
)

// UnboundedRetries, used as RetryConfig.MaxRetries, tells TransformEngine
// (spec.md §4.6 step 5) and RedisCoordinator.LockWithRetry to keep retrying
// until the operation succeeds or ctx is done, instead of giving up after a
// fixed number of attempts.
const UnboundedRetries = -1

// RetryConfig controls the exponential-backoff retry loop used by
// TransformEngine and by FileDirBackend's transient-rename recovery.
type RetryConfig struct {
	// MaxRetries bounds the number of retries after the first attempt.
	// UnboundedRetries (-1) removes the bound: the loop runs until the
	// operation succeeds or its context is cancelled.
	MaxRetries      int
	InitialBackoff  time.Duration
	BackoffMultiple int
	JitterPercent   float64
}

// Unbounded reports whether c retries without a fixed attempt ceiling.
func (c RetryConfig) Unbounded() bool { return c.MaxRetries == UnboundedRetries }

// DefaultRetryConfig returns sensible defaults: 3 retries, 100ms initial
// backoff doubling each attempt, 50% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialBackoff:  DefaultInitialBackoff,
		BackoffMultiple: DefaultBackoffMultiple,
		JitterPercent:   DefaultJitterPercent,
	}
}

// Validate reports whether the retry configuration is usable.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 && c.MaxRetries != UnboundedRetries {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "MaxRetries", "value": c.MaxRetries, "reason": "must be non-negative or UnboundedRetries",
		})
	}
	if c.InitialBackoff <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "InitialBackoff", "value": c.InitialBackoff, "reason": "must be positive",
		})
	}
	if c.BackoffMultiple < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "BackoffMultiple", "value": c.BackoffMultiple, "reason": "must be >= 1",
		})
	}
	if c.JitterPercent < 0 || c.JitterPercent > 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "JitterPercent", "value": c.JitterPercent, "reason": "must be between 0 and 1",
		})
	}
	return nil
}

// Backoff returns the sleep duration for retry attempt i (0-based),
// including jitter. Capped at DefaultMaxBackoff so UnboundedRetries mode
// does not overflow backoff into an effective hang.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 0; i < attempt && backoff < DefaultMaxBackoff; i++ {
		backoff *= time.Duration(c.BackoffMultiple)
	}
	if backoff > DefaultMaxBackoff {
		backoff = DefaultMaxBackoff
	}
	jitter := time.Duration(float64(backoff) * c.JitterPercent * (1.0 - (float64(attempt%2) * 0.5)))
	return backoff + jitter
}

// ValueValidator is the Go analogue of the spec's base_class_for_values
// isinstance check: a closure applied to every value before it is written.
// A nil ValueValidator accepts every value.
type ValueValidator func(value any) error

// Config is the common per-instance configuration exposed by every
// PersiDict implementation (spec.md §6, "Configuration options").
type Config struct {
	// SerializationFormat names the serialization format of the stored
	// values (e.g. "json", "text", "gob"). It is a label only: backends
	// encode through the Codec passed to their constructor and do not
	// look a codec up by this name.
	SerializationFormat string

	// ValueValidator, if set, is applied to every incoming value before
	// it is encoded and written. A validation failure is a type error,
	// not a BackendFailure.
	ValueValidator ValueValidator

	// AppendOnly forbids overwriting or deleting existing keys; writes to
	// existing keys and all deletes fail with MutationPolicy.
	AppendOnly bool

	// DigestLen is the number of hex digits of collision-safe digest
	// FileDirBackend appends to each rendered path component. Zero
	// disables suffixing. Ignored by non-filesystem backends.
	DigestLen int

	// NRetries bounds TransformEngine's retry loop when the engine is built
	// with NewTransformEngineForStore. UnboundedRetries (-1) loops until
	// success or context cancellation.
	NRetries int
}

// DefaultConfig returns a Config using the JSON codec, no value
// constraint, mutable semantics, and digest suffixing enabled.
func DefaultConfig() Config {
	return Config{
		SerializationFormat: "json",
		DigestLen:           DefaultDigestLen,
		NRetries:            DefaultMaxRetries,
	}
}

// Validate reports whether the Config is internally consistent.
func (c Config) Validate() error {
	if c.SerializationFormat == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "SerializationFormat", "reason": "must be set",
		})
	}
	if c.DigestLen < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "DigestLen", "value": c.DigestLen, "reason": "must be non-negative",
		})
	}
	return nil
}

// validateValue runs the configured ValueValidator, if any.
func (c Config) validateValue(v any) error {
	if c.ValueValidator == nil {
		return nil
	}
	if err := c.ValueValidator(v); err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return nil
}
