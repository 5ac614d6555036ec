// Package coordination provides optional cross-process locking for
// FileDirBackend, adapted from the teacher's DistributedLock and
// FilesystemBackendWithRedisLock (distributed_lock.go). Nothing in
// persidict's core requires it: FileDirBackend's in-process StripedLocks
// is enough for a single instance, and the atomic backends (S3, GCS)
// never need it. It exists for the case spec.md §5 explicitly calls out -
// "callers needing cross-process atomicity over the filesystem are
// directed to ... external coordination" - without promoting that need
// into a general-purpose lock manager the core depends on.
package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adrianmcphee/persidict"
)

// RedisCoordinator hands out short-lived, key-scoped distributed locks
// backed by Redis SETNX, the same primitive the teacher's DistributedLock
// used.
type RedisCoordinator struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	breaker    *persidict.CircuitBreaker
	logger     persidict.Logger
}

// NewRedisCoordinator returns a coordinator using client, namespacing
// every lock key under keyPrefix. A CircuitBreaker wraps every lock
// acquisition (SETNX) so a Redis outage fails fast instead of hanging every
// FileDirBackend write behind a dial timeout; the release script and Close
// call Redis directly. Lock acquisitions and retries are logged
// through a NoOpLogger by default; use WithLogger to observe them.
func NewRedisCoordinator(client *redis.Client, keyPrefix string) *RedisCoordinator {
	return &RedisCoordinator{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: 30 * time.Second,
		breaker:    persidict.NewCircuitBreaker(5, 30*time.Second),
		logger:     &persidict.NoOpLogger{},
	}
}

// WithLogger attaches logger to c, returning c for chaining.
func (c *RedisCoordinator) WithLogger(logger persidict.Logger) *RedisCoordinator {
	c.logger = logger
	return c
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Lock acquires a distributed lock for key, held for at most ttl (the
// coordinator's default if ttl is zero). The returned release function
// only deletes the lock if this call still owns it, so a lock that
// outlived its TTL and was reacquired by someone else is never stolen
// back out from under them.
func (c *RedisCoordinator) Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	lockKey := fmt.Sprintf("%s:lock:%s", c.keyPrefix, key)
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())

	var acquired bool
	err = c.breaker.Execute(ctx, func() error {
		ok, err := c.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
		acquired = ok
		return err
	})
	if err != nil {
		return nil, persidict.WithContext(persidict.ErrBackendUnavailable, map[string]interface{}{
			"reason": err.Error(), "key": key,
		})
	}
	if !acquired {
		return nil, persidict.WithContext(persidict.ErrLockHeld, map[string]interface{}{"key": key, "ttl": ttl})
	}

	persidict.LogLockAcquired(c.logger, lockKey, ttl)
	release = func() {
		cleanupCtx := context.Background()
		_, _ = c.client.Eval(cleanupCtx, releaseScript, []string{lockKey}, lockValue).Result()
	}
	return release, nil
}

// LockWithRetry retries Lock with the given RetryConfig's backoff until
// it succeeds, the context is canceled, or the retry budget is exhausted.
func (c *RedisCoordinator) LockWithRetry(ctx context.Context, key string, ttl time.Duration, retry persidict.RetryConfig) (func(), error) {
	unbounded := retry.Unbounded()
	var lastErr error
	for attempt := 0; unbounded || attempt <= retry.MaxRetries; attempt++ {
		release, err := c.Lock(ctx, key, ttl)
		if err == nil {
			return release, nil
		}
		lastErr = err

		if !unbounded && attempt == retry.MaxRetries {
			break
		}
		backoff := retry.Backoff(attempt)
		persidict.LogLockRetry(c.logger, key, attempt, backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, persidict.WithContext(persidict.ErrLockTimeout, map[string]interface{}{
		"key": key, "attempts": retry.MaxRetries + 1, "cause": lastErr.Error(),
	})
}

// WithLock runs fn while holding key's distributed lock, the coordination
// analogue of the teacher's WithAtomicUpdate, generalized from a
// Store-specific helper to any func(context.Context) error.
func (c *RedisCoordinator) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	release, err := c.LockWithRetry(ctx, key, ttl, persidict.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Close releases the underlying Redis client.
func (c *RedisCoordinator) Close() error {
	return c.client.Close()
}
