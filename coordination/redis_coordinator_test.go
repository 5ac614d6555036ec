package coordination_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/adrianmcphee/persidict"
	"github.com/adrianmcphee/persidict/coordination"
)

func newTestCoordinator(t *testing.T) (*coordination.RedisCoordinator, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return coordination.NewRedisCoordinator(client, "persidict-test"), mr
}

func TestRedisCoordinatorLockExcludesConcurrentHolder(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	release, err := coord.Lock(ctx, "widget-1", time.Second)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if _, err := coord.Lock(ctx, "widget-1", time.Second); !errors.Is(err, persidict.ErrLockHeld) {
		t.Errorf("second Lock on the same key = %v, want ErrLockHeld", err)
	}

	release()

	release2, err := coord.Lock(ctx, "widget-1", time.Second)
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	release2()
}

func TestRedisCoordinatorReleaseDoesNotStealReacquiredLock(t *testing.T) {
	coord, mr := newTestCoordinator(t)
	ctx := context.Background()

	release, err := coord.Lock(ctx, "widget-2", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	// Simulate the lock's TTL expiring and another holder acquiring it,
	// the case release() must not steal back from.
	mr.FastForward(100 * time.Millisecond)
	otherRelease, err := coord.Lock(ctx, "widget-2", time.Second)
	if err != nil {
		t.Fatalf("Lock after expiry failed: %v", err)
	}

	release()

	if _, err := coord.Lock(ctx, "widget-2", time.Second); !errors.Is(err, persidict.ErrLockHeld) {
		t.Errorf("lock after stale release = %v, want still held by the other owner", err)
	}
	otherRelease()
}

func TestRedisCoordinatorLockWithRetrySucceedsAfterRelease(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	release, err := coord.Lock(ctx, "widget-3", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	retry := persidict.DefaultRetryConfig()
	retry.MaxRetries = 10
	retry.InitialBackoff = 5 * time.Millisecond

	got, err := coord.LockWithRetry(ctx, "widget-3", time.Second, retry)
	if err != nil {
		t.Fatalf("LockWithRetry failed: %v", err)
	}
	got()
}

func TestRedisCoordinatorLockWithRetryExhaustsBudget(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	release, err := coord.Lock(ctx, "widget-4", time.Minute)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer release()

	retry := persidict.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, BackoffMultiple: 1, JitterPercent: 0}
	if _, err := coord.LockWithRetry(ctx, "widget-4", time.Minute, retry); !errors.Is(err, persidict.ErrLockTimeout) {
		t.Errorf("LockWithRetry against a permanently held lock = %v, want ErrLockTimeout", err)
	}
}

func TestRedisCoordinatorLockWithRetryUnboundedEventuallySucceeds(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	release, err := coord.Lock(ctx, "widget-7", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	retry := persidict.DefaultRetryConfig()
	retry.MaxRetries = persidict.UnboundedRetries
	retry.InitialBackoff = 5 * time.Millisecond

	got, err := coord.LockWithRetry(ctx, "widget-7", time.Second, retry)
	if err != nil {
		t.Fatalf("LockWithRetry with UnboundedRetries failed: %v", err)
	}
	got()
}

func TestRedisCoordinatorLockWithRetryUnboundedStopsOnContextCancellation(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	release, err := coord.Lock(ctx, "widget-8", time.Minute)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer release()

	cancelCtx, cancel := context.WithCancel(ctx)
	retry := persidict.DefaultRetryConfig()
	retry.MaxRetries = persidict.UnboundedRetries
	retry.InitialBackoff = 5 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := coord.LockWithRetry(cancelCtx, "widget-8", time.Minute, retry); !errors.Is(err, context.Canceled) {
		t.Errorf("LockWithRetry with UnboundedRetries against a canceled context = %v, want context.Canceled", err)
	}
}

func TestRedisCoordinatorWithLockRunsFnWhileHeld(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	ran := false
	err := coord.WithLock(ctx, "widget-5", time.Second, func(ctx context.Context) error {
		ran = true
		if _, err := coord.Lock(ctx, "widget-5", time.Second); !errors.Is(err, persidict.ErrLockHeld) {
			t.Errorf("lock should still be held inside WithLock's callback, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if !ran {
		t.Error("WithLock should have run fn")
	}

	// Lock must be released once WithLock returns.
	release, err := coord.Lock(ctx, "widget-5", time.Second)
	if err != nil {
		t.Fatalf("Lock after WithLock failed: %v", err)
	}
	release()
}

func TestRedisCoordinatorWithLockPropagatesFnError(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := coord.WithLock(ctx, "widget-6", time.Second, func(ctx context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("WithLock error = %v, want %v", err, sentinel)
	}
}
