package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestWithKeys_UnreachableServerIsLockNotAcquired(t *testing.T) {
	// Port 1 refuses the dial, so acquisition fails before any key is held.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisKeyLocker(client, time.Second)

	err := locker.WithKeys(context.Background(), []string{"date:2024-05-01"}, func(context.Context) error {
		t.Fatal("critical section must not run without the lock")
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got: %v", err)
	}
}

func TestNoopLocker_RunsCriticalSection(t *testing.T) {
	ran := false
	err := NoopLocker{}.WithKeys(context.Background(), []string{"a", "b"}, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected fn to run cleanly, ran=%v err=%v", ran, err)
	}
}
