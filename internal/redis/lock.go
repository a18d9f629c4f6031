package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("resource lock not acquired")
)

// Locker serializes booking and cancellation against the resource partitions
// they touch: one key per date and one per vaccine. Operations on disjoint
// keys run fully in parallel.
type Locker interface {
	WithKeys(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type redisKeyLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKeyLocker creates a locker backed by one Redis key per resource.
func NewRedisKeyLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisKeyLocker{
		client: client,
		ttl:    ttl,
	}
}

// WithKeys acquires every key before running fn. Keys are acquired in sorted
// order so two callers locking overlapping sets cannot deadlock.
func (l *redisKeyLocker) WithKeys(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	sorted := dedupeSorted(keys)
	token := uuid.NewString()

	var held []string
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = l.release(ctx, held[i], token)
		}
	}()

	for _, key := range sorted {
		lockKey := fmt.Sprintf("lock:resource:%s", key)
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			// An unreachable redis is as much a failed acquisition as a
			// contended key; callers retry both the same way.
			return fmt.Errorf("acquire lock %s: %w", key, errors.Join(ErrLockNotAcquired, err))
		}
		if !ok {
			return ErrLockNotAcquired
		}
		held = append(held, lockKey)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisKeyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func dedupeSorted(keys []string) []string {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)
	return sorted
}

// NoopLocker satisfies Locker without any external coordination. Used when
// the service runs on the in-memory repository, whose transactions already
// serialize, and by tests.
type NoopLocker struct{}

func (NoopLocker) WithKeys(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
