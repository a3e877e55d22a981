package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client and pings it within five seconds.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// releaseLock deletes the key only while it still holds the caller's owner token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock acquires a best-effort mutex at key for ttl. The returned release func is a
// no-op when the lock was not obtained.
func TryLock(ctx context.Context, client *redis.Client, key, owner string, ttl time.Duration) (bool, func(context.Context), error) {
	noop := func(context.Context) {}
	if client == nil {
		return true, noop, nil
	}
	ok, err := client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, noop, fmt.Errorf("platform/cache: lock %s: %w", key, err)
	}
	if !ok {
		return false, noop, nil
	}
	release := func(ctx context.Context) {
		_ = releaseLock.Run(ctx, client, []string{key}, owner).Err()
	}
	return true, release, nil
}
