package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements RunLease on Redis. Suitable for distributed
// deployments where multiple schedulers may start the pipeline.
type RedisLease struct {
	client *redis.Client
}

// NewRedisLease creates a Redis-backed lease and verifies the connection.
func NewRedisLease(addr, password string, db int) (*RedisLease, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLease{client: client}, nil
}

// NewRedisLeaseWithClient creates a lease with an existing Redis client.
// This is useful for testing or when sharing a client across components.
func NewRedisLeaseWithClient(client *redis.Client) *RedisLease {
	return &RedisLease{client: client}
}

// Acquire takes the lease with SETNX so only one owner wins.
func (l *RedisLease) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lease: %w", err)
	}
	return ok, nil
}

// Release frees the lease if the caller still owns it.
func (l *RedisLease) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release run lease: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (l *RedisLease) Close() error {
	return l.client.Close()
}

var _ RunLease = (*RedisLease)(nil)
