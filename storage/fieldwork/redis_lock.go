package fieldwork

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when this holder still owns it.
// KEYS[1] = lock key, ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSweepLock keeps replicas from sweeping at the same time. Sweeps
// are idempotent, so the lock only saves duplicate provider traffic.
type RedisSweepLock struct {
	client *redis.Client
	key    string
	owner  string
}

// NewRedisSweepLock creates a lock over a shared Redis instance.
func NewRedisSweepLock(addr, password string, db int) *RedisSweepLock {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSweepLock{client: rdb, key: "fieldproof:sweep", owner: uuid.NewString()}
}

// Acquire takes the lock for ttl. It returns ErrLockHeld when another replica owns it.
func (l *RedisSweepLock) Acquire(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis sweep lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release drops the lock if still held by this replica.
func (l *RedisSweepLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("redis sweep unlock: %w", err)
	}
	return nil
}

func (l *RedisSweepLock) Close() error { return l.client.Close() }
