// Package lock guards scheduled sync runs against overlap. Deployments
// with a configured redis share one lock across instances; without redis
// a process-local lock still prevents the scheduler and the HTTP trigger
// from racing each other.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisLocker struct {
	client *redis.Client

	mu      sync.Mutex
	holders map[string]string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:  client,
		holders: make(map[string]string),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	holder := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if acquired {
		l.mu.Lock()
		l.holders[key] = holder
		l.mu.Unlock()
	}
	return acquired, nil
}

// releaseScript deletes the key only if this process still holds it, so a
// run that outlived its TTL cannot release a newer run's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	holder, ok := l.holders[key]
	delete(l.holders, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{key}, holder).Err()
}

type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

func (l *LocalLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
