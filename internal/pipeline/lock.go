package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/brendte/news-router/pkg/redis"
)

// Locker is a cross-process lock. Acquire reports false when another owner
// holds name.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// releaseScript deletes the key only while it still holds our owner id.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end
`)

// RedisLock is a SET NX lock with a TTL and a per-process owner id.
type RedisLock struct {
	client  *redis.Client
	ownerID string
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, ownerID: uuid.NewString()}
}

func (l *RedisLock) key(name string) string {
	return l.client.Key("lock", name)
}

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.Redis().SetNX(ctx, l.key(name), l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.client.Redis(), []string{l.key(name)}, l.ownerID).Err()
	if err != nil && !redis.IsNilError(err) {
		return fmt.Errorf("releasing lock %s: %w", name, err)
	}
	return nil
}

func (l *RedisLock) OwnerID() string {
	return l.ownerID
}
