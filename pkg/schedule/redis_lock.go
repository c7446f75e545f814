package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "schedule_lock:"

// releaseScript deletes the key only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLockProvider implements LockProvider using SET NX with an expiry
type RedisLockProvider struct {
	client redis.Cmdable

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLockProvider creates a lock provider backed by client
func NewRedisLockProvider(client redis.Cmdable) *RedisLockProvider {
	return &RedisLockProvider{
		client: client,
		tokens: make(map[string]string),
	}
}

// GetLock sets the lock key if it is absent. The key expires after duration.
func (r *RedisLockProvider) GetLock(ctx context.Context, name string, duration time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+name, token, duration).Result()
	if err != nil || !ok {
		return false, err
	}

	r.mu.Lock()
	r.tokens[name] = token
	r.mu.Unlock()
	return true, nil
}

// ReleaseLock deletes the lock if this provider still holds it
func (r *RedisLockProvider) ReleaseLock(ctx context.Context, name string) error {
	r.mu.Lock()
	token, ok := r.tokens[name]
	delete(r.tokens, name)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, r.client, []string{lockKeyPrefix + name}, token).Err()
}
