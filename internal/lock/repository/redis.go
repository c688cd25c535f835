package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes KEYS[1] only if it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps cleanup locks as Redis keys with a native PX expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a lock store backed by client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// TryAcquire runs SET key holder NX PX ttl.
func (s *RedisStore) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, holder, ttl).Result()
}

// Release runs the compare-and-delete script.
func (s *RedisStore) Release(ctx context.Context, key, holder string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, holder).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
