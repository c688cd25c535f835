package repository

import (
	"context"
	"strconv"
	"time"

	"orphan-recovery/internal/verification/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "verification_code:"

// incrementScript bumps failed_attempts only on an existing record so a stray increment
// never creates a hash without an expiry.
var incrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("HINCRBY", KEYS[1], "failed_attempts", 1)
end
return 0
`)

// RedisStore keeps each record as a hash expiring natively at ExpiresAt.
type RedisStore struct {
	client redis.UniversalClient
	nowF   func() time.Time
}

// NewRedisStore returns a verification store backed by client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, nowF: time.Now}
}

func redisKey(emailHash string) string {
	return keyPrefix + emailHash
}

// Put replaces the hash inside MULTI/EXEC so readers never see a half-written record.
func (s *RedisStore) Put(ctx context.Context, rec *domain.Record) error {
	key := redisKey(rec.EmailHash)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code_hash", rec.CodeHash,
			"code_salt", rec.CodeSalt,
			"correlation_id", rec.CorrelationID,
			"failed_attempts", 0,
			"expires_at", rec.ExpiresAt.UnixMilli(),
			"created_at", rec.CreatedAt.UnixMilli(),
		)
		pipe.PExpireAt(ctx, key, rec.ExpiresAt)
		return nil
	})
	return err
}

// Get returns the live record or nil.
func (s *RedisStore) Get(ctx context.Context, emailHash string) (*domain.Record, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(emailHash)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &domain.Record{
		EmailHash:     emailHash,
		CodeHash:      []byte(fields["code_hash"]),
		CodeSalt:      []byte(fields["code_salt"]),
		CorrelationID: fields["correlation_id"],
	}
	rec.FailedAttempts, _ = strconv.Atoi(fields["failed_attempts"])
	if ms, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil {
		rec.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if rec.Expired(s.nowF()) {
		return nil, nil
	}
	return rec, nil
}

// Delete removes the hash.
func (s *RedisStore) Delete(ctx context.Context, emailHash string) error {
	return s.client.Del(ctx, redisKey(emailHash)).Err()
}

// IncrementFailedAttempts bumps the counter if the record still exists.
func (s *RedisStore) IncrementFailedAttempts(ctx context.Context, emailHash string) (int, error) {
	n, err := incrementScript.Run(ctx, s.client, []string{redisKey(emailHash)}).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SweepExpired is a no-op: Redis expires records itself.
func (s *RedisStore) SweepExpired(context.Context) (int64, error) {
	return 0, nil
}
