package identity

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockoutKeyPrefix = "vnipet:lockout:"

// RedisLockoutStore keeps lockout counters in a Redis hash per account so
// every API replica sees the same failures.
type RedisLockoutStore struct {
	client *redis.Client
}

func NewRedisLockoutStore(client *redis.Client) *RedisLockoutStore {
	return &RedisLockoutStore{client: client}
}

func (s *RedisLockoutStore) Get(ctx context.Context, key string) (LockoutState, error) {
	data, err := s.client.HGetAll(ctx, lockoutKeyPrefix+key).Result()
	if err != nil {
		return LockoutState{}, err
	}

	var st LockoutState
	if raw, ok := data["failed_count"]; ok {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			st.FailedCount = n
		}
	}
	if raw, ok := data["locked_until"]; ok && raw != "" {
		if unix, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil && unix > 0 {
			t := time.Unix(unix, 0).UTC()
			st.LockedUntil = &t
		}
	}
	return st, nil
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, window time.Duration) (LockoutState, error) {
	redisKey := lockoutKeyPrefix + key

	count, err := s.client.HIncrBy(ctx, redisKey, "failed_count", 1).Result()
	if err != nil {
		return LockoutState{}, err
	}

	st := LockoutState{FailedCount: int(count)}
	if int(count) < threshold {
		// Stale counters age out after a day without failures.
		if err := s.client.Expire(ctx, redisKey, 24*time.Hour).Err(); err != nil {
			return LockoutState{}, err
		}
		return st, nil
	}

	until := now.Add(window).UTC()
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisKey, "locked_until", until.Unix())
		// The key outlives the lock only briefly; its expiry resets the count.
		p.Expire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return LockoutState{}, err
	}
	st.LockedUntil = &until
	return st, nil
}

func (s *RedisLockoutStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, lockoutKeyPrefix+key).Err()
}

// Ping reports whether Redis is reachable.
func (s *RedisLockoutStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
