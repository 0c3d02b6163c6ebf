package synthcache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "synth:"

// RedisStore keeps entries as Redis hashes with a TTL so the cache is shared
// by every worker.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	vals, err := s.rdb.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("redis hgetall: %w", err)
	}
	audio, ok := vals["audio"]
	if !ok || audio == "" {
		return Entry{}, ErrMiss
	}
	dur, err := strconv.ParseFloat(vals["duration"], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return Entry{Audio: []byte(audio), DurationSec: dur, Provider: vals["provider"]}, nil
}

// Put writes the entry only when the key does not exist yet.
func (s *RedisStore) Put(ctx context.Context, key string, e Entry) error {
	rkey := redisKeyPrefix + key
	created, err := s.rdb.HSetNX(ctx, rkey, "audio", e.Audio).Result()
	if err != nil {
		return fmt.Errorf("redis hsetnx: %w", err)
	}
	if !created {
		return nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rkey, "duration", strconv.FormatFloat(e.DurationSec, 'f', -1, 64), "provider", e.Provider)
		if s.ttl > 0 {
			pipe.Expire(ctx, rkey, s.ttl)
		}
		return nil
	})
	if err != nil {
		// A half-written hash would be read back as corrupt; drop it.
		_ = s.rdb.Del(context.WithoutCancel(ctx), rkey).Err()
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
