package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/narrately/api/internal/model"
)

const (
	jobKeyPrefix  = "job:"
	maxTxAttempts = 16
)

// RedisBackend stores each job as JSON under job:<id>. Mutations use
// WATCH/MULTI so concurrent writers never interleave.
type RedisBackend struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisBackend creates a backend whose records expire ttl after creation.
func NewRedisBackend(rdb *redis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisBackend{rdb: rdb, ttl: ttl}
}

func jobKey(id string) string { return jobKeyPrefix + id }

func (b *RedisBackend) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	ok, err := b.rdb.SetNX(ctx, jobKey(job.ID), data, b.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return ErrJobExists
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*model.Job, error) {
	return b.read(ctx, b.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (b *RedisBackend) read(ctx context.Context, g getter, id string) (*model.Job, error) {
	data, err := g.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (b *RedisBackend) Mutate(ctx context.Context, id string, fn MutateFunc) (*model.Job, error) {
	key := jobKey(id)
	var result *model.Job

	txf := func(tx *redis.Tx) error {
		job, err := b.read(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		result = job
		return nil
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := b.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("job %s: too much write contention", id)
}
