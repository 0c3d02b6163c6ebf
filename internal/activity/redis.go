package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/narrately/api/internal/model"
)

// RedisStore keeps one Redis Stream per job.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a stream-backed store. Streams expire ttl after
// their last append; zero keeps them forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func streamKey(jobID string) string { return "activity:" + jobID }
func seqKey(jobID string) string    { return "activity:" + jobID + ":seq" }

func (s *RedisStore) Append(ctx context.Context, ev *model.Event) error {
	seq, err := s.rdb.Incr(ctx, seqKey(ev.JobID)).Result()
	if err != nil {
		return fmt.Errorf("allocate seq: %w", err)
	}
	ev.Seq = seq

	meta := "{}"
	if len(ev.Meta) > 0 {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		meta = string(b)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey(ev.JobID),
			Values: map[string]any{
				"ts":         ev.TS.UTC().Format(time.RFC3339Nano),
				"seq":        seq,
				"event_type": ev.EventType,
				"message":    ev.Message,
				"meta":       meta,
			},
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, streamKey(ev.JobID), s.ttl)
			pipe.Expire(ctx, seqKey(ev.JobID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, jobID string, limit int) ([]model.Event, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, streamKey(jobID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange: %w", err)
	}

	events := make([]model.Event, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decodeStreamEvent(jobID, m.Values)
		if err != nil {
			return nil, fmt.Errorf("decode event %s: %w", m.ID, err)
		}
		events = append(events, ev)
	}
	// Concurrent writers may land in the stream out of seq order.
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

func decodeStreamEvent(jobID string, v map[string]any) (model.Event, error) {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	ts, err := time.Parse(time.RFC3339Nano, str("ts"))
	if err != nil {
		return model.Event{}, err
	}
	seq, err := strconv.ParseInt(str("seq"), 10, 64)
	if err != nil {
		return model.Event{}, err
	}
	ev := model.Event{
		TS:        ts,
		JobID:     jobID,
		Seq:       seq,
		EventType: str("event_type"),
		Message:   str("message"),
	}
	if raw := str("meta"); raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &ev.Meta); err != nil {
			return model.Event{}, err
		}
	}
	return ev, nil
}
