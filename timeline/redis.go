package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ Store = (*RedisStore)(nil)

const streamKeyPrefix = "timeline:"

// RedisStore keeps each timeline in a Redis stream capped at roughly DefaultMaxLen entries.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func streamKey(queryHash string) string {
	return streamKeyPrefix + queryHash
}

func (s *RedisStore) Publish(ctx context.Context, e Event) (Event, error) {
	e.StreamID = ""
	e.Sequence = 0
	data, err := json.Marshal(e)
	if err != nil {
		return Event{}, fmt.Errorf("encode timeline event: %w", err)
	}

	key := streamKey(e.QueryHash)
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: DefaultMaxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		return Event{}, fmt.Errorf("xadd timeline: %w", err)
	}
	if err := s.client.Expire(ctx, key, DefaultTTL).Err(); err != nil {
		log.Warn().Err(err).Str("query_hash", e.QueryHash).Msg("failed to set timeline ttl")
	}

	e.StreamID = id
	if pos, err := parseStreamID(id); err == nil {
		e.Sequence = pos.seq
	}
	return e, nil
}

func (s *RedisStore) Read(ctx context.Context, queryHash, afterID string, count int) ([]Event, error) {
	if count <= 0 {
		count = DefaultReadCount
	}
	start := afterID
	if start == "" {
		start = "0-0"
	}

	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey(queryHash), start},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread timeline: %w", err)
	}

	var events []Event
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				log.Warn().Err(err).Str("query_hash", queryHash).Msg("failed to decode timeline event")
				continue
			}
			e.StreamID = msg.ID
			if pos, err := parseStreamID(msg.ID); err == nil {
				e.Sequence = pos.seq
			}
			events = append(events, e)
		}
	}
	return events, nil
}

func (s *RedisStore) Clear(ctx context.Context, queryHash string) error {
	if err := s.client.Del(ctx, streamKey(queryHash)).Err(); err != nil {
		return fmt.Errorf("clear timeline: %w", err)
	}
	return nil
}
