package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/redis/go-redis/v9"
)

var _ refresh.Store = (*Store)(nil)

const revokedMarker = "1"

// Store keeps refresh records and blacklist entries in Redis, relying on native key expiry.
type Store struct {
	client redis.Cmdable
	keys   refresh.Keyspace
}

// New wraps an existing client. Keys are prefixed with namespace when it is set.
func New(client redis.Cmdable, namespace string) *Store {
	return &Store{client: client, keys: refresh.Keyspace{Namespace: namespace}}
}

func (s *Store) Persist(ctx context.Context, hash string, record refresh.Record, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode refresh record: %w", err)
	}
	if err := s.client.Set(ctx, s.keys.Session(hash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *Store) Revoke(ctx context.Context, hash string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keys.Blacklist(hash), revokedMarker, ttl).Err(); err != nil {
		return fmt.Errorf("redis set blacklist: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash string) (*refresh.Record, error) {
	payload, err := s.client.Get(ctx, s.keys.Session(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var record refresh.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}
	return &record, nil
}

func (s *Store) IsRevoked(ctx context.Context, hash string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keys.Blacklist(hash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists blacklist: %w", err)
	}
	return n > 0, nil
}
