package refresh

import (
	"context"
	"strings"
	"time"
)

const (
	sessionKeyPrefix   = "auth:refresh:session:"
	blacklistKeyPrefix = "auth:refresh:blacklist:"
)

// Store persists refresh records and blacklist entries with a TTL. Implementations treat
// expired entries as absent, and every operation is idempotent.
type Store interface {
	// Persist writes record under hash. Concurrent writes to one hash are last write wins.
	Persist(ctx context.Context, hash string, record Record, ttl time.Duration) error
	// Revoke marks hash as revoked for ttl.
	Revoke(ctx context.Context, hash string, ttl time.Duration) error
	// Get returns nil, nil when no live record exists.
	Get(ctx context.Context, hash string) (*Record, error)
	IsRevoked(ctx context.Context, hash string) (bool, error)
}

// Keyspace builds the key names shared by the durable backends.
type Keyspace struct {
	Namespace string
}

func (k Keyspace) Session(hash string) string {
	return k.prefixed(sessionKeyPrefix + hash)
}

func (k Keyspace) Blacklist(hash string) string {
	return k.prefixed(blacklistKeyPrefix + hash)
}

func (k Keyspace) prefixed(key string) string {
	ns := strings.TrimSuffix(strings.TrimSpace(k.Namespace), ":")
	if ns == "" {
		return key
	}
	return ns + ":" + key
}
