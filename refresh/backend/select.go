// Package backend chooses the refresh.Store a process runs with.
package backend

import (
	"context"
	"io"

	"github.com/jrsteele09/go-session-auth/internal/config"
	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/jrsteele09/go-session-auth/refresh/kvrest"
	"github.com/jrsteele09/go-session-auth/refresh/memstore"
	"github.com/jrsteele09/go-session-auth/refresh/redisstore"
	"github.com/rs/zerolog"
)

// Kind names the selected backend.
type Kind string

const (
	KindKVRest Kind = "kv-rest"
	KindRedis  Kind = "redis"
	KindMemory Kind = "memory"
)

// Options carries the durable backend connection settings, resolved once at startup.
type Options struct {
	KVURL     string
	KVToken   string
	Namespace string
	RedisURL  string
}

// OptionsFromConfig reads Options from the store configuration.
func OptionsFromConfig(c config.StoreConfig) Options {
	return Options{
		KVURL:     c.GetKVRestURL(),
		KVToken:   c.GetKVRestToken(),
		Namespace: c.GetKVNamespace(),
		RedisURL:  c.GetRedisURL(),
	}
}

// Selection is the store chosen by Select.
type Selection struct {
	Store refresh.Store
	Kind  Kind
	// Memory is set when Kind is KindMemory so the caller can run its sweeper.
	Memory *memstore.Store
	closer io.Closer
}

// Close releases the backend connection, if any.
func (s Selection) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Select prefers the REST KV service, then Redis, then process memory. A durable backend
// that fails to initialise is logged and skipped: authentication keeps working on the
// memory store, at the cost of losing revocations on restart.
func Select(ctx context.Context, opts Options, logger zerolog.Logger) Selection {
	if opts.KVURL != "" && opts.KVToken != "" {
		store, err := kvrest.New(opts.KVURL, opts.KVToken, opts.Namespace)
		if err == nil {
			err = store.Ping(ctx)
		}
		if err == nil {
			logger.Info().Str("backend", string(KindKVRest)).Str("namespace", opts.Namespace).Msg("refresh store selected")
			return Selection{Store: store, Kind: KindKVRest}
		}
		logger.Warn().Err(err).Str("backend", string(KindKVRest)).Msg("durable refresh store unavailable, trying next backend")
	}

	if opts.RedisURL != "" {
		client, err := config.NewRedisClient(ctx, opts.RedisURL)
		if err == nil {
			logger.Info().Str("backend", string(KindRedis)).Str("namespace", opts.Namespace).Msg("refresh store selected")
			return Selection{Store: redisstore.New(client, opts.Namespace), Kind: KindRedis, closer: client}
		}
		logger.Warn().Err(err).Str("backend", string(KindRedis)).Msg("durable refresh store unavailable, trying next backend")
	}

	logger.Warn().
		Str("backend", string(KindMemory)).
		Msg("refresh store is process memory: revocations are lost on restart and not shared between instances")
	mem := memstore.New()
	return Selection{Store: mem, Kind: KindMemory, Memory: mem}
}
