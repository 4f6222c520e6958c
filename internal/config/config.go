package config

import (
	"time"
)

type Config interface {
	EnvConfig
	CorsConfig
	RefreshConfig
	StoreConfig
	SecurityConfig
	OAuthConfig
	MetricsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetLogLevel() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// RefreshConfig exposes the lifetimes of refresh sessions, blacklist entries and access tokens.
type RefreshConfig interface {
	GetRefreshSessionTTL() time.Duration
	GetRefreshBlacklistTTL() time.Duration
	GetAccessTokenTTL() time.Duration
	GetGuestAccessTokenTTL() time.Duration
}

// StoreConfig exposes the connection settings of the durable key-value backends.
type StoreConfig interface {
	GetKVRestURL() string
	GetKVRestToken() string
	GetKVNamespace() string
	GetRedisURL() string
}

type mainConfig struct {
	EnvVars
	Cors
	Refresh
	Store
	Security
	OAuth
	Metrics
}

// New loads a .env file when present and returns the environment backed configuration.
func New() Config {
	LoadDotEnv()
	return mainConfig{}
}
