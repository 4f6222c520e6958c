package config

import "time"

const (
	refreshSessionTTLEnvVar   = "REFRESH_SESSION_TTL"
	refreshBlacklistTTLEnvVar = "REFRESH_BLACKLIST_TTL"
	accessTokenTTLEnvVar      = "ACCESS_TOKEN_TTL_SECONDS"
	guestAccessTokenTTLEnvVar = "GUEST_ACCESS_TOKEN_TTL_SECONDS"

	DefaultRefreshSessionTTL   = 7 * 24 * time.Hour // 604800s
	DefaultRefreshBlacklistTTL = 2 * 24 * time.Hour // 172800s
	DefaultAccessTokenTTL      = 15 * time.Minute
	DefaultGuestAccessTokenTTL = 10 * time.Minute
)

type Refresh struct{}

var _ RefreshConfig = Refresh{}

func (Refresh) GetRefreshSessionTTL() time.Duration {
	return GetPositiveSeconds(refreshSessionTTLEnvVar, DefaultRefreshSessionTTL)
}

func (Refresh) GetRefreshBlacklistTTL() time.Duration {
	return GetPositiveSeconds(refreshBlacklistTTLEnvVar, DefaultRefreshBlacklistTTL)
}

func (Refresh) GetAccessTokenTTL() time.Duration {
	return GetPositiveSeconds(accessTokenTTLEnvVar, DefaultAccessTokenTTL)
}

func (Refresh) GetGuestAccessTokenTTL() time.Duration {
	return GetPositiveSeconds(guestAccessTokenTTLEnvVar, DefaultGuestAccessTokenTTL)
}
