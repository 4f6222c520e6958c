package config

type Store struct{}

var _ StoreConfig = Store{}

// GetKVRestURL returns the REST endpoint of a hosted KV store (Vercel KV / Upstash).
func (Store) GetKVRestURL() string {
	return GetFirstEnv("KV_REST_API_URL", "VERCEL_KV_REST_API_URL", "UPSTASH_REDIS_REST_URL")
}

func (Store) GetKVRestToken() string {
	return GetFirstEnv("KV_REST_API_TOKEN", "VERCEL_KV_REST_API_TOKEN", "UPSTASH_REDIS_REST_TOKEN")
}

func (Store) GetKVNamespace() string {
	return GetFirstEnv("VERCEL_KV_NAMESPACE")
}

func (Store) GetRedisURL() string {
	return GetFirstEnv("REDIS_URL", "UPSTASH_REDIS_URL")
}
