package config

import "time"

type CacheConfig interface {
	GetCacheAddr() string
	GetCachePassword() string
	GetCacheDB() int
	GetCacheDialTimeout() time.Duration
	GetCacheOpTimeout() time.Duration
}

type CacheEnv struct{}

var _ CacheConfig = CacheEnv{}

func (CacheEnv) GetCacheAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (CacheEnv) GetCachePassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (CacheEnv) GetCacheDB() int {
	return GetEnvInt("REDIS_DB", 0)
}

func (CacheEnv) GetCacheDialTimeout() time.Duration {
	return GetEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
}

// GetCacheOpTimeout bounds every cache round trip on the hot path.
func (CacheEnv) GetCacheOpTimeout() time.Duration {
	return GetEnvDuration("REDIS_OP_TIMEOUT", 2*time.Second)
}
