package config

type Config interface {
	EnvConfig
	TokenConfig
	SessionConfig
	CacheConfig
	DirectoryConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Tokens
	Sessions
	CacheEnv
	DirectoryEnv
}

func New() Config {
	return mainConfig{}
}
