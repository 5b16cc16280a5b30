package config

type DirectoryConfig interface {
	GetDatabaseURL() string
}

type DirectoryEnv struct{}

var _ DirectoryConfig = DirectoryEnv{}

func (DirectoryEnv) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}
