package memory

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Backend names accepted by Open
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// OpenConfig selects and configures a backend
type OpenConfig struct {
	Backend   string
	Project   string
	DBPath    string
	RedisAddr string
	RedisPass string
	RedisDB   int
	Logger    zerolog.Logger
}

// Open creates the configured backend
func Open(cfg OpenConfig) (Backend, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return NewSQLiteStore(SQLiteConfig{
			DBPath:  cfg.DBPath,
			Project: cfg.Project,
			Logger:  cfg.Logger,
		})
	case BackendRedis:
		return NewRedisStore(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Project:  cfg.Project,
			Logger:   cfg.Logger,
		})
	case BackendNone:
		return NewNoopStore(cfg.Logger), nil
	default:
		return nil, fmt.Errorf("unknown memory backend: %s", cfg.Backend)
	}
}
