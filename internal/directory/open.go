package directory

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	File     string
	Postgres PostgresConfig
	Redis    RedisConfig
}

// Open builds the Directory named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Directory, error) {
	switch cfg.Backend {
	case "", BackendFile:
		if cfg.File == "" {
			return nil, fmt.Errorf("directory.file is required")
		}
		return NewFileStore(cfg.File), nil
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.Postgres)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown directory backend %q", cfg.Backend)
	}
}
