package store

import (
	"context"
	"fmt"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Options struct {
	Driver      string
	FilePath    string
	DatabaseURL string
	RedisURL    string
	RedisPrefix string
	// AutoMigrate applies the Postgres schema before opening the pool.
	AutoMigrate bool
}

func Open(ctx context.Context, opts Options) (Bucket, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemoryBucket(), nil
	case DriverFile, "":
		return NewFileBucket(opts.FilePath)
	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres store: DATABASE_URL is required")
		}
		if opts.AutoMigrate {
			if err := Migrate(opts.DatabaseURL); err != nil {
				return nil, err
			}
		}
		return NewPostgresBucket(ctx, opts.DatabaseURL)
	case DriverRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("redis store: REDIS_URL is required")
		}
		return NewRedisBucket(ctx, opts.RedisURL, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
