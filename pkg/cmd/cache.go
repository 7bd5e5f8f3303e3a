package cmd

import (
	"context"
	"fmt"

	"github.com/dukex/actiond/pkg/cache"
	"github.com/dukex/actiond/pkg/config"
	"github.com/dukex/actiond/pkg/models"
)

// NewExecutionCache returns the store behind status tracking. Only redis
// makes running executions visible across nodes.
func NewExecutionCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache[models.ExecutionDetails], error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemory[models.ExecutionDetails](cfg.TTL), nil
	case "redis":
		return cache.Connect[models.ExecutionDetails](ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
			TTL:      cfg.TTL,
		})
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
