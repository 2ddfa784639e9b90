package dependencies

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/pkg/xredis"
)

// NewRedisClient connects to the configured Redis. An unconfigured or
// unreachable Redis yields a nil client; the rate service then counts in
// process and the affinity cache runs on its memory level.
func NewRedisClient(cfg xredis.Config) *redis.Client {
	if cfg.Addr == "" && cfg.URL == "" {
		return nil
	}

	client, err := xredis.NewClient(cfg)
	if err != nil {
		log.Warn(context.Background(), "redis unreachable, running with in-process state",
			log.String("addr", cfg.Addr),
			log.Cause(err),
		)

		return nil
	}

	return client
}
