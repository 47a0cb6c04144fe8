package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arush/chatcore/pkg/config"
	"github.com/arush/chatcore/pkg/logger"
)

// Open pings Redis once and picks the backend for the life of the process.
func Open(cfg config.Config) Registry {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Log.Warn("redis unreachable, falling back to in-memory presence", "err", err)
		_ = rdb.Close()
		return NewMemory()
	}
	return NewRedis(rdb)
}
