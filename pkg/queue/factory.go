package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arush/chatcore/pkg/config"
	"github.com/arush/chatcore/pkg/logger"
)

// OpenBroker picks the broker once at startup: Redis when reachable, the
// in-process broker otherwise. Startup never fails on a missing broker.
func OpenBroker(cfg config.Config) Broker {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Log.Warn("redis unreachable, falling back to in-memory queue broker", "err", err)
		_ = rdb.Close()
		return NewMemoryBroker()
	}
	return NewRedisBroker(rdb)
}
