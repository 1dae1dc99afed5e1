package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lingua-scheduler/internal/config"
)

// Client wraps a go-redis UniversalClient (single-node or cluster,
// selected by config) and the compiled Lua scripts the rest of the
// scheduler runs through it.
type Client struct {
	RDB redis.UniversalClient

	tryReserve     *redis.Script
	commitReserve  *redis.Script
	releaseReserve *redis.Script
	fsmTransition  *redis.Script
	heartbeat      *redis.Script
}

// New builds a Client from config, choosing ClusterClient when
// Redis.ClusterAddrs is non-empty, else a plain single-node Client —
// mirroring the teacher's pattern of branching on config shape rather
// than hand-rolling cluster discovery.
func New(cfg config.RedisConfig) *Client {
	var rdb redis.UniversalClient
	if len(cfg.ClusterAddrs) > 0 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	return &Client{
		RDB:            rdb,
		tryReserve:     redis.NewScript(tryReserveLua),
		commitReserve:  redis.NewScript(commitReserveLua),
		releaseReserve: redis.NewScript(releaseReserveLua),
		fsmTransition:  redis.NewScript(fsmTransitionLua),
		heartbeat:      redis.NewScript(heartbeatLua),
	}
}

// Ping verifies connectivity at startup.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.RDB.Close()
}

// Now is a small seam so callers don't need time.Now() sprinkled through
// scripts that take an epoch-millis argument.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
