package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ChannelPendingTransactions is where subscribers learn that their cached
// list of pending transactions is stale.
const ChannelPendingTransactions = "pendingTransactions"

const lockPrefix = "lock:tag:"

type Config struct {
	// LockTTL bounds how long a crashed worker can block a tag.
	LockTTL time.Duration
}

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Cache keeps cross-instance state in Redis: one lock per in-flight tag and
// the invalidation channel for pending transaction lists.
type Cache struct {
	config *Config
	client client
	log    *slog.Logger
}

func New(config *Config, rdb *redis.Client) *Cache {
	return newCache(config, rdb)
}

func newCache(config *Config, c client) *Cache {
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Minute
	}

	return &Cache{
		config: config,
		client: c,
		log:    slog.With("component", "cache"),
	}
}

// AcquireTag returns false when another job with the same tag is in flight.
func (c *Cache) AcquireTag(ctx context.Context, tag string) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockPrefix+tag, time.Now().Unix(), c.config.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire tag %s: %w", tag, err)
	}

	return ok, nil
}

func (c *Cache) ReleaseTag(ctx context.Context, tag string) error {
	if err := c.client.Del(ctx, lockPrefix+tag).Err(); err != nil {
		return fmt.Errorf("release tag %s: %w", tag, err)
	}

	return nil
}

func (c *Cache) TagLocked(ctx context.Context, tag string) (bool, error) {
	n, err := c.client.Exists(ctx, lockPrefix+tag).Result()
	if err != nil {
		return false, fmt.Errorf("check tag %s: %w", tag, err)
	}

	return n > 0, nil
}

type invalidation struct {
	Tag string `json:"tag"`
	At  int64  `json:"at"`
}

// Invalidate tells subscribers that pending transactions for tag changed.
func (c *Cache) Invalidate(ctx context.Context, tag string) error {
	msg, err := json.Marshal(invalidation{Tag: tag, At: time.Now().UnixMilli()})
	if err != nil {
		return err
	}

	receivers, err := c.client.Publish(ctx, ChannelPendingTransactions, msg).Result()
	if err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}

	c.log.Debug("Invalidated pending transactions", "tag", tag, "receivers", receivers)

	return nil
}
