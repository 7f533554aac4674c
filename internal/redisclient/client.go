package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps redis for the small amount of shared state the core keeps
// outside Postgres: a fast-path dedupe of gateway callback references, the
// sweeper's singleton lock, and a read cache of available stock for product
// pages. None of it is authoritative; the database always wins.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

const callbackTTL = 48 * time.Hour

// MarkCallbackSeen caches an applied gateway callback reference.
func (c *Client) MarkCallbackSeen(ctx context.Context, txnRef string) error {
	return c.rdb.SetNX(ctx, "callback:"+txnRef, "1", callbackTTL).Err()
}

// CheckCallbackSeen reports whether a callback reference was already applied.
// A miss is not proof of novelty; the database unique constraint decides.
func (c *Client) CheckCallbackSeen(ctx context.Context, txnRef string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "callback:"+txnRef).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AcquireLock acquires a named lock with a TTL
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:"+lockKey, "1", ttl).Result()
}

// ReleaseLock releases a named lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, "lock:"+lockKey).Err()
}

const stockCacheTTL = 30 * time.Second

// CacheAvailableStock stores a variant's available quantity for read paths.
func (c *Client) CacheAvailableStock(ctx context.Context, variantID int64, available int) error {
	return c.rdb.Set(ctx, fmt.Sprintf("stock:%d", variantID), available, stockCacheTTL).Err()
}

// GetCachedStock reads a variant's cached available quantity. Returns
// ok=false on a miss.
func (c *Client) GetCachedStock(ctx context.Context, variantID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("stock:%d", variantID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}
