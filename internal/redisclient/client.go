package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const dashboardKey = "dashboard:current"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock acquires a distributed lock and returns the owner token
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock failed: %w", err)
	}
	return token, ok, nil
}

// ReleaseLock releases a lock only if it is still held by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// MarkCheckoutCommitted remembers the transaction written for a cart
func (c *Client) MarkCheckoutCommitted(ctx context.Context, cartID, transactionID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:checkout:%s", cartID), transactionID, ttl).Err()
}

// CommittedCheckout returns the transaction id recorded for cartID, if any
func (c *Client) CommittedCheckout(ctx context.Context, cartID string) (string, bool, error) {
	txID, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:checkout:%s", cartID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return txID, true, nil
}

// SetDashboard caches the encoded dashboard figures
func (c *Client) SetDashboard(ctx context.Context, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, dashboardKey, payload, ttl).Err()
}

// GetDashboard returns the cached dashboard, or nil when absent
func (c *Client) GetDashboard(ctx context.Context) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, dashboardKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return payload, err
}
