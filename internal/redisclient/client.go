package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"printshop-orders/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const cartPrefix = "cart:"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	cartTTL       time.Duration
}

// NewClient connects to Redis. Cart snapshots expire after cartTTL of inactivity.
func NewClient(addr, password string, db int, cartTTL time.Duration) (*Client, error) {
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

	return newClient(rdb, cartTTL), nil
}

func newClient(rdb *redis.Client, cartTTL time.Duration) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		cartTTL:       cartTTL,
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetNX stores value only when key is absent
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Get returns models.ErrNotFound for a missing key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", models.ErrNotFound
	}
	return v, err
}

// Set stores value with ttl; zero ttl keeps it forever
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del removes key
func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// DelIfEquals atomically deletes key only while it still holds value
func (c *Client) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	result, err := c.releaseScript.Run(ctx, c.rdb, []string{key}, value).Result()
	if err != nil {
		return false, fmt.Errorf("release lock script failed: %w", err)
	}
	n, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return n == 1, nil
}

// Load returns a cart snapshot, or nil when none is stored
func (c *Client) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, cartPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return data, nil
}

// Save writes a cart snapshot and refreshes its expiry
func (c *Client) Save(ctx context.Context, key string, data []byte) error {
	if err := c.rdb.Set(ctx, cartPrefix+key, data, c.cartTTL).Err(); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}
