package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

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

// AcquireRefundGuard takes the per-order refund guard. It must be held
// before any gateway refund call; a gateway refund that commits externally
// while the local transaction rolls back must not be re-issued blindly.
// Returns false when another refund for the order is in flight or was
// recently issued.
func (c *Client) AcquireRefundGuard(ctx context.Context, orderID int64, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, refundGuardKey(orderID), "1", ttl).Result()
}

// ReleaseRefundGuard drops the per-order refund guard
func (c *Client) ReleaseRefundGuard(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, refundGuardKey(orderID)).Err()
}

func refundGuardKey(orderID int64) string {
	return fmt.Sprintf("refund-guard:%d", orderID)
}

// CacheCancellationDetails stores a serialized details payload with a TTL
func (c *Client) CacheCancellationDetails(ctx context.Context, orderID int64, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, detailsKey(orderID), payload, ttl).Err()
}

// GetCancellationDetails returns a cached details payload, or nil on miss
func (c *Client) GetCancellationDetails(ctx context.Context, orderID int64) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, detailsKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// InvalidateCancellationDetails drops the cached details payload after a
// status transition
func (c *Client) InvalidateCancellationDetails(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, detailsKey(orderID)).Err()
}

func detailsKey(orderID int64) string {
	return fmt.Sprintf("cancellation-details:%d", orderID)
}
