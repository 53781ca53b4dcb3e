package redisclient

import (
	"context"
	"fmt"
	"strconv"
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

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(productCode string) string {
	return fmt.Sprintf("inventory:%s", productCode)
}

// SetAvailability stores the current quantity and reserved quantity for a
// product. The cache is a read-side snapshot; the store remains the source
// of truth.
func (c *Client) SetAvailability(ctx context.Context, productCode string, quantity, reserved int) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, inventoryKey(productCode), "quantity", quantity)
	pipe.HSet(ctx, inventoryKey(productCode), "reserved", reserved)

	_, err := pipe.Exec(ctx)
	return err
}

// GetAvailability retrieves the cached available quantity for a product.
// The second return value is false on a cache miss.
func (c *Client) GetAvailability(ctx context.Context, productCode string) (int, bool, error) {
	result, err := c.rdb.HGetAll(ctx, inventoryKey(productCode)).Result()
	if err != nil {
		return 0, false, err
	}
	if len(result) == 0 {
		return 0, false, nil
	}

	quantity, err := strconv.Atoi(result["quantity"])
	if err != nil {
		return 0, false, fmt.Errorf("malformed cached quantity: %w", err)
	}
	reserved, err := strconv.Atoi(result["reserved"])
	if err != nil {
		return 0, false, fmt.Errorf("malformed cached reserved: %w", err)
	}

	return quantity - reserved, true, nil
}
