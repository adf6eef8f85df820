package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// Options selects the Redis server and the namespace for every key and
// channel this package touches.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Client wraps a go-redis client with the key layout shared by the bus,
// attachment store and session directory.
type Client struct {
	rdb    *goredis.Client
	prefix string
}

func NewClient(opts Options) *Client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	rdb.AddHook(&MetricsHook{})

	prefix := strings.TrimSuffix(opts.KeyPrefix, ":")
	if prefix == "" {
		prefix = "ama"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Ping verifies the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw go-redis client for advanced operations.
func (c *Client) Underlying() *goredis.Client {
	return c.rdb
}

func (c *Client) key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}
