// Package cache wraps the Redis-backed distributed cache shared across
// engine instances: latest market data, latest stream prices, and the
// leader-election lease.
package cache

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client wraps a go-redis client with the JSON get/set helpers every
// distributed-cache consumer in this package needs.
type Client struct {
	rdb *redis.Client
}

// NewClient builds the client without dialing; go-redis connects lazily
// on the first command, so callers should Ping once at startup to fail
// fast on misconfiguration.
func NewClient(addr, password string, db int) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetJSON marshals value and stores it under key with the given TTL.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// GetJSON reads key and unmarshals into dest. Returns redis.Nil
// (unwrapped, check with errors.Is) when the key is absent.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetNX stores value under key only if the key does not already exist,
// atomically. Used by LeaderElection's compare-and-swap.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, key, data, ttl).Result()
}

// ErrNil is redis.Nil re-exported so callers outside this package don't
// need to import go-redis directly just to check for a cache miss.
var ErrNil = redis.Nil
