// Package rediscache implements platform.CacheDriver over go-redis, backing
// the second tier of the inference service's feature cache (in-memory ->
// Redis -> recompute).
package rediscache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/fraudctl/internal/platform"
)

// Driver adapts a *redis.Client to platform.CacheDriver.
type Driver struct {
	client *redis.Client
}

var _ platform.CacheDriver = (*Driver)(nil)

// New wraps an already-configured redis client.
func New(client *redis.Client) *Driver {
	return &Driver{client: client}
}

// NewFromAddr dials a single-node Redis instance at addr.
func NewFromAddr(addr, password string, db int) *Driver {
	return New(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}))
}

func (d *Driver) Name() string { return "redis-feature-cache" }

func (d *Driver) Start(ctx context.Context) error { return d.client.Ping(ctx).Err() }

func (d *Driver) Stop(context.Context) error { return d.client.Close() }

func (d *Driver) Ping(ctx context.Context) error { return d.client.Ping(ctx).Err() }

func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := d.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, platform.ErrContentNotFound{Hash: key}
	}
	return v, err
}

func (d *Driver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return d.client.Set(ctx, key, value, ttl).Err()
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	return d.client.Del(ctx, key).Err()
}

func (d *Driver) Exists(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (d *Driver) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	vals, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (d *Driver) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	pipe := d.client.Pipeline()
	for k, v := range items {
		pipe.Set(ctx, k, v, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (d *Driver) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return d.client.IncrBy(ctx, key, delta).Result()
}

func (d *Driver) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return d.client.Expire(ctx, key, ttl).Err()
}

func (d *Driver) Keys(ctx context.Context, pattern string) ([]string, error) {
	return d.client.Keys(ctx, pattern).Result()
}

func (d *Driver) Flush(ctx context.Context) error {
	return d.client.FlushDB(ctx).Err()
}
