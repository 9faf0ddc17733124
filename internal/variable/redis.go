package variable

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key the Redis store touches.
const DefaultPrefix = "mailcapture:"

// Redis is a Store backed by Redis string keys, with lists held as native
// Redis lists. It lets a test suite and an out-of-process capturing
// transport see the same variables.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis Store. An empty prefix uses DefaultPrefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Get returns the value stored under the prefixed key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set stores value without expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.prefix+key, value, 0).Err()
}

// Unset deletes the prefixed key. DEL on a missing key is a no-op.
func (r *Redis) Unset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Append pushes value onto the tail of the prefixed list with RPUSH, which
// is atomic against a concurrent DEL from another client.
func (r *Redis) Append(ctx context.Context, key string, value []byte) error {
	return r.client.RPush(ctx, r.prefix+key, value).Err()
}

// Range returns the whole prefixed list. LRANGE on a missing key is empty.
func (r *Redis) Range(ctx context.Context, key string) ([][]byte, error) {
	items, err := r.client.LRange(ctx, r.prefix+key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

// Ping checks connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
