package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a backend shared between processes. It implements ListBackend
// with RPUSH/LRANGE/LPOP, so the serial queue needs no spin lock.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
}

// NewRedis creates a backend with its own client.
func NewRedis(opts RedisOptions) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Redis{client: rdb, prefix: opts.Prefix}
}

// NewRedisFromClient wraps an existing client (single node, cluster or
// sentinel).
func NewRedisFromClient(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// Get implements Backend.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

// Set implements Backend.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), val, ttl).Err()
}

// Add implements Backend.
func (r *Redis) Add(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), val, ttl).Result()
}

// Delete implements Backend.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Push implements ListBackend.
func (r *Redis) Push(ctx context.Context, key string, val []byte, ttl time.Duration) (int64, error) {
	k := r.key(key)
	var push *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		push = p.RPush(ctx, k, val)
		if ttl > 0 {
			p.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return push.Val(), nil
}

// Range implements ListBackend.
func (r *Redis) Range(ctx context.Context, key string) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, r.key(key), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// PopFront implements ListBackend.
func (r *Redis) PopFront(ctx context.Context, key string, n int) ([][]byte, error) {
	k := r.key(key)
	var rest *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if n > 0 {
			p.LTrim(ctx, k, int64(n), -1)
		}
		rest = p.LRange(ctx, k, 0, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	vals := rest.Val()
	if len(vals) == 0 {
		return nil, nil
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
