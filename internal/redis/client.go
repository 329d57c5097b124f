package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Option func(*redis.Options)

// WithPoolSize sizes the connection pool. The API server reads the schedule cache
// on every availability query; the sweep worker only needs a lease connection.
func WithPoolSize(size, minIdle int) Option {
	return func(o *redis.Options) {
		if size > 0 {
			o.PoolSize = size
		}
		if minIdle >= 0 {
			o.MinIdleConns = minIdle
		}
	}
}

// WithClientName tags connections so CLIENT LIST shows which process owns them.
func WithClientName(name string) Option {
	return func(o *redis.Options) {
		o.ClientName = name
	}
}

func NewRedisClient(ctx context.Context, addr, username, password string, opts ...Option) (*redis.Client, error) {
	o := &redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	rdb := redis.NewClient(o)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return rdb, nil
}
