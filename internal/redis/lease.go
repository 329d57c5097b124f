package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLeaseNotAcquired = errors.New("lease not acquired")
)

// Leaser lets exactly one process at a time run a named periodic job, such as the
// no-show sweep. It never guards appointment writes; those use versions.
type Leaser interface {
	WithLease(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type redisLeaser struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLeaser creates a leaser that uses one Redis key per job name.
func NewRedisLeaser(client *redis.Client, ttl time.Duration) Leaser {
	return &redisLeaser{
		client: client,
		ttl:    ttl,
	}
}

func leaseKey(name string) string {
	return fmt.Sprintf("lease:%s", name)
}

func (l *redisLeaser) WithLease(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := leaseKey(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return ErrLeaseNotAcquired
	}

	defer func() {
		// Release with a fresh context so a cancelled job still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLeaser) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
