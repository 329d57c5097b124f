package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const breakerTripFailures = 5

// ScheduleCache keeps rendered schedules under sched:<doctor>:<generation>:<key>.
// Invalidation bumps the doctor's generation, orphaning old entries until their TTL.
// Every call goes through a circuit breaker so a sick Redis degrades to cache misses
// instead of slowing down reads.
type ScheduleCache struct {
	client *redis.Client
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker[any]
}

func NewScheduleCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *ScheduleCache {
	if log == nil {
		log = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "schedule-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &ScheduleCache{client: client, ttl: ttl, cb: cb}
}

type cacheRead struct {
	value []byte
	gen   int64
	ok    bool
}

func generationKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("sched:gen:%s", doctorID)
}

func entryKey(doctorID uuid.UUID, gen int64, key string) string {
	return fmt.Sprintf("sched:%s:%d:%s", doctorID, gen, key)
}

func (c *ScheduleCache) Get(ctx context.Context, doctorID uuid.UUID, key string) ([]byte, int64, bool, error) {
	res, err := c.cb.Execute(func() (any, error) {
		gen, err := c.client.Get(ctx, generationKey(doctorID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		val, err := c.client.Get(ctx, entryKey(doctorID, gen, key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return cacheRead{gen: gen}, nil
		}
		if err != nil {
			return nil, err
		}
		return cacheRead{value: val, gen: gen, ok: true}, nil
	})
	if err != nil {
		return nil, 0, false, fmt.Errorf("schedule cache get: %w", err)
	}
	r := res.(cacheRead)
	return r.value, r.gen, r.ok, nil
}

func (c *ScheduleCache) Set(ctx context.Context, doctorID uuid.UUID, key string, gen int64, value []byte) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.client.Set(ctx, entryKey(doctorID, gen, key), value, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("schedule cache set: %w", err)
	}
	return nil
}

func (c *ScheduleCache) Invalidate(ctx context.Context, doctorID uuid.UUID) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.client.Incr(ctx, generationKey(doctorID)).Err()
	})
	if err != nil {
		return fmt.Errorf("schedule cache invalidate: %w", err)
	}
	return nil
}

// State exposes the breaker state for health reporting.
func (c *ScheduleCache) State() gobreaker.State {
	return c.cb.State()
}
