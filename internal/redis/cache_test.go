package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

func TestKeys(t *testing.T) {
	id := uuid.MustParse("6f1c2b8e-4a61-4c3e-9d0a-111111111111")
	if got := generationKey(id); got != "sched:gen:6f1c2b8e-4a61-4c3e-9d0a-111111111111" {
		t.Errorf("generationKey = %s", got)
	}
	if got := entryKey(id, 3, "10-20"); got != "sched:6f1c2b8e-4a61-4c3e-9d0a-111111111111:3:10-20" {
		t.Errorf("entryKey = %s", got)
	}
	if got := leaseKey("no-show-sweep"); got != "lease:no-show-sweep" {
		t.Errorf("leaseKey = %s", got)
	}
}

func TestScheduleCache_BreakerOpensOnUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewScheduleCache(client, time.Minute, nil)
	ctx := context.Background()
	id := uuid.New()

	for i := 0; i < breakerTripFailures; i++ {
		if _, _, _, err := cache.Get(ctx, id, "k"); err == nil {
			t.Fatalf("call %d: expected error from unreachable redis", i)
		}
	}
	if cache.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", cache.State())
	}

	err := cache.Invalidate(ctx, id)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open-state error, got %v", err)
	}
}
