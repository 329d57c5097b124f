package schedulingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Cache is an in-memory scheduling.ScheduleCache with per-doctor generations.
type Cache struct {
	mu      sync.Mutex
	gens    map[uuid.UUID]int64
	entries map[string][]byte
	Hits    int
	Misses  int
}

func NewCache() *Cache {
	return &Cache{gens: map[uuid.UUID]int64{}, entries: map[string][]byte{}}
}

func entryKey(doctorID uuid.UUID, gen int64, key string) string {
	return fmt.Sprintf("%s/%d/%s", doctorID, gen, key)
}

func (c *Cache) Get(_ context.Context, doctorID uuid.UUID, key string) ([]byte, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[doctorID]
	v, ok := c.entries[entryKey(doctorID, gen, key)]
	if ok {
		c.Hits++
	} else {
		c.Misses++
	}
	return v, gen, ok, nil
}

func (c *Cache) Set(_ context.Context, doctorID uuid.UUID, key string, gen int64, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gens[doctorID] {
		return nil
	}
	c.entries[entryKey(doctorID, gen, key)] = value
	return nil
}

func (c *Cache) Invalidate(_ context.Context, doctorID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[doctorID]++
	return nil
}
