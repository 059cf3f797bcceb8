// Package ristretto implements the event cache using dgraph-io/ristretto.
// Stored events are immutable, so entries never expire and never need
// invalidation; eviction is purely cost-based.
package ristretto

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/TaskLoom/internal/domain/event"
)

// EventCache caches stored events by global ID.
type EventCache struct {
	c *ristretto.Cache[int64, *event.StoredEvent]
}

// New creates an EventCache. maxCostBytes bounds the total payload size held
// in memory.
func New(maxCostBytes int64) (*EventCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[int64, *event.StoredEvent]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &EventCache{c: c}, nil
}

// GetEvent returns the cached event with the given ID.
func (c *EventCache) GetEvent(_ context.Context, id int64) (*event.StoredEvent, bool) {
	return c.c.Get(id)
}

// PutEvent caches one event, costed by its payload size.
func (c *EventCache) PutEvent(_ context.Context, ev *event.StoredEvent) {
	cost := int64(len(ev.Payload)) + int64(len(ev.StreamID)) + 64
	c.c.Set(ev.ID, ev, cost)
}

// Close shuts down the cache and releases resources.
func (c *EventCache) Close() {
	c.c.Close()
}
