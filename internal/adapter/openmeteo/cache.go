package openmeteo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	"github.com/couchcryptid/heat-surveillance-etl/internal/observability"
)

// CachedSource wraps a TemperatureSource with an in-memory LRU cache.
type CachedSource struct {
	inner   domain.TemperatureSource
	cache   *lruCache[series]
	metrics *observability.Metrics
}

type series struct {
	obs []domain.DailyObservation
}

// NewCachedSource creates a cache decorator around a temperature source.
func NewCachedSource(inner domain.TemperatureSource, maxEntries int, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		cache:   newLRUCache[series](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedSource) DailyMaxTemperatures(ctx context.Context, lat, lon float64, from, to time.Time) ([]domain.DailyObservation, []domain.RecordError, error) {
	key := fmt.Sprintf("%.4f,%.4f|%s|%s", lat, lon, domain.FormatDate(from), domain.FormatDate(to))
	if s, ok := c.cache.get(key); ok {
		c.metrics.FetchCache.WithLabelValues("hit").Inc()
		return append([]domain.DailyObservation(nil), s.obs...), nil, nil
	}
	c.metrics.FetchCache.WithLabelValues("miss").Inc()

	obs, faults, err := c.inner.DailyMaxTemperatures(ctx, lat, lon, from, to)
	if err != nil {
		return obs, faults, err
	}
	// Ranges with gaps are not cached: the archive backfills recent days.
	if len(faults) == 0 {
		c.cache.put(key, series{obs: append([]domain.DailyObservation(nil), obs...)})
	}
	return obs, faults, nil
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
