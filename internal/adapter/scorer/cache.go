package scorer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/couchcryptid/me-compute/internal/observability"
)

// CachedScorer wraps a Scorer with an in-memory LRU cache keyed by channel
// and trace start.
type CachedScorer struct {
	inner   Scorer
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedScorer creates a cache decorator around a scorer.
func NewCachedScorer(inner Scorer, maxEntries int, metrics *observability.Metrics) *CachedScorer {
	return &CachedScorer{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedScorer) Score(ctx context.Context, in domain.WaveformInput) (float64, error) {
	if len(in.Traces) == 0 {
		return 0, ErrNoTrace
	}
	key := cacheKey(in)
	if score, ok := c.cache.get(key); ok {
		c.metrics.ScorerCache.WithLabelValues("hit").Inc()
		return score, nil
	}
	c.metrics.ScorerCache.WithLabelValues("miss").Inc()

	score, err := c.inner.Score(ctx, in)
	if err != nil {
		return score, err
	}
	// Non-finite scores are not cached so the next request can retry.
	if !math.IsNaN(score) && !math.IsInf(score, 0) {
		c.cache.put(key, score)
	}
	return score, nil
}

func cacheKey(in domain.WaveformInput) string {
	return in.Station.ChannelID() + "|" + in.Traces[0].StartTime.UTC().Format(time.RFC3339Nano)
}

// lruCache is a simple thread-safe LRU cache of scores.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value float64
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
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

func (c *lruCache) remove(e *entry) {
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

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
