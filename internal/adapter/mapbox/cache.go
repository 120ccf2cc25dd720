package mapbox

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
	"golang.org/x/sync/singleflight"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache. Concurrent
// lookups of the same address share one upstream request.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

type lookupResult struct {
	coords domain.Coordinates
	found  bool
}

func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (domain.Coordinates, bool, error) {
	key := cacheKey(address)
	if coords, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return coords, true, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		coords, found, err := c.inner.Geocode(ctx, address)
		if err != nil {
			return nil, err
		}
		// Only matches are cached so a "not found" can succeed later.
		if found {
			c.cache.put(key, coords)
		}
		return lookupResult{coords: coords, found: found}, nil
	})
	if err != nil {
		return domain.Coordinates{}, false, err
	}
	r := v.(lookupResult)
	return r.coords, r.found, nil
}

// cacheKey folds case and whitespace so trivially different spellings of an
// address share an entry.
func cacheKey(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// lruCache is a thread-safe LRU cache of geocoded coordinates.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List // front is most recently used
	entries    map[string]*list.Element
}

type entry struct {
	key    string
	coords domain.Coordinates
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(maxEntries, 1),
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (domain.Coordinates, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return domain.Coordinates{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).coords, true
}

func (c *lruCache) put(key string, coords domain.Coordinates) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).coords = coords
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry{key: key, coords: coords})
	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
