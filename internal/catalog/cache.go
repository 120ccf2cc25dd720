package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSourceTimeout = 5 * time.Second

	refreshKey = "catalog"
)

// ErrNotBuilt is returned by CheckReadiness until the first snapshot exists.
var ErrNotBuilt = errors.New("catalog not built yet")

// Source is a provider feed the catalog aggregates. Fetch must not fail:
// outages are expected to degrade to an empty or last-known-good list.
type Source interface {
	Name() string
	Fetch(ctx context.Context) []domain.Resource
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a built snapshot is served before refetching.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithSourceTimeout bounds each source fetch during a refresh.
func WithSourceTimeout(d time.Duration) Option {
	return func(c *Cache) { c.sourceTimeout = d }
}

// WithDedupPrecision sets the coordinate rounding used for deduplication.
func WithDedupPrecision(p int) Option {
	return func(c *Cache) { c.precision = p }
}

// WithClock replaces the wall clock, used by tests to expire entries.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// Cache serves the unified, deduplicated resource catalog. A built snapshot
// is returned unchanged until its TTL lapses; at most one refresh runs at a
// time and concurrent callers share its result.
type Cache struct {
	sources       []Source
	ttl           time.Duration
	sourceTimeout time.Duration
	precision     int
	clock         clockwork.Clock
	logger        *slog.Logger
	metrics       *observability.Metrics

	group singleflight.Group
	built atomic.Bool

	mu        sync.RWMutex
	snapshot  domain.Snapshot
	expiresAt time.Time
	valid     bool
	gen       uint64 // bumped by Invalidate; stale refreshes do not store
}

type fetchResult struct {
	resources []domain.Resource
}

// New creates a catalog over sources, which are concatenated in the order given.
func New(sources []Source, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Cache {
	c := &Cache{
		sources:       sources,
		ttl:           DefaultTTL,
		sourceTimeout: DefaultSourceTimeout,
		precision:     domain.DefaultDedupPrecision,
		clock:         clockwork.NewRealClock(),
		logger:        logger,
		metrics:       metrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current snapshot, rebuilding it when absent or expired.
// The returned payload is shared and must not be modified. A caller whose
// context ends stops waiting, but the refresh it joined keeps running for
// the other waiters.
func (c *Cache) Get(ctx context.Context) (domain.Snapshot, error) {
	if snap, ok := c.fresh(); ok {
		c.metrics.CatalogCache.WithLabelValues("hit").Inc()
		return snap, nil
	}
	c.metrics.CatalogCache.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		if snap, ok := c.fresh(); ok {
			return snap, nil
		}
		return c.refresh(context.WithoutCancel(ctx)), nil
	})

	select {
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Snapshot{}, res.Err
		}
		return res.Val.(domain.Snapshot), nil
	}
}

// Invalidate drops the stored snapshot so the next Get refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.gen++
	c.mu.Unlock()
	c.group.Forget(refreshKey)
}

// CheckReadiness reports ready once a snapshot has been built at least once.
func (c *Cache) CheckReadiness(_ context.Context) error {
	if !c.built.Load() {
		return ErrNotBuilt
	}
	return nil
}

func (c *Cache) fresh() (domain.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || !c.clock.Now().Before(c.expiresAt) {
		return domain.Snapshot{}, false
	}
	return c.snapshot, true
}

// refresh fans out to every source, concatenates in configured order, and
// deduplicates. An all-empty result is still stored.
func (c *Cache) refresh(ctx context.Context) domain.Snapshot {
	start := c.clock.Now()
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	results := make([][]domain.Resource, len(c.sources))

	var wg sync.WaitGroup
	for i, src := range c.sources {
		wg.Go(func() {
			results[i] = c.fetch(ctx, src)
		})
	}
	wg.Wait()

	counts := make(map[string]int, len(c.sources))
	total := 0
	for i, src := range c.sources {
		counts[src.Name()] = len(results[i])
		total += len(results[i])
	}

	merged := make([]domain.Resource, 0, total)
	for _, rs := range results {
		merged = append(merged, rs...)
	}

	now := c.clock.Now()
	snap := domain.Snapshot{
		Results:     domain.DedupeWithPrecision(merged, c.precision),
		Sources:     counts,
		LastUpdated: now.UTC(),
	}

	c.mu.Lock()
	if c.gen == gen {
		c.snapshot = snap
		c.expiresAt = now.Add(c.ttl)
		c.valid = true
	}
	c.mu.Unlock()
	c.built.Store(true)

	c.metrics.CatalogResources.Set(float64(len(snap.Results)))
	if total == 0 && len(c.sources) > 0 {
		c.metrics.CatalogRefreshes.WithLabelValues("empty").Inc()
		c.logger.Warn("catalog refresh returned no resources", "sources", len(c.sources))
	} else {
		c.metrics.CatalogRefreshes.WithLabelValues("ok").Inc()
		c.logger.Info("catalog refreshed",
			"resources", len(snap.Results),
			"duplicates", total-len(snap.Results),
			"duration", c.clock.Since(start),
		)
	}
	return snap
}

// fetch runs one source under the per-source timeout. A source that ignores
// its context is abandoned when the timeout fires and counts as empty.
func (c *Cache) fetch(ctx context.Context, src Source) []domain.Resource {
	ctx, cancel := context.WithTimeout(ctx, c.sourceTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		done <- fetchResult{resources: src.Fetch(ctx)}
	}()

	select {
	case res := <-done:
		return res.resources
	case <-ctx.Done():
		c.logger.Warn("source timed out", "source", src.Name(), "timeout", c.sourceTimeout)
		return nil
	}
}
