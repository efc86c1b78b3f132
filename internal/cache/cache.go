// Package cache is a short-TTL, stale-while-revalidate read cache in front of
// ledger reads.
//
// A lookup inside the TTL is served from memory. When the remaining TTL drops
// under the near-expiry threshold the cached value is still served and one
// detached refresh is scheduled on a bounded pool. A miss or expired entry is
// recomputed synchronously, with concurrent misses for the same key sharing
// one load. Refresh failures are logged and never reach a caller.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/mmynk/splitledger/internal/metrics"
)

// Defaults.
const (
	DefaultTTL            = 30 * time.Second
	DefaultNearExpiry     = 2 * time.Second
	DefaultCapacity       = 4096
	DefaultRefreshWorkers = 4
	loadTimeout           = 10 * time.Second
)

// Options configures a Cache. Zero values take the defaults.
type Options struct {
	TTL            time.Duration
	NearExpiry     time.Duration
	Capacity       int
	RefreshWorkers int64
	Clock          func() time.Time
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	entries    *lru.Cache[string, entry]
	ttl        time.Duration
	nearExpiry time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics

	loads      singleflight.Group
	refreshers *semaphore.Weighted
	refreshing sync.Map // key -> struct{}
	background sync.WaitGroup

	mu       sync.Mutex
	epoch    uint64            // bumped by every Invalidate
	gens     map[string]uint64 // group ID -> epoch of its last invalidation
	inflight map[uint64]int    // start epoch -> loads running
}

// New creates a Cache.
func New(opts Options) (*Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.NearExpiry <= 0 {
		opts.NearExpiry = DefaultNearExpiry
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.RefreshWorkers <= 0 {
		opts.RefreshWorkers = DefaultRefreshWorkers
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	entries, err := lru.New[string, entry](opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache backend: %w", err)
	}

	return &Cache{
		entries:    entries,
		ttl:        opts.TTL,
		nearExpiry: opts.NearExpiry,
		now:        opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		refreshers: semaphore.NewWeighted(opts.RefreshWorkers),
		gens:       make(map[string]uint64),
		inflight:   make(map[uint64]int),
	}, nil
}

// Loader computes the value for a key from the source of truth.
type Loader[T any] func(ctx context.Context) (T, error)

// Fetch returns the cached value for key, loading it with load when absent or
// expired. Values are stored as JSON, so T must round-trip through
// encoding/json.
func Fetch[T any](ctx context.Context, c *Cache, key Key, load Loader[T]) (T, error) {
	var zero T
	raw, err := c.get(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("failed to decode cached %s: %w", key.Kind, err)
	}
	return out, nil
}

func (c *Cache) get(ctx context.Context, key Key, load func(context.Context) ([]byte, error)) ([]byte, error) {
	k := key.String()
	now := c.now()

	if e, ok := c.entries.Get(k); ok && now.Before(e.expiresAt) {
		if e.expiresAt.Sub(now) <= c.nearExpiry {
			c.metrics.ObserveCache(key.Kind, "stale")
			c.scheduleRefresh(key, load)
		} else {
			c.metrics.ObserveCache(key.Kind, "hit")
		}
		return e.value, nil
	}

	c.metrics.ObserveCache(key.Kind, "miss")
	return c.load(ctx, key, load)
}

// load computes and stores a value, sharing the work with concurrent loads of
// the same key. The shared load is detached from any one caller's
// cancellation; a caller that gives up returns its own context error while
// the others keep waiting.
func (c *Cache) load(ctx context.Context, key Key, load func(context.Context) ([]byte, error)) ([]byte, error) {
	ch := c.loads.DoChan(key.String(), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		started := c.beginLoad()
		raw, err := load(loadCtx)
		c.endLoad(key, raw, started, err == nil)
		if err != nil {
			return nil, err
		}
		return raw, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Cache) beginLoad() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[c.epoch]++
	return c.epoch
}

// endLoad stores the value unless its group was invalidated after the load
// started.
func (c *Cache) endLoad(key Key, raw []byte, started uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[started]--; c.inflight[started] == 0 {
		delete(c.inflight, started)
	}
	if ok && c.gens[key.GroupID] <= started {
		c.entries.Add(key.String(), entry{value: raw, expiresAt: c.now().Add(c.ttl)})
	}
	c.pruneGenerations()
}

// pruneGenerations forgets invalidations that no running or future load can
// observe. Called with mu held.
func (c *Cache) pruneGenerations() {
	oldest := c.epoch
	for started := range c.inflight {
		oldest = min(oldest, started)
	}
	for groupID, gen := range c.gens {
		if gen <= oldest {
			delete(c.gens, groupID)
		}
	}
}

// scheduleRefresh starts at most one background refresh per key. When every
// refresh worker is busy the refresh is skipped; the entry will be reloaded
// synchronously once it expires.
func (c *Cache) scheduleRefresh(key Key, load func(context.Context) ([]byte, error)) {
	k := key.String()
	if _, busy := c.refreshing.LoadOrStore(k, struct{}{}); busy {
		return
	}
	if !c.refreshers.TryAcquire(1) {
		c.refreshing.Delete(k)
		c.metrics.ObserveRefresh("skipped")
		return
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer c.refreshers.Release(1)
		defer c.refreshing.Delete(k)

		if _, err := c.load(context.Background(), key, load); err != nil {
			c.metrics.ObserveRefresh("error")
			c.logger.Warn("cache refresh failed", "key", k, "error", err)
			return
		}
		c.metrics.ObserveRefresh("ok")
	}()
}

// Invalidate removes every cached read of a group. Refreshes already in flight
// for the group finish but their results are discarded.
func (c *Cache) Invalidate(groupID string) {
	c.mu.Lock()
	c.epoch++
	c.gens[groupID] = c.epoch
	c.pruneGenerations()
	c.mu.Unlock()

	prefix := groupPrefix(groupID)
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
	c.metrics.ObserveInvalidation()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Wait blocks until every background refresh has finished.
func (c *Cache) Wait() {
	c.background.Wait()
}
