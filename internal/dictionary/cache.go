package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/resilience"
)

const keyPrefix = "dictionary:"

// LatestKey is the cache key of the most recent snapshot.
const LatestKey = keyPrefix + "latest"

// SnapshotKey is the cache key of the snapshot with the given id.
func SnapshotKey(id string) string {
	return keyPrefix + "snapshot:" + id
}

// KV is the subset of the Redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Cache is a read-through Redis cache for snapshots. Concurrent misses on
// the same key share one load. Redis failures trip a circuit breaker, after
// which reads go straight to the loader.
type Cache struct {
	kv      KV
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewCache returns a cache over kv. m may be nil.
func NewCache(kv KV, ttl time.Duration, m *metrics.Metrics) *Cache {
	c := &Cache{
		kv:      kv,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "dictionary-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("dictionary-redis", resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     10 * time.Second,
		OnStateChange:    c.recordBreaker,
	})
	return c
}

// Get returns the cached snapshot under key.
func (c *Cache) Get(ctx context.Context, key string) (*Snapshot, bool) {
	snap, ok := c.lookup(ctx, key)
	if ok {
		c.hit()
	} else {
		c.miss()
	}
	return snap, ok
}

// lookup reads key without touching the hit and miss counters.
func (c *Cache) lookup(ctx context.Context, key string) (*Snapshot, bool) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.kv.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &snap, true
}

// Put stores snap under key. Failures are logged and otherwise ignored.
func (c *Cache) Put(ctx context.Context, key string, snap *Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.kv.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrLoad returns the cached snapshot under key, or calls load, caches its
// result, and returns it. The boolean reports a cache hit.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (*Snapshot, error)) (*Snapshot, bool, error) {
	if snap, ok := c.Get(ctx, key); ok {
		return snap, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have filled key while this one waited.
		if snap, ok := c.lookup(ctx, key); ok {
			return snap, nil
		}
		snap, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, key, snap)
		return snap, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Snapshot), false, nil
}

// Invalidate drops every cached snapshot.
func (c *Cache) Invalidate(ctx context.Context) error {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.kv.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating dictionary cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *Cache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *Cache) recordBreaker(name string, from, to resilience.State) {
	c.logger.Warn("redis circuit state changed", "breaker", name, "from", from, "to", to)
	if c.metrics != nil {
		c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}
