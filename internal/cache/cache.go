// Package cache is an optional read-through layer for post reads. A miss or
// a disabled cache only costs latency.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache stores values by key.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Put(key string, value V)
	Delete(key string)
}

// LRU is a size- and age-bounded in-process cache. Every Delete bumps gen;
// a fill that started under an older gen is not stored.
type LRU[V any] struct {
	lru   *expirable.LRU[string, V]
	group singleflight.Group
	name  string

	mu  sync.Mutex
	gen uint64
}

// NewLRU keeps at most size entries for ttl each.
func NewLRU[V any](name string, size int, ttl time.Duration) *LRU[V] {
	if size <= 0 {
		size = 256
	}
	return &LRU[V]{lru: expirable.NewLRU[string, V](size, nil, ttl), name: name}
}

func (c *LRU[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		slog.Debug("cache hit", "cache", c.name, "key", key)
	} else {
		slog.Debug("cache miss", "cache", c.name, "key", key)
	}
	return v, ok
}

func (c *LRU[V]) Put(key string, value V) {
	c.lru.Add(key, value)
}

func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	c.gen++
	c.lru.Remove(key)
	c.mu.Unlock()
	c.group.Forget(key)
}

func (c *LRU[V]) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// putIfCurrent stores value unless a Delete happened since gen was read.
func (c *LRU[V]) putIfCurrent(key string, value V, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.lru.Add(key, value)
	return true
}

// Len reports the number of live entries.
func (c *LRU[V]) Len() int {
	return c.lru.Len()
}

// Nop never stores anything.
type Nop[V any] struct{}

func (Nop[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (Nop[V]) Put(string, V)  {}
func (Nop[V]) Delete(string) {}

// Loader fetches a value on a miss. ok=false results are not cached.
type Loader[V any] func(ctx context.Context) (v V, ok bool, err error)

type loaded[V any] struct {
	v  V
	ok bool
}

// ReadThrough returns the cached value for key or calls load, sharing one
// load among concurrent callers when c is an LRU. A shared load runs detached
// from the first caller's cancellation; the store bounds it with its own
// timeout. A load that overlaps a Delete returns its value without caching it.
func ReadThrough[V any](ctx context.Context, c Cache[V], key string, load Loader[V]) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	lru, shared := c.(*LRU[V])
	if !shared {
		return load(ctx)
	}
	res, err, _ := lru.group.Do(key, func() (any, error) {
		gen := lru.generation()
		v, ok, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if ok && !lru.putIfCurrent(key, v, gen) {
			slog.Debug("cache fill discarded after invalidation", "cache", lru.name, "key", key)
		}
		return loaded[V]{v: v, ok: ok}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	out := res.(loaded[V])
	return out.v, out.ok, nil
}
