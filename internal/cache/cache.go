// Package cache implements the bounded, LRU-evicted Tool Cache that
// holds active server bindings (spec.md §3/§4.2). It follows the
// teacher's single-mutex-guards-shared-state style (router.go's
// router.mu) rather than anything fancier, since the invariant is
// simple: at most capacity entries, and release of a dropped binding's
// connection must never happen while the lock is held.
package cache

import (
	"fmt"
	"log/slog"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/lizzyg/toolrouter/internal/core"
)

// Cache is a bounded, most-recently-used-ordered map from server handle
// to its live Binding. Capacity is fixed at construction (spec.md's "C").
type Cache struct {
	mu       sync.Mutex
	entries  *orderedmap.OrderedMap[string, *core.Binding]
	capacity int
	logger   *slog.Logger
}

// New builds a Cache with the given capacity. capacity must be >= 1;
// internal/config.RouterConfig.Validate enforces that before a Cache is
// ever constructed.
func New(capacity int, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries:  orderedmap.New[string, *core.Binding](),
		capacity: capacity,
		logger:   logger,
	}
}

// Get returns the binding for handle and touches it to MRU position. The
// second return value is false if handle is not cached.
func (c *Cache) Get(handle string) (*core.Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries.Get(handle)
	if !ok {
		return nil, false
	}
	c.touchLocked(handle, b)
	return b, true
}

// Peek returns the binding for handle without affecting its MRU
// position — used to assemble the turn's toolset from every cached
// binding, which must not itself count as a touch (spec.md §3: cache
// bookkeeping only records actually touched handles).
func (c *Cache) Peek(handle string) (*core.Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(handle)
}

// Touch moves handle to MRU position without returning its binding —
// the distinct touch(h) operation spec.md §4.2/§4.6.1 calls for every
// handle actually invoked during a turn.
func (c *Cache) Touch(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries.Get(handle)
	if !ok {
		return
	}
	c.touchLocked(handle, b)
}

// touchLocked moves handle to the MRU (back) position. go-ordered-map
// keeps a present key's position on Set, so the entry is removed and
// re-inserted to actually move it.
func (c *Cache) touchLocked(handle string, b *core.Binding) {
	c.entries.Delete(handle)
	c.entries.Set(handle, b)
}

// Insert adds binding under handle, evicting the least-recently-used
// entry if the cache is already at capacity. If an eviction happens,
// the evicted binding's connection is closed after the lock is
// released — callers must never suspend while holding the cache lock
// (spec.md §5), and closing a connection can block on I/O.
func (c *Cache) Insert(handle string, b *core.Binding) {
	var doomed *core.Binding

	c.mu.Lock()
	if _, exists := c.entries.Get(handle); exists {
		c.entries.Delete(handle)
	} else if c.entries.Len() >= c.capacity {
		oldest := c.entries.Oldest()
		if oldest != nil {
			doomed = oldest.Value
			c.entries.Delete(oldest.Key)
		}
	}
	c.entries.Set(handle, b)
	c.mu.Unlock()

	if doomed != nil {
		c.closeBinding(doomed)
	}
}

// Evict removes handle from the cache, if present, and returns its
// binding for the caller to close outside any lock it may be holding.
func (c *Cache) Evict(handle string) (*core.Binding, bool) {
	c.mu.Lock()
	b, ok := c.entries.Get(handle)
	if ok {
		c.entries.Delete(handle)
	}
	c.mu.Unlock()
	return b, ok
}

// Contains reports whether handle is currently cached, without
// affecting its MRU position.
func (c *Cache) Contains(handle string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries.Get(handle)
	return ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Handles returns cached handles ordered most-recently-used first.
func (c *Cache) Handles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, c.entries.Len())
	for pair := c.entries.Newest(); pair != nil; pair = pair.Prev() {
		out = append(out, pair.Key)
	}
	return out
}

// ReleaseAll evicts every entry and closes its connection. Used on
// router shutdown.
func (c *Cache) ReleaseAll() {
	c.mu.Lock()
	doomed := make([]*core.Binding, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		doomed = append(doomed, pair.Value)
	}
	c.entries = orderedmap.New[string, *core.Binding]()
	c.mu.Unlock()

	for _, b := range doomed {
		c.closeBinding(b)
	}
}

func (c *Cache) closeBinding(b *core.Binding) {
	if b == nil || b.Connection == nil {
		return
	}
	if err := b.Connection.Close(); err != nil {
		c.logger.Warn("failed to close evicted binding connection",
			slog.String("handle", b.Handle), slog.Any("error", err))
	}
}

// String renders a brief diagnostic summary of occupancy and the
// cached handles, MRU first.
func (c *Cache) String() string {
	handles := c.Handles()
	return fmt.Sprintf("cache(%d/%d): %v", len(handles), c.capacity, handles)
}
