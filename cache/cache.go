// Package cache keeps compiled modules in a bounded LRU shared by
// concurrent callers.
//
// A miss compiles at most once per key: concurrent callers for the same key
// wait for the in-flight compile and share its result, while callers for
// other keys proceed independently. Entries are reference counted. The cache
// holds one reference and every Handle holds another, so a module evicted
// while in use is closed only when its last Handle is released.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/wasm-bridge/errors"
)

// Unit is the measure of cache capacity.
type Unit string

const (
	// UnitModules counts every entry as 1.
	UnitModules Unit = "modules"
	// UnitBytes weighs an entry by the size of the binary it was compiled from.
	UnitBytes Unit = "bytes"
)

// Module is the provider-owned compiled module an entry holds.
type Module interface {
	Close(ctx context.Context) error
}

// CompileFunc compiles a binary into a module.
type CompileFunc[M Module] func(ctx context.Context, wasm []byte) (M, error)

// Options configures a Cache.
type Options struct {
	// Capacity bounds the total weight of resident entries.
	Capacity uint64
	// Unit selects how entries are weighed. Empty means UnitModules.
	Unit   Unit
	Logger *zap.Logger
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Compiles  uint64
	Failures  uint64
	Evictions uint64
	Entries   int
	Weight    uint64
	Capacity  uint64
	Unit      Unit
}

type entry[M Module] struct {
	key    string
	module M
	weight uint64
	refs   int
	elem   *list.Element
}

// Cache is an LRU of compiled modules.
type Cache[M Module] struct {
	compile CompileFunc[M]
	opts    Options
	log     *zap.Logger
	group   singleflight.Group

	mu     sync.Mutex
	lru    *list.List // front is most recently used
	items  map[string]*entry[M]
	weight uint64
	closed bool
	stats  Stats
}

// New creates a cache that compiles misses with compile.
func New[M Module](opts Options, compile CompileFunc[M]) (*Cache[M], error) {
	if opts.Unit == "" {
		opts.Unit = UnitModules
	}
	if opts.Unit != UnitModules && opts.Unit != UnitBytes {
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown cache unit %q", opts.Unit))
	}
	if opts.Capacity == 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, "cache capacity must be positive")
	}
	if compile == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "cache requires a compile function")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache[M]{
		compile: compile,
		opts:    opts,
		log:     log.Named("cache"),
		lru:     list.New(),
		items:   make(map[string]*entry[M]),
	}, nil
}

// ContentKey derives a cache key from module bytes.
func ContentKey(wasm []byte) string {
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64(wasm))
}

// GetOrCompile returns a handle to the module cached under key, compiling
// wasm on a miss. Compile errors are returned as produced by the compile
// function and nothing is inserted. The caller must Release the handle.
//
// Cancelling ctx abandons the wait but not a compile other callers share.
func (c *Cache[M]) GetOrCompile(ctx context.Context, key string, wasm []byte) (*Handle[M], error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, errors.Closed(errors.PhaseCompile, "module cache")
		}
		if e, ok := c.items[key]; ok {
			e.refs++
			c.lru.MoveToFront(e.elem)
			c.stats.Hits++
			c.mu.Unlock()
			c.log.Debug("cache hit", zap.String("key", key))
			return &Handle[M]{cache: c, entry: e}, nil
		}
		c.stats.Misses++
		c.mu.Unlock()
		c.log.Debug("cache miss", zap.String("key", key))

		ch := c.group.DoChan(key, func() (any, error) {
			return c.load(context.WithoutCancel(ctx), key, wasm)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			if e := res.Val.(*entry[M]); c.tryAcquire(e) {
				return &Handle[M]{cache: c, entry: e}, nil
			}
			// evicted and closed before this caller could take a reference
		}
	}
}

// load compiles and inserts one entry. It runs once per in-flight key.
func (c *Cache[M]) load(ctx context.Context, key string, wasm []byte) (*entry[M], error) {
	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	m, err := c.compile(ctx, wasm)
	if err != nil {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		c.log.Warn("compile failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}

	w := c.weigh(wasm)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.closeModule(ctx, key, m)
		return nil, errors.Closed(errors.PhaseCompile, "module cache")
	}
	if w > c.opts.Capacity {
		c.mu.Unlock()
		c.closeModule(ctx, key, m)
		return nil, errors.New(errors.PhaseCompile, errors.KindCapacity).
			Detail("module %q weighs %d %s, capacity is %d", key, w, c.opts.Unit, c.opts.Capacity).
			Build()
	}

	var victims []*entry[M]
	for c.weight+w > c.opts.Capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		if v := c.evictLocked(back.Value.(*entry[M])); v != nil {
			victims = append(victims, v)
		}
	}
	e := &entry[M]{key: key, module: m, weight: w, refs: 1}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
	c.weight += w
	c.stats.Compiles++
	c.mu.Unlock()

	for _, v := range victims {
		c.closeModule(ctx, v.key, v.module)
	}
	return e, nil
}

// evictLocked removes e from the cache and drops the cache's reference.
// It returns e when that was the last reference.
func (c *Cache[M]) evictLocked(e *entry[M]) *entry[M] {
	c.lru.Remove(e.elem)
	delete(c.items, e.key)
	c.weight -= e.weight
	c.stats.Evictions++
	c.log.Debug("cache evict", zap.String("key", e.key), zap.Int("refs", e.refs-1))
	e.refs--
	if e.refs == 0 {
		return e
	}
	return nil
}

func (c *Cache[M]) tryAcquire(e *entry[M]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.refs == 0 {
		return false
	}
	e.refs++
	if cur, ok := c.items[e.key]; ok && cur == e {
		c.lru.MoveToFront(e.elem)
	}
	return true
}

func (c *Cache[M]) release(e *entry[M]) {
	c.mu.Lock()
	e.refs--
	last := e.refs == 0
	c.mu.Unlock()
	if last {
		c.closeModule(context.Background(), e.key, e.module)
	}
}

func (c *Cache[M]) closeModule(ctx context.Context, key string, m M) {
	if err := m.Close(ctx); err != nil {
		c.log.Warn("close module", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache[M]) weigh(wasm []byte) uint64 {
	if c.opts.Unit == UnitBytes {
		return uint64(len(wasm))
	}
	return 1
}

// Remove evicts key. It reports whether the key was resident.
func (c *Cache[M]) Remove(key string) bool {
	c.mu.Lock()
	e, ok := c.items[key]
	var victim *entry[M]
	if ok {
		victim = c.evictLocked(e)
	}
	c.mu.Unlock()
	if victim != nil {
		c.closeModule(context.Background(), victim.key, victim.module)
	}
	return ok
}

// Len returns the number of resident entries.
func (c *Cache[M]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns resident keys from most to least recently used.
func (c *Cache[M]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for el := c.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[M]).key)
	}
	return keys
}

func (c *Cache[M]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.items)
	s.Weight = c.weight
	s.Capacity = c.opts.Capacity
	s.Unit = c.opts.Unit
	return s
}

// Close empties the cache and rejects further lookups. Modules still held
// by handles close when those handles are released.
func (c *Cache[M]) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var victims []*entry[M]
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if v := c.evictLocked(el.Value.(*entry[M])); v != nil {
			victims = append(victims, v)
		}
		el = prev
	}
	c.mu.Unlock()

	var first error
	for _, v := range victims {
		if err := v.module.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Handle is a counted reference to a cached module.
type Handle[M Module] struct {
	cache *Cache[M]
	entry *entry[M]
	once  sync.Once
}

// Key returns the cache key the module was compiled under.
func (h *Handle[M]) Key() string { return h.entry.key }

// Module returns the compiled module. It is valid until Release.
func (h *Handle[M]) Module() M { return h.entry.module }

// Acquire returns a second handle to the same module. It reports false
// once the last reference was released and the module closed.
func (h *Handle[M]) Acquire() (*Handle[M], bool) {
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	if h.entry.refs == 0 {
		return nil, false
	}
	h.entry.refs++
	return &Handle[M]{cache: h.cache, entry: h.entry}, true
}

// Release drops the reference. Further calls are no-ops.
func (h *Handle[M]) Release() {
	h.once.Do(func() { h.cache.release(h.entry) })
}
