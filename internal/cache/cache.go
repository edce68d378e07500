// Package cache is the agent session cache: a TTL-bounded LRU of query
// results, invalidated wholesale when the index generation moves, with an
// optional JSON tier on disk so separate CLI invocations share entries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize = 256
	DefaultTTL  = 10 * time.Minute
)

// Options configure a SessionCache.
type Options struct {
	Size int
	TTL  time.Duration
	// Dir enables the disk tier when non-empty.
	Dir string
	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry[V any] struct {
	Key        string    `json:"key"`
	Value      V         `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Generation int64     `json:"generation"`
}

// SessionCache memoizes computations per key. It is safe for concurrent use.
type SessionCache[V any] struct {
	opts  Options
	mem   *expirable.LRU[string, entry[V]]
	group singleflight.Group

	mu         sync.RWMutex
	generation int64
}

// New creates a cache. A non-empty opts.Dir is created on demand.
func New[V any](opts Options) *SessionCache[V] {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionCache[V]{
		opts: opts,
		mem:  expirable.NewLRU[string, entry[V]](opts.Size, nil, opts.TTL),
	}
}

// Generation returns the generation entries are currently valid for.
func (c *SessionCache[V]) Generation() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// SetGeneration moves the cache to gen. A change purges memory and drops
// disk entries recorded under any other generation.
func (c *SessionCache[V]) SetGeneration(gen int64) {
	c.mu.Lock()
	if c.generation == gen {
		c.mu.Unlock()
		return
	}
	prev := c.generation
	c.generation = gen
	c.mu.Unlock()

	c.mem.Purge()
	c.sweepDisk(gen)
	slog.Debug("session_cache_invalidated", slog.Int64("from", prev), slog.Int64("to", gen))
}

// GetOrCompute returns the live entry for key or runs fn once across
// concurrent callers and stores its result. hit reports whether the value
// came from the cache. Errors are never cached. ttl <= 0 uses the default.
func (c *SessionCache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	if ttl <= 0 || ttl > c.opts.TTL {
		ttl = c.opts.TTL
	}

	gen := c.Generation()
	// The shared compute outlives any single caller's cancellation.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := fn(detached)
		if err != nil {
			return v, err
		}
		// A generation change while computing makes the result stale on arrival.
		if c.Generation() == gen {
			c.put(key, v, ttl, gen)
		}
		return v, nil
	})

	select {
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, false, res.Err
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

// Get returns a live entry for key from memory, then disk.
func (c *SessionCache[V]) Get(key string) (V, bool) {
	var zero V
	gen := c.Generation()
	now := c.opts.Now()

	if e, ok := c.mem.Get(key); ok {
		if e.Generation == gen && now.Before(e.ExpiresAt) {
			return e.Value, true
		}
		c.mem.Remove(key)
	}

	e, ok := c.readDisk(key)
	if !ok {
		return zero, false
	}
	if e.Generation != gen || !now.Before(e.ExpiresAt) {
		_ = os.Remove(c.path(key))
		return zero, false
	}
	c.mem.Add(key, e)
	return e.Value, true
}

// Len returns the number of in-memory entries.
func (c *SessionCache[V]) Len() int { return c.mem.Len() }

// Entries returns the number of entries in the disk tier, or the in-memory
// count when there is none.
func (c *SessionCache[V]) Entries() int {
	if c.opts.Dir == "" {
		return c.Len()
	}
	des, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		return c.Len()
	}
	n := 0
	for _, de := range des {
		if strings.HasSuffix(de.Name(), ".json") {
			n++
		}
	}
	return n
}

// Clear drops every entry from memory and disk.
func (c *SessionCache[V]) Clear() error {
	c.mem.Purge()
	if c.opts.Dir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, de := range entries {
		if strings.HasSuffix(de.Name(), ".json") {
			if err := os.Remove(filepath.Join(c.opts.Dir, de.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to remove cache entry: %w", err)
			}
		}
	}
	return nil
}

func (c *SessionCache[V]) put(key string, v V, ttl time.Duration, gen int64) {
	now := c.opts.Now()
	e := entry[V]{Key: key, Value: v, CreatedAt: now, ExpiresAt: now.Add(ttl), Generation: gen}
	c.mem.Add(key, e)
	if err := c.writeDisk(e); err != nil {
		slog.Debug("session_cache_write_failed", slog.String("error", err.Error()))
	}
}

func (c *SessionCache[V]) path(key string) string {
	return filepath.Join(c.opts.Dir, key+".json")
}

func (c *SessionCache[V]) writeDisk(e entry[V]) error {
	if c.opts.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.opts.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	// Temp file plus rename keeps concurrent readers off partial writes.
	tmp, err := os.CreateTemp(c.opts.Dir, e.Key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.path(e.Key)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (c *SessionCache[V]) readDisk(key string) (entry[V], bool) {
	var e entry[V]
	if c.opts.Dir == "" {
		return e, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return e, false
	}
	if err := json.Unmarshal(data, &e); err != nil || e.Key != key {
		_ = os.Remove(c.path(key))
		return e, false
	}
	return e, true
}

// sweepDisk removes disk entries recorded under a generation other than gen.
func (c *SessionCache[V]) sweepDisk(gen int64) {
	if c.opts.Dir == "" {
		return
	}
	entries, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		return
	}
	for _, de := range entries {
		name := de.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(c.opts.Dir, name)
		var head struct {
			Generation int64 `json:"generation"`
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if json.Unmarshal(data, &head) != nil || head.Generation != gen {
			_ = os.Remove(path)
		}
	}
}
