package callbacks

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// KeyFunc derives a cache key for a node visit. Returning false leaves the
// visit uncached. Keys must be comparable.
type KeyFunc func(node inference.Node, input, supervision inference.Value) (any, bool)

type cacheKey struct {
	node  inference.Node
	input any
}

// DefaultCacheKey caches unsupervised visits whose input is a scalar
// (bool, number or string). Supervised visits are never cached since the
// learners observing them expect a fresh computation.
func DefaultCacheKey(node inference.Node, input, supervision inference.Value) (any, bool) {
	if !inference.IsMissing(supervision) || input == nil || !reflect.TypeOf(node).Comparable() {
		return nil, false
	}
	switch reflect.TypeOf(input).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return cacheKey{node: node, input: input}, true
	}
	return nil, false
}

// CacheCallback memoizes Finished outputs of selected nodes in an LRU cache.
// A hit skips the node computation and its whole subtree.
type CacheCallback struct {
	cache   *lru.Cache
	key     KeyFunc
	targets []inference.Node
	hits    atomic.Int64
	misses  atomic.Int64
}

// CacheOption configures a CacheCallback.
type CacheOption func(*CacheCallback)

// WithCacheKey replaces DefaultCacheKey.
func WithCacheKey(fn KeyFunc) CacheOption {
	return func(c *CacheCallback) {
		if fn != nil {
			c.key = fn
		}
	}
}

// WithCacheNodes restricts caching to the given nodes. By default every
// atomic node is cached.
func WithCacheNodes(nodes ...inference.Node) CacheOption {
	return func(c *CacheCallback) {
		c.targets = append(c.targets, nodes...)
	}
}

// NewCacheCallback creates a cache holding at most size outputs.
func NewCacheCallback(size int, opts ...CacheOption) (*CacheCallback, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	c := &CacheCallback{cache: cache, key: DefaultCacheKey}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *CacheCallback) PreInference(_ context.Context, _ *inference.Stack, ev inference.Event) inference.Override {
	key, ok := c.keyFor(ev)
	if !ok {
		return inference.Keep()
	}
	if out, found := c.cache.Get(key); found {
		c.hits.Add(1)
		return inference.SkipWith(out)
	}
	c.misses.Add(1)
	return inference.Keep()
}

func (c *CacheCallback) PostInference(_ context.Context, _ *inference.Stack, ev inference.Event) inference.Override {
	if ev.Code != inference.Finished || !ev.HasOutput {
		return inference.Keep()
	}
	if key, ok := c.keyFor(ev); ok {
		c.cache.Add(key, ev.Output)
	}
	return inference.Keep()
}

func (c *CacheCallback) keyFor(ev inference.Event) (any, bool) {
	if !c.selects(ev.Node) {
		return nil, false
	}
	return c.key(ev.Node, ev.Input, ev.Supervision)
}

func (c *CacheCallback) selects(node inference.Node) bool {
	if len(c.targets) == 0 {
		return node.Kind() == inference.KindAtomic
	}
	for _, t := range c.targets {
		if inference.Same(t, node) {
			return true
		}
	}
	return false
}

// Hits returns the number of visits served from the cache.
func (c *CacheCallback) Hits() int64 { return c.hits.Load() }

// Misses returns the number of cacheable visits that had to compute.
func (c *CacheCallback) Misses() int64 { return c.misses.Load() }

// Len returns the number of cached outputs.
func (c *CacheCallback) Len() int { return c.cache.Len() }

// Purge drops every cached output. Call it after a learner updated a cached node.
func (c *CacheCallback) Purge() { c.cache.Purge() }

var _ inference.Callback = (*CacheCallback)(nil)
