// Package cache decorates repository lookups with a bounded LRU cache.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Finder loads one entity by id.
type Finder[K comparable, V any] interface {
	Find(ctx context.Context, id K) (V, error)
}

// FinderFunc adapts a lookup method, e.g. repo.Repo.User, to Finder.
type FinderFunc[K comparable, V any] func(ctx context.Context, id K) (V, error)

func (f FinderFunc[K, V]) Find(ctx context.Context, id K) (V, error) { return f(ctx, id) }

// Cached is a Finder that remembers successful lookups of the wrapped one.
// Errors are never cached.
type Cached[K comparable, V any] struct {
	inner   Finder[K, V]
	entries *lru.Cache[K, V]
}

func New[K comparable, V any](inner Finder[K, V], size int) (*Cached[K, V], error) {
	entries, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	return &Cached[K, V]{inner: inner, entries: entries}, nil
}

func (c *Cached[K, V]) Find(ctx context.Context, id K) (V, error) {
	if v, ok := c.entries.Get(id); ok {
		return v, nil
	}
	v, err := c.inner.Find(ctx, id)
	if err != nil {
		return v, err
	}
	c.entries.Add(id, v)
	return v, nil
}

// Invalidate drops one entry; call it after the entity was modified.
func (c *Cached[K, V]) Invalidate(id K) {
	c.entries.Remove(id)
}

func (c *Cached[K, V]) Purge() {
	c.entries.Purge()
}

func (c *Cached[K, V]) Len() int {
	return c.entries.Len()
}
