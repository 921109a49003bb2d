package storage

import (
	"context"
	"strings"
)

// CachedStore is a read-through cache in front of a Store for keys under a
// fixed prefix. Writes through this wrapper keep the cache coherent; writes
// made by other processes become visible after the TTL.
type CachedStore struct {
	Store
	prefix string
	cache  *LRUCache[[]byte]
}

// NewCachedStore caches Get results for keys starting with prefix.
func NewCachedStore(inner Store, prefix string, cache *LRUCache[[]byte]) *CachedStore {
	return &CachedStore{Store: inner, prefix: prefix, cache: cache}
}

func (c *CachedStore) cacheable(key string) bool {
	return strings.HasPrefix(key, c.prefix)
}

func (c *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.cacheable(key) {
		return c.Store.Get(ctx, key)
	}
	if v, ok := c.cache.Get(key); ok {
		return append([]byte(nil), v...), nil
	}
	v, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]byte(nil), v...))
	return v, nil
}

func (c *CachedStore) Put(ctx context.Context, key string, value []byte) error {
	c.cache.Delete(key)
	return c.Store.Put(ctx, key, value)
}

func (c *CachedStore) Delete(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return c.Store.Delete(ctx, key)
}

// CachedConditionalStore adds the conditional operations when the wrapped
// store supports them.
type CachedConditionalStore struct {
	*CachedStore
	inner ConditionalStore
}

// WithCache wraps s with a prefix cache, preserving ConditionalStore.
func WithCache(s Store, prefix string, cache *LRUCache[[]byte]) Store {
	cached := NewCachedStore(s, prefix, cache)
	if cs, ok := s.(ConditionalStore); ok {
		return &CachedConditionalStore{CachedStore: cached, inner: cs}
	}
	return cached
}

func (c *CachedConditionalStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	c.cache.Delete(key)
	return c.inner.PutIfAbsent(ctx, key, value)
}

func (c *CachedConditionalStore) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	c.cache.Delete(key)
	return c.inner.CompareAndSwap(ctx, key, old, new)
}
