package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	_, ok := c.Get("a") // a is now most recent
	require.True(t, ok)

	c.Set("c", "3")

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Now()
	c := NewLRUCache[int](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_ZeroCapacityDisables(t *testing.T) {
	c := NewLRUCache[int](0, time.Minute)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUCache_DeleteAndClear(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

// countingStore counts Get calls reaching the backend.
type countingStore struct {
	*MemoryStore
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	return c.MemoryStore.Get(ctx, key)
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	s := NewCachedStore(inner, "apikey:", NewLRUCache[[]byte](10, time.Minute))

	require.NoError(t, s.Put(ctx, "apikey:wz-1", []byte("alice@example.com")))

	for i := 0; i < 3; i++ {
		v, err := s.Get(ctx, "apikey:wz-1")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", string(v))
	}
	assert.Equal(t, 1, inner.gets)

	require.NoError(t, s.Delete(ctx, "apikey:wz-1"))
	_, err := s.Get(ctx, "apikey:wz-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, inner.gets)

	// Keys outside the prefix always hit the backend.
	require.NoError(t, s.Put(ctx, "usage:wz-1", []byte("{}")))
	_, _ = s.Get(ctx, "usage:wz-1")
	_, _ = s.Get(ctx, "usage:wz-1")
	assert.Equal(t, 4, inner.gets)
}

func TestWithCache_PreservesConditional(t *testing.T) {
	ctx := context.Background()
	s := WithCache(NewMemoryStore(), "apikey:", NewLRUCache[[]byte](10, time.Minute))

	cs, ok := AsConditional(s)
	require.True(t, ok)

	ok, err := cs.PutIfAbsent(ctx, "apikey:wz-1", []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = cs.Get(ctx, "apikey:wz-1") // populate cache
	require.NoError(t, err)

	swapped, err := cs.CompareAndSwap(ctx, "apikey:wz-1", []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.True(t, swapped)

	v, err := cs.Get(ctx, "apikey:wz-1")
	require.NoError(t, err)
	assert.Equal(t, "b", string(v), "CAS must invalidate the cached value")

	_, ok = AsConditional(WithCache(plainStore{NewMemoryStore()}, "apikey:", NewLRUCache[[]byte](1, time.Minute)))
	assert.False(t, ok)
}
