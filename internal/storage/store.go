package storage

import (
	"context"
	"sort"
	"strings"
)

// Store is a durable string-keyed map. Prefixes act as tables; List is the
// only way to enumerate keys. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key starting with prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// ConditionalStore is implemented by backends that can perform atomic
// conditional writes. Callers type-assert for it and fall back to
// read-then-write when it is missing.
type ConditionalStore interface {
	Store

	// PutIfAbsent writes value only when key does not exist. It reports
	// whether the write happened.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// CompareAndSwap replaces the value of key with new only when the
	// current value equals old byte for byte. It reports whether the swap
	// happened; a missing key never swaps.
	CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error)
}

// AsConditional returns s as a ConditionalStore when it supports it.
func AsConditional(s Store) (ConditionalStore, bool) {
	cs, ok := s.(ConditionalStore)
	return cs, ok
}

// DeletePrefix deletes every key under prefix and returns how many were removed.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

func filterSorted(keys []string, prefix string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
