// Package shard provides a string-keyed map split across independently locked
// shards, so updates for unrelated keys do not contend on one mutex.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultCount is the shard count used when New is given a non-positive value.
const DefaultCount = 32

type bucket[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// Map is a sharded map. The zero value is not usable; call New.
type Map[V any] struct {
	shards []*bucket[V]
}

// New creates a map with n shards.
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultCount
	}
	shards := make([]*bucket[V], n)
	for i := range shards {
		shards[i] = &bucket[V]{m: make(map[string]V)}
	}
	return &Map[V]{shards: shards}
}

func (m *Map[V]) bucketFor(key string) *bucket[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Update runs fn with the current value for key while holding the key's shard
// lock. fn returns the new value and whether to keep it; returning false
// deletes the key.
func (m *Map[V]) Update(key string, fn func(v V, ok bool) (V, bool)) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.m[key]
	next, keep := fn(cur, ok)
	if keep {
		b.m[key] = next
	} else if ok {
		delete(b.m, key)
	}
}

// View runs fn with the current value for key under the shard lock. fn must
// not retain references to mutable parts of v.
func (m *Map[V]) View(key string, fn func(v V, ok bool)) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.m[key]
	fn(v, ok)
}

// Sweep visits every entry one shard at a time. fn returns the replacement
// value and whether to keep the entry. Sweep returns the number of removed keys.
func (m *Map[V]) Sweep(fn func(key string, v V) (V, bool)) int {
	removed := 0
	for _, b := range m.shards {
		b.mu.Lock()
		for k, v := range b.m {
			next, keep := fn(k, v)
			if !keep {
				delete(b.m, k)
				removed++
				continue
			}
			b.m[k] = next
		}
		b.mu.Unlock()
	}
	return removed
}

// Len returns the number of keys across all shards.
func (m *Map[V]) Len() int {
	n := 0
	for _, b := range m.shards {
		b.mu.Lock()
		n += len(b.m)
		b.mu.Unlock()
	}
	return n
}
