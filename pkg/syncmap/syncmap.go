package syncmap

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Map is a type-safe wrapper around sync.Map that keeps a count of its
// entries.
type Map[K comparable, V any] struct {
	m     sync.Map
	count atomic.Int64
}

// Store stores the value for the key.
func (m *Map[K, V]) Store(key K, value V) {
	if _, loaded := m.m.Swap(key, value); !loaded {
		m.count.Add(1)
	}
}

// Load loads the value for the key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	value, ok := m.m.Load(key)
	if !ok {
		var zero V

		return zero, false
	}

	return value.(V), true
}

// LoadOrStore returns the existing value for the key if present. Otherwise
// it stores and returns the given value. loaded is true if the value was
// already present.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.m.LoadOrStore(key, value)
	if !loaded {
		m.count.Add(1)
	}

	return v.(V), loaded
}

// Delete deletes the value for the key.
func (m *Map[K, V]) Delete(key K) {
	if _, loaded := m.m.LoadAndDelete(key); loaded {
		m.count.Add(-1)
	}
}

// Range calls f for each entry until f returns false.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Count returns the number of entries.
func (m *Map[K, V]) Count() int {
	return int(m.count.Load())
}

// SortedKeys returns every key ordered by less.
func (m *Map[K, V]) SortedKeys(less func(a, b K) bool) []K {
	keys := make([]K, 0, m.Count())

	m.m.Range(func(key, _ any) bool {
		keys = append(keys, key.(K))

		return true
	})

	sort.Slice(keys, func(i, j int) bool {
		return less(keys[i], keys[j])
	})

	return keys
}
