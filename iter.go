package swiss

import "github.com/loframe/swissmap/internal/group"

// Iterator is a lazy, restartable, single-pass cursor over a Map's
// live entries, in unspecified (commonly reverse slot index) order.
// It is invalidated by any mutation of the underlying table — per
// spec §4.10, behavior is undefined if the table changes mid-iteration.
type Iterator[K comparable, V any] struct {
	m   *Map[K, V]
	idx int
}

// Iter starts a new Iterator positioned before the first live entry.
func (m *Map[K, V]) Iter() *Iterator[K, V] {
	return &Iterator[K, V]{m: m, idx: int(m.capacity)}
}

// Next advances to the next live entry and returns it, or ok=false
// once the table is exhausted.
func (it *Iterator[K, V]) Next() (k K, v V, ok bool) {
	for it.idx > 0 {
		it.idx--
		if group.IsLive(it.m.ctrl[it.idx]) {
			return it.m.keys[it.idx], it.m.vals[it.idx], true
		}
	}
	var zeroK K
	var zeroV V
	return zeroK, zeroV, false
}

// Keys returns a lazy sequence of keys. Consume with:
//
//	for k := range m.Keys() { ... }
func (m *Map[K, V]) Keys() func(yield func(K) bool) {
	return func(yield func(K) bool) {
		it := m.Iter()
		for {
			k, _, ok := it.Next()
			if !ok {
				return
			}
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns a lazy sequence of values.
func (m *Map[K, V]) Values() func(yield func(V) bool) {
	return func(yield func(V) bool) {
		it := m.Iter()
		for {
			_, v, ok := it.Next()
			if !ok {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Entry is a single (key, value) pair yielded by Entries.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Entries returns a lazy sequence of (key, value) pairs.
func (m *Map[K, V]) Entries() func(yield func(Entry[K, V]) bool) {
	return func(yield func(Entry[K, V]) bool) {
		it := m.Iter()
		for {
			k, v, ok := it.Next()
			if !ok {
				return
			}
			if !yield(Entry[K, V]{Key: k, Value: v}) {
				return
			}
		}
	}
}
