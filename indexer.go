package swiss

import "github.com/loframe/swissmap/swisserr"

// Index is the indexer-read form of spec §6 ("map[key]"): returns the
// value for k, or swisserr.ErrKeyNotFound if absent.
func (m *Map[K, V]) Index(k K) (V, error) {
	v, ok := m.Get(k)
	if !ok {
		var zero V
		return zero, swisserr.ErrKeyNotFound
	}
	return v, nil
}

// SetIndex is the indexer-write form of spec §6 ("map[key] = v"):
// updates an existing key's value, or returns swisserr.ErrKeyNotFound
// if absent. Distinct from Emplace, which inserts on absence.
func (m *Map[K, V]) SetIndex(k K, v V) error {
	return m.Update(k, v)
}
