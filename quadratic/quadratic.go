// Package quadratic implements the simpler open-addressing sibling of
// the dense table (spec §4.6, component C6): a single slot array
// probed triangularly ((home + i*(i+1)/2) mod capacity, the same
// formula internal/probe applies at group granularity) with
// tombstones marking deleted slots, and no back-shift on removal.
package quadratic

import (
	"github.com/loframe/swissmap/hasher"
	"github.com/loframe/swissmap/internal/probe"
	"github.com/loframe/swissmap/swisserr"
)

const minCapacity = 16

type slotState uint8

const (
	stateEmpty slotState = iota
	stateLive
	stateTombstone
)

type Table[K comparable, V any] struct {
	state []slotState
	keys  []K
	vals  []V

	capacity   uint32
	mask       uint32
	shift      uint8
	loadFact   float64
	live       uint32
	tombstones uint32

	h hasher.Hasher[K]
}

// Option configures a Table at construction time.
type Option[K comparable, V any] func(*config[K, V])

type config[K comparable, V any] struct {
	hasher     hasher.Hasher[K]
	loadFactor float64
}

// WithHasher overrides the default Hasher used for keys.
func WithHasher[K comparable, V any](h hasher.Hasher[K]) Option[K, V] {
	return func(c *config[K, V]) { c.hasher = h }
}

// WithLoadFactor overrides the default 0.7 load factor.
func WithLoadFactor[K comparable, V any](lf float64) Option[K, V] {
	return func(c *config[K, V]) { c.loadFactor = lf }
}

// New constructs a Table with capacity as a lower-bound hint, rounded
// up to the next power of two with a floor of 16.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Table[K, V] {
	cfg := config[K, V]{hasher: hasher.New[K](), loadFactor: 0.7}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.loadFactor <= 0 || cfg.loadFactor > 0.9 {
		cfg.loadFactor = 0.7
	}

	cap32 := nextPow2(capacity, minCapacity)
	t := &Table[K, V]{
		capacity: cap32,
		mask:     cap32 - 1,
		shift:    probe.Shift(cap32),
		loadFact: cfg.loadFactor,
		h:        cfg.hasher,
	}
	t.state = make([]slotState, cap32)
	t.keys = make([]K, cap32)
	t.vals = make([]V, cap32)
	return t
}

func nextPow2(hint, floor int) uint32 {
	if hint < floor {
		hint = floor
	}
	n := uint32(1)
	for int(n) < hint {
		n <<= 1
	}
	return n
}

func (t *Table[K, V]) home(h uint32) uint32 {
	return probe.Home(h, t.shift) & t.mask
}

// maxLiveBeforeResize is the load-factor threshold. Emplace doubles
// the capacity once live entries reach it, as the dense table does,
// and otherwise sweeps tombstones with a same-capacity rehash once
// live entries plus tombstones reach it, preventing unbounded
// probe-chain growth from a tombstone buildup.
func (t *Table[K, V]) maxLiveBeforeResize() uint32 {
	return uint32(float64(t.capacity) * t.loadFact)
}

// Emplace inserts (k, v) if absent, or updates the value if present.
// Returns true iff k already existed.
func (t *Table[K, V]) Emplace(k K, v V) (existed bool) {
	defer swisserr.GuardUserPanic(func() {})
	if t.live >= t.maxLiveBeforeResize() {
		t.rehash(t.capacity * 2)
	} else if t.live+t.tombstones >= t.maxLiveBeforeResize() {
		t.rehash(t.capacity)
	}
	return t.emplace(k, v)
}

func (t *Table[K, V]) emplace(k K, v V) bool {
	h := t.h.ComputeHash(k)
	home := t.home(h)
	firstTombstone := int64(-1)

	var i uint32
	for {
		idx := (home + i*(i+1)/2) & t.mask
		switch t.state[idx] {
		case stateEmpty:
			target := idx
			if firstTombstone >= 0 {
				target = uint32(firstTombstone)
				t.tombstones--
			}
			t.keys[target] = k
			t.vals[target] = v
			t.state[target] = stateLive
			t.live++
			return false
		case stateTombstone:
			if firstTombstone < 0 {
				firstTombstone = int64(idx)
			}
		case stateLive:
			if t.h.Equal(t.keys[idx], k) {
				t.vals[idx] = v
				return true
			}
		}
		i++
		if i >= t.capacity {
			// Full cycle with no empty slot: every slot is live or
			// tombstoned. Force a same-size compaction to clear
			// tombstones, then retry.
			t.rehash(t.capacity)
			return t.emplace(k, v)
		}
	}
}

// find returns the slot index holding k, or ok=false.
func (t *Table[K, V]) find(k K) (idx uint32, ok bool) {
	h := t.h.ComputeHash(k)
	home := t.home(h)
	var i uint32
	for i < t.capacity {
		idx := (home + i*(i+1)/2) & t.mask
		switch t.state[idx] {
		case stateEmpty:
			return 0, false
		case stateLive:
			if t.h.Equal(t.keys[idx], k) {
				return idx, true
			}
		}
		i++
	}
	return 0, false
}

// Get returns the value for k and true if present.
func (t *Table[K, V]) Get(k K) (v V, ok bool) {
	defer swisserr.GuardUserPanic(func() {})
	idx, found := t.find(k)
	if !found {
		var zero V
		return zero, false
	}
	return t.vals[idx], true
}

// Contains reports whether k is present.
func (t *Table[K, V]) Contains(k K) bool {
	_, ok := t.Get(k)
	return ok
}

// Update sets the value for an existing key. Returns
// swisserr.ErrKeyNotFound if absent.
func (t *Table[K, V]) Update(k K, v V) error {
	defer swisserr.GuardUserPanic(func() {})
	idx, ok := t.find(k)
	if !ok {
		return swisserr.ErrKeyNotFound
	}
	t.vals[idx] = v
	return nil
}

// GetOrInsertDefault returns a pointer to k's value, inserting a zero
// value first if absent. Valid until the next mutation.
func (t *Table[K, V]) GetOrInsertDefault(k K) *V {
	if idx, ok := t.find(k); ok {
		return &t.vals[idx]
	}
	t.Emplace(k, *new(V))
	idx, ok := t.find(k)
	if !ok {
		panic("quadratic: GetOrInsertDefault invariant violated: key vanished after insert")
	}
	return &t.vals[idx]
}

// Remove marks k's slot as a tombstone. Returns true iff k was
// present. Unlike robinhood.Remove there is no back-shift: tombstones
// are reused by later inserts and cleared by Emplace's threshold
// rehash, by Compact, or by the next full-cycle rehash.
func (t *Table[K, V]) Remove(k K) bool {
	defer swisserr.GuardUserPanic(func() {})
	idx, ok := t.find(k)
	if !ok {
		return false
	}
	var zk K
	var zv V
	t.keys[idx] = zk
	t.vals[idx] = zv
	t.state[idx] = stateTombstone
	t.live--
	t.tombstones++
	return true
}

// Len returns the number of live entries.
func (t *Table[K, V]) Len() int { return int(t.live) }

// Capacity returns the slot count.
func (t *Table[K, V]) Capacity() int { return int(t.capacity) }

// Clear removes all entries without shrinking capacity.
func (t *Table[K, V]) Clear() {
	for i := range t.state {
		t.state[i] = stateEmpty
	}
	var zk K
	var zv V
	for i := range t.keys {
		t.keys[i] = zk
		t.vals[i] = zv
	}
	t.live = 0
	t.tombstones = 0
}

// Compact rehashes in place at the current capacity, clearing all
// tombstones without growing.
func (t *Table[K, V]) Compact() {
	t.rehash(t.capacity)
}

func (t *Table[K, V]) rehash(newCapacity uint32) {
	oldKeys, oldVals, oldState := t.keys, t.vals, t.state

	t.capacity = newCapacity
	t.mask = newCapacity - 1
	t.shift = probe.Shift(newCapacity)
	t.state = make([]slotState, newCapacity)
	t.keys = make([]K, newCapacity)
	t.vals = make([]V, newCapacity)
	t.live = 0
	t.tombstones = 0

	for i, s := range oldState {
		if s == stateLive {
			t.emplace(oldKeys[i], oldVals[i])
		}
	}
}

// Stats reports point-in-time occupancy for diagnostics.
type Stats struct {
	Size       int
	Capacity   int
	Tombstones int
}

func (t *Table[K, V]) Stats() Stats {
	return Stats{Size: int(t.live), Capacity: int(t.capacity), Tombstones: int(t.tombstones)}
}

// Iterator is a lazy, restartable, single-pass cursor over a Table's
// live entries in unspecified order.
type Iterator[K comparable, V any] struct {
	t   *Table[K, V]
	idx int
}

// Iter starts a new Iterator.
func (t *Table[K, V]) Iter() *Iterator[K, V] {
	return &Iterator[K, V]{t: t, idx: -1}
}

// Next advances to the next live entry.
func (it *Iterator[K, V]) Next() (k K, v V, ok bool) {
	for it.idx+1 < len(it.t.state) {
		it.idx++
		if it.t.state[it.idx] == stateLive {
			return it.t.keys[it.idx], it.t.vals[it.idx], true
		}
	}
	var zk K
	var zv V
	return zk, zv, false
}
