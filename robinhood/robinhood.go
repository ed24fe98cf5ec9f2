// Package robinhood implements the Robin-Hood linear-probing table
// (spec §4.5, component C5): per-slot Probe-Sequence-Length (PSL)
// bookkeeping, back-shift deletion, and the same
// Emplace/Get/Update/Remove/Iterate contract as the SIMD dense table,
// sharing its Fibonacci home-index mixing (internal/probe) but
// replacing grouped SIMD scanning with classic linear probing.
package robinhood

import (
	"github.com/loframe/swissmap/hasher"
	"github.com/loframe/swissmap/internal/probe"
	"github.com/loframe/swissmap/swisserr"
)

const minCapacity = 16

// psl[i] == 0 means slot i is empty; psl[i] == d+1 means the slot
// holds a live entry at displacement d from its home slot.
type Table[K comparable, V any] struct {
	psl  []uint8
	keys []K
	vals []V

	capacity uint32 // power of two, the addressable (non-tail) range
	mask     uint32
	shift    uint8
	loadFact float64
	live     uint32

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

// WithLoadFactor overrides the default 0.8 load factor.
func WithLoadFactor[K comparable, V any](lf float64) Option[K, V] {
	return func(c *config[K, V]) { c.loadFactor = lf }
}

// New constructs a Table with capacity as a lower-bound hint, rounded
// up to the next power of two with a floor of 16.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Table[K, V] {
	cfg := config[K, V]{hasher: hasher.New[K](), loadFactor: 0.8}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.loadFactor <= 0 || cfg.loadFactor > 0.9 {
		cfg.loadFactor = 0.8
	}

	cap32 := nextPow2(capacity, minCapacity)
	t := &Table[K, V]{
		capacity: cap32,
		mask:     cap32 - 1,
		shift:    probe.Shift(cap32),
		loadFact: cfg.loadFactor,
		h:        cfg.hasher,
	}
	t.allocate(cap32)
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

// maxPSL caps the probe-sequence length and sizes the never-wrapping
// overflow tail: log2(capacity), with a floor so tiny tables still get
// a few slots of headroom.
func maxPSL(capacity uint32) uint32 {
	n := uint32(0)
	for c := capacity; c > 1; c >>= 1 {
		n++
	}
	if n < 4 {
		n = 4
	}
	return n
}

func (t *Table[K, V]) allocate(capacity uint32) {
	tail := maxPSL(capacity)
	total := capacity + tail
	t.psl = make([]uint8, total)
	t.keys = make([]K, total)
	t.vals = make([]V, total)
}

func (t *Table[K, V]) maxLiveBeforeResize() uint32 {
	return uint32(float64(t.capacity) * t.loadFact)
}

func (t *Table[K, V]) home(h uint32) uint32 {
	return probe.Home(h, t.shift) & t.mask
}

// Emplace inserts (k, v) if absent, or updates the value if present.
// Returns true iff k already existed.
func (t *Table[K, V]) Emplace(k K, v V) (existed bool) {
	defer swisserr.GuardUserPanic(func() {})
	return t.emplace(k, v)
}

func (t *Table[K, V]) emplace(k K, v V) bool {
	h := t.h.ComputeHash(k)
	idx := t.home(h)
	var dist uint32
	curKey, curVal := k, v
	checkingOriginal := true

	for {
		if int(idx) >= len(t.psl) || dist > maxPSL(t.capacity) {
			t.grow()
			if checkingOriginal {
				return t.emplace(k, v)
			}
			// k already took a slot via a swap; the entry still being
			// carried is the one it displaced.
			t.emplace(curKey, curVal)
			return false
		}
		p := t.psl[idx]
		if p == 0 {
			t.keys[idx] = curKey
			t.vals[idx] = curVal
			t.psl[idx] = uint8(dist + 1)
			t.live++
			if t.live >= t.maxLiveBeforeResize() {
				t.grow()
			}
			return false
		}
		if checkingOriginal && t.h.Equal(t.keys[idx], k) {
			t.vals[idx] = v
			return true
		}
		existingDist := uint32(p - 1)
		if dist > existingDist {
			t.keys[idx], curKey = curKey, t.keys[idx]
			t.vals[idx], curVal = curVal, t.vals[idx]
			t.psl[idx] = uint8(dist + 1)
			dist = existingDist
			checkingOriginal = false
		}
		idx++
		dist++
	}
}

// Get returns the value for k and true if present.
func (t *Table[K, V]) Get(k K) (v V, ok bool) {
	defer swisserr.GuardUserPanic(func() {})
	h := t.h.ComputeHash(k)
	idx := t.home(h)
	var dist uint32
	for {
		if int(idx) >= len(t.psl) {
			var zero V
			return zero, false
		}
		p := t.psl[idx]
		if p == 0 || uint32(p-1) < dist {
			var zero V
			return zero, false
		}
		if t.h.Equal(t.keys[idx], k) {
			return t.vals[idx], true
		}
		idx++
		dist++
	}
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
	h := t.h.ComputeHash(k)
	idx := t.home(h)
	var dist uint32
	for {
		if int(idx) >= len(t.psl) {
			return swisserr.ErrKeyNotFound
		}
		p := t.psl[idx]
		if p == 0 || uint32(p-1) < dist {
			return swisserr.ErrKeyNotFound
		}
		if t.h.Equal(t.keys[idx], k) {
			t.vals[idx] = v
			return nil
		}
		idx++
		dist++
	}
}

// GetOrInsertDefault returns a pointer to k's value, inserting a zero
// value first if absent. Valid until the next mutation.
func (t *Table[K, V]) GetOrInsertDefault(k K) *V {
	if _, ok := t.Get(k); !ok {
		var zero V
		t.emplace(k, zero)
	}
	h := t.h.ComputeHash(k)
	idx := t.home(h)
	for int(idx) < len(t.psl) {
		if t.psl[idx] != 0 && t.h.Equal(t.keys[idx], k) {
			return &t.vals[idx]
		}
		idx++
	}
	panic("robinhood: GetOrInsertDefault invariant violated: key vanished after insert")
}

// Remove deletes k via back-shift deletion, preserving PSL invariants
// for every entry that follows it in the probe chain. Returns true
// iff k was present.
func (t *Table[K, V]) Remove(k K) bool {
	defer swisserr.GuardUserPanic(func() {})
	h := t.h.ComputeHash(k)
	idx := t.home(h)
	var dist uint32
	for {
		if int(idx) >= len(t.psl) {
			return false
		}
		p := t.psl[idx]
		if p == 0 || uint32(p-1) < dist {
			return false
		}
		if t.h.Equal(t.keys[idx], k) {
			t.backShift(idx)
			t.live--
			return true
		}
		idx++
		dist++
	}
}

func (t *Table[K, V]) backShift(idx uint32) {
	for {
		next := idx + 1
		if int(next) >= len(t.psl) || t.psl[next] <= 1 {
			t.psl[idx] = 0
			var zk K
			var zv V
			t.keys[idx] = zk
			t.vals[idx] = zv
			return
		}
		t.keys[idx] = t.keys[next]
		t.vals[idx] = t.vals[next]
		t.psl[idx] = t.psl[next] - 1
		idx = next
	}
}

// Len returns the number of live entries.
func (t *Table[K, V]) Len() int { return int(t.live) }

// Capacity returns the addressable (non-tail) slot count.
func (t *Table[K, V]) Capacity() int { return int(t.capacity) }

// Clear removes all entries without shrinking capacity.
func (t *Table[K, V]) Clear() {
	for i := range t.psl {
		t.psl[i] = 0
	}
	var zk K
	var zv V
	for i := range t.keys {
		t.keys[i] = zk
		t.vals[i] = zv
	}
	t.live = 0
}

func (t *Table[K, V]) grow() {
	oldKeys, oldVals, oldPSL := t.keys, t.vals, t.psl

	newCapacity := t.capacity * 2
	t.capacity = newCapacity
	t.mask = newCapacity - 1
	t.shift = probe.Shift(newCapacity)
	t.allocate(newCapacity)
	t.live = 0

	for i := range oldPSL {
		if oldPSL[i] == 0 {
			continue
		}
		t.emplace(oldKeys[i], oldVals[i])
	}
}

// Stats reports point-in-time occupancy for diagnostics.
type Stats struct {
	Size     int
	Capacity int
	MaxPSL   int
}

func (t *Table[K, V]) Stats() Stats {
	maxP := 0
	for _, p := range t.psl {
		if int(p) > maxP {
			maxP = int(p)
		}
	}
	return Stats{Size: int(t.live), Capacity: int(t.capacity), MaxPSL: maxP}
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
	for it.idx+1 < len(it.t.psl) {
		it.idx++
		if it.t.psl[it.idx] != 0 {
			return it.t.keys[it.idx], it.t.vals[it.idx], true
		}
	}
	var zk K
	var zv V
	return zk, zv, false
}
