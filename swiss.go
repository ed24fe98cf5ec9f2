// Package swiss implements the SIMD dense table (spec §4.4, component
// C4): a single-threaded, open-addressing hash table using a
// byte-wide metadata array scanned 16 slots at a time via
// internal/group's SWAR matching, triangular quadratic probing across
// groups (internal/probe), Fibonacci index mixing, and a size-adaptive
// tombstone rehash.
//
// Grounded on the teacher's map.go (thepudds-swisstable), generalized
// from its hardcoded int64 Key/int64 Value to Go generics, and
// extended with tombstones/resize/rehash per spec §4.4.1–§4.4.3
// (which the teacher's map.go left as TODOs).
package swiss

import (
	"github.com/loframe/swissmap/hasher"
	"github.com/loframe/swissmap/internal/group"
	"github.com/loframe/swissmap/internal/probe"
	"github.com/loframe/swissmap/swisserr"
)

const (
	minCapacity = 16
	maxLoad     = 0.9
)

// Map is the SIMD dense table. Zero value is not usable; construct
// with New.
type Map[K comparable, V any] struct {
	ctrl  []byte // len = capacity + group.Size guard region
	keys  []K
	vals  []V

	capacity  uint32 // power of two, >= minCapacity
	mask      uint32 // capacity/group.Size - 1 (group-count mask)
	shift     uint8
	loadFact  float64
	live      uint32
	tombstone uint32

	h hasher.Hasher[K]
}

// Option configures a Map at construction time.
type Option[K comparable, V any] func(*mapConfig[K, V])

type mapConfig[K comparable, V any] struct {
	hasher     hasher.Hasher[K]
	loadFactor float64
}

// WithHasher overrides the default Hasher used for keys.
func WithHasher[K comparable, V any](h hasher.Hasher[K]) Option[K, V] {
	return func(c *mapConfig[K, V]) { c.hasher = h }
}

// WithLoadFactor overrides the default 0.875 load factor. Values
// outside (0, 0.9] are clamped into range per spec §6.
func WithLoadFactor[K comparable, V any](lf float64) Option[K, V] {
	return func(c *mapConfig[K, V]) { c.loadFactor = lf }
}

// New constructs a Map with capacity as a lower-bound hint: it is
// rounded up to the next power of two, with a floor of 16 (spec §6).
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Map[K, V] {
	cfg := mapConfig[K, V]{
		hasher:     hasher.New[K](),
		loadFactor: 0.875,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.loadFactor <= 0 || cfg.loadFactor > maxLoad {
		cfg.loadFactor = maxLoad
	}

	cap32 := nextPow2(capacity, minCapacity)
	numGroups := cap32 / group.Size
	if numGroups == 0 {
		numGroups = 1
	}

	m := &Map[K, V]{
		capacity: cap32,
		mask:     numGroups - 1,
		shift:    probe.Shift(numGroups),
		loadFact: cfg.loadFactor,
		h:        cfg.hasher,
	}
	m.allocate(cap32)
	return m
}

func (m *Map[K, V]) allocate(capacity uint32) {
	m.ctrl = make([]byte, int(capacity)+group.Size)
	for i := range m.ctrl {
		m.ctrl[i] = group.Empty
	}
	m.keys = make([]K, capacity)
	m.vals = make([]V, capacity)
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

func (m *Map[K, V]) maxLiveBeforeResize() uint32 {
	return uint32(float64(m.capacity) * m.loadFact)
}

// tombstoneBudget implements spec §4.4.2: small tables tolerate
// relatively more tombstones before their lookup paths degrade; the
// weight decays from 3.0 at capacity <= 16 to 1.0 above 2048.
func (m *Map[K, V]) tombstoneBudget() uint32 {
	const base = 0.125
	var weight float64
	switch {
	case m.capacity <= 16:
		weight = 3.0
	case m.capacity <= 64:
		weight = 2.5
	case m.capacity <= 256:
		weight = 2.0
	case m.capacity <= 1024:
		weight = 1.5
	case m.capacity <= 2048:
		weight = 1.2
	default:
		weight = 1.0
	}
	frac := 1 - m.loadFact/float64(m.capacity)
	budget := base * float64(m.capacity) * weight * frac
	if budget < 1 {
		budget = 1
	}
	return uint32(budget)
}

func (m *Map[K, V]) fingerprint(h uint32) byte {
	return byte(h & group.FingerprintMask)
}

func (m *Map[K, V]) numGroups() uint32 {
	return m.mask + 1
}

func (m *Map[K, V]) groupCtrl(g uint32) group.Ctrl {
	return group.Load(m.ctrl[int(g)*group.Size:])
}

// Emplace inserts (k, v) if k is absent, or updates the value if k is
// present. Returns true if the key already existed (update), false on
// a fresh insertion — spec §9's Open Question is resolved this way:
// the "return value" naming reads naturally for both Go idioms
// (compare os.MkdirAll-style "already existed" booleans), and the
// property suite (spec §8) pins this variant.
func (m *Map[K, V]) Emplace(k K, v V) (existed bool) {
	h := m.h.ComputeHash(k)
	fp := m.fingerprint(h)
	seq := probe.NewSequence(h, m.shift, m.numGroups())

	var firstReusable int32 = -1
	defer swisserr.GuardUserPanic(func() {})

	for {
		g := seq.Group()
		ctrl := m.groupCtrl(g)

		matches := group.MatchByte(ctrl, fp)
		for matches != 0 {
			idx := int(g)*group.Size + matches.First()
			matches = matches.Clear()
			if m.h.Equal(m.keys[idx], k) {
				m.vals[idx] = v
				return true
			}
		}

		if firstReusable < 0 {
			if ts := group.MatchTombstone(ctrl); ts != 0 {
				firstReusable = int32(int(g)*group.Size + ts.First())
			}
		}

		if empties := group.MatchEmpty(ctrl); empties != 0 {
			var target int
			if firstReusable >= 0 {
				target = int(firstReusable)
				m.tombstone--
			} else {
				target = int(g)*group.Size + empties.First()
			}
			m.keys[target] = k
			m.vals[target] = v
			m.ctrl[target] = fp
			m.live++
			if m.live > m.maxLiveBeforeResize() {
				m.grow()
			}
			return false
		}

		seq.Next()
	}
}

// Get returns the value for k and true if present.
func (m *Map[K, V]) Get(k K) (v V, ok bool) {
	defer swisserr.GuardUserPanic(func() {})
	h := m.h.ComputeHash(k)
	fp := m.fingerprint(h)
	seq := probe.NewSequence(h, m.shift, m.numGroups())

	for {
		g := seq.Group()
		ctrl := m.groupCtrl(g)

		matches := group.MatchByte(ctrl, fp)
		for matches != 0 {
			idx := int(g)*group.Size + matches.First()
			matches = matches.Clear()
			if m.h.Equal(m.keys[idx], k) {
				return m.vals[idx], true
			}
		}

		if group.AnyEmpty(ctrl) {
			var zero V
			return zero, false
		}
		seq.Next()
	}
}

// Contains reports whether k is present.
func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.Get(k)
	return ok
}

// Update sets the value for an existing key k. Returns
// swisserr.ErrKeyNotFound if k is absent; it never inserts.
func (m *Map[K, V]) Update(k K, v V) error {
	defer swisserr.GuardUserPanic(func() {})
	h := m.h.ComputeHash(k)
	fp := m.fingerprint(h)
	seq := probe.NewSequence(h, m.shift, m.numGroups())

	for {
		g := seq.Group()
		ctrl := m.groupCtrl(g)

		matches := group.MatchByte(ctrl, fp)
		for matches != 0 {
			idx := int(g)*group.Size + matches.First()
			matches = matches.Clear()
			if m.h.Equal(m.keys[idx], k) {
				m.vals[idx] = v
				return nil
			}
		}
		if group.AnyEmpty(ctrl) {
			return swisserr.ErrKeyNotFound
		}
		seq.Next()
	}
}

// GetOrInsertDefault returns a pointer to k's value, inserting a zero
// value first if k was absent. The pointer is valid until the next
// mutation of the table (a resize or rehash may relocate storage).
func (m *Map[K, V]) GetOrInsertDefault(k K) *V {
	defer swisserr.GuardUserPanic(func() {})
	h := m.h.ComputeHash(k)
	fp := m.fingerprint(h)
	seq := probe.NewSequence(h, m.shift, m.numGroups())

	var firstReusable int32 = -1
	for {
		g := seq.Group()
		ctrl := m.groupCtrl(g)

		matches := group.MatchByte(ctrl, fp)
		for matches != 0 {
			idx := int(g)*group.Size + matches.First()
			matches = matches.Clear()
			if m.h.Equal(m.keys[idx], k) {
				return &m.vals[idx]
			}
		}

		if firstReusable < 0 {
			if ts := group.MatchTombstone(ctrl); ts != 0 {
				firstReusable = int32(int(g)*group.Size + ts.First())
			}
		}

		if empties := group.MatchEmpty(ctrl); empties != 0 {
			var target int
			if firstReusable >= 0 {
				target = int(firstReusable)
				m.tombstone--
			} else {
				target = int(g)*group.Size + empties.First()
			}
			var zero V
			m.keys[target] = k
			m.vals[target] = zero
			m.ctrl[target] = fp
			m.live++
			if m.live >= m.maxLiveBeforeResize() {
				m.grow()
				// storage moved: re-find the slot in the new table.
				return m.GetOrInsertDefault(k)
			}
			return &m.vals[target]
		}
		seq.Next()
	}
}

// Remove deletes k. Returns true iff k was present.
func (m *Map[K, V]) Remove(k K) bool {
	defer swisserr.GuardUserPanic(func() {})
	h := m.h.ComputeHash(k)
	fp := m.fingerprint(h)
	seq := probe.NewSequence(h, m.shift, m.numGroups())

	for {
		g := seq.Group()
		ctrl := m.groupCtrl(g)

		matches := group.MatchByte(ctrl, fp)
		for matches != 0 {
			idx := int(g)*group.Size + matches.First()
			matches = matches.Clear()
			if m.h.Equal(m.keys[idx], k) {
				var zeroK K
				var zeroV V
				m.ctrl[idx] = group.Tombstone
				m.keys[idx] = zeroK
				m.vals[idx] = zeroV
				m.live--
				m.tombstone++
				if m.tombstone >= m.tombstoneBudget() {
					m.rehash()
				}
				return true
			}
		}
		if group.AnyEmpty(ctrl) {
			return false
		}
		seq.Next()
	}
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int { return int(m.live) }

// Capacity returns the current slot capacity.
func (m *Map[K, V]) Capacity() int { return int(m.capacity) }

// Clear removes all entries without shrinking capacity.
func (m *Map[K, V]) Clear() {
	for i := range m.ctrl {
		m.ctrl[i] = group.Empty
	}
	var zeroK K
	var zeroV V
	for i := range m.keys {
		m.keys[i] = zeroK
		m.vals[i] = zeroV
	}
	m.live = 0
	m.tombstone = 0
}

// grow doubles capacity (spec §4.4.1) and reinserts every live slot,
// skipping key-equality checks since keys are known unique.
func (m *Map[K, V]) grow() {
	m.rebuild(m.capacity * 2)
}

// rehash performs an in-place tombstone sweep (spec §4.4.3): same
// procedure as grow but capacity is unchanged.
func (m *Map[K, V]) rehash() {
	m.rebuild(m.capacity)
}

func (m *Map[K, V]) rebuild(newCapacity uint32) {
	oldKeys, oldVals, oldCtrl := m.keys, m.vals, m.ctrl
	oldCapacity := m.capacity

	m.capacity = newCapacity
	numGroups := newCapacity / group.Size
	if numGroups == 0 {
		numGroups = 1
	}
	m.mask = numGroups - 1
	m.shift = probe.Shift(numGroups)
	m.allocate(newCapacity)
	m.tombstone = 0

	for i := uint32(0); i < oldCapacity; i++ {
		if !group.IsLive(oldCtrl[i]) {
			continue
		}
		m.uncheckedInsert(oldKeys[i], oldVals[i])
	}
}

// uncheckedInsert inserts a key known to be absent and unique,
// skipping the equality-comparison phase of Emplace. Used only during
// grow/rehash, where every source slot is already known-live-unique.
func (m *Map[K, V]) uncheckedInsert(k K, v V) {
	h := m.h.ComputeHash(k)
	fp := m.fingerprint(h)
	seq := probe.NewSequence(h, m.shift, m.numGroups())

	for {
		g := seq.Group()
		ctrl := m.groupCtrl(g)
		if empties := group.MatchEmpty(ctrl); empties != 0 {
			target := int(g)*group.Size + empties.First()
			m.keys[target] = k
			m.vals[target] = v
			m.ctrl[target] = fp
			return
		}
		seq.Next()
	}
}

// Compact performs an explicit, caller-triggered tombstone sweep
// (see SPEC_FULL.md §3), useful when a caller knows it just finished
// a remove-heavy phase and wants to pay the rehash cost up front
// rather than on the next resize-triggering insert.
func (m *Map[K, V]) Compact() {
	if m.tombstone == 0 {
		return
	}
	m.rehash()
}

// Stats reports point-in-time occupancy for diagnostics.
type Stats struct {
	Size                    int
	Capacity                int
	Tombstones              int
	TombstonesCapacityRatio float64
}

func (m *Map[K, V]) Stats() Stats {
	var ratio float64
	if m.capacity > 0 {
		ratio = float64(m.tombstone) / float64(m.capacity)
	}
	return Stats{
		Size:                    int(m.live),
		Capacity:                int(m.capacity),
		Tombstones:              int(m.tombstone),
		TombstonesCapacityRatio: ratio,
	}
}

// IndexOf returns the internal slot index holding k, and true if k is
// present. Optional per spec §9; useful for debugging alongside the
// DebugString dump in debug.go.
func (m *Map[K, V]) IndexOf(k K) (int, bool) {
	defer swisserr.GuardUserPanic(func() {})
	h := m.h.ComputeHash(k)
	fp := m.fingerprint(h)
	seq := probe.NewSequence(h, m.shift, m.numGroups())

	for {
		g := seq.Group()
		ctrl := m.groupCtrl(g)
		matches := group.MatchByte(ctrl, fp)
		for matches != 0 {
			idx := int(g)*group.Size + matches.First()
			matches = matches.Clear()
			if m.h.Equal(m.keys[idx], k) {
				return idx, true
			}
		}
		if group.AnyEmpty(ctrl) {
			return 0, false
		}
		seq.Next()
	}
}
