// Package cmap implements the concurrent map (spec §1.2, components
// C8 slot state machine and C9 resize controller): a lock-free/striped
// table supporting arbitrary concurrent readers and writers without
// external locking, built on the same Fibonacci-mixing and triangular
// probing discipline as the single-threaded tables (internal/probe)
// and a cooperative grow-and-drain resize protocol.
//
// Each slot carries an atomic state word (EMPTY, CLAIMED, LIVE,
// TOMBSTONE, or MIGRATED, packed with a 7-bit fingerprint) plus an
// atomic pointer to an immutable key/value entry, so a value-only
// update is a single release-store of a new entry rather than an
// in-place mutation — readers never observe a torn value. Resize
// installs a double-capacity successor behind a CAS on Table.next;
// an insert (Emplace, GetOrCompute) that finds a successor in flight
// helps migrate a bounded quantum of slots before proceeding, while
// Get, Update and Remove follow Table.next when they meet a MIGRATED
// slot, so no caller ever blocks on a resize in progress. Reclamation of a drained
// predecessor table needs no hazard pointers or epochs: once
// Map.cur stops pointing at it and the last goroutine holding a
// local reference returns, the garbage collector reclaims it.
package cmap

import (
	"sync/atomic"

	"github.com/loframe/swissmap/counter"
	"github.com/loframe/swissmap/hasher"
	"github.com/loframe/swissmap/internal/probe"
	"github.com/loframe/swissmap/swisserr"
)

const minCapacity = 16

// migrationQuantum bounds the number of slots a single operation
// drains from a predecessor table before proceeding with its own
// work, the "bounded quantum (e.g., one group)" of spec §4.9.
const migrationQuantum = 16

type slotState uint32

const (
	stateEmpty slotState = iota
	stateClaimed
	stateLive
	stateTombstone
	stateMigrated
)

func pack(st slotState, fingerprint uint8) uint32 {
	return uint32(st) | uint32(fingerprint)<<8
}

func unpack(word uint32) (slotState, uint8) {
	return slotState(word & 0xFF), uint8(word >> 8)
}

// entry is immutable once published: a value-only update replaces the
// pointer wholesale rather than mutating fields in place.
type entry[K comparable, V any] struct {
	key K
	val V
}

type slot[K comparable, V any] struct {
	state atomic.Uint32
	e     atomic.Pointer[entry[K, V]]
}

// Table is one generation of the concurrent map's backing array.
type Table[K comparable, V any] struct {
	slots    []slot[K, V]
	capacity uint32
	shift    uint8
	loadFact float64
	h        hasher.Hasher[K]
	owner    *Map[K, V]

	live          *counter.Counter
	tombstones    *counter.Counter
	next          atomic.Pointer[Table[K, V]]
	migrateCursor atomic.Uint32
}

func newTable[K comparable, V any](capacity uint32, loadFact float64, h hasher.Hasher[K], owner *Map[K, V]) *Table[K, V] {
	return &Table[K, V]{
		slots:      make([]slot[K, V], capacity),
		capacity:   capacity,
		shift:      probe.Shift(capacity),
		loadFact:   loadFact,
		h:          h,
		owner:      owner,
		live:       counter.New(),
		tombstones: counter.New(),
	}
}

// Map is the public handle: a pointer to the current generation that
// resize promotes atomically once draining completes.
type Map[K comparable, V any] struct {
	cur atomic.Pointer[Table[K, V]]
}

// Option configures a Map at construction time.
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

// New constructs a Map with capacity as a lower-bound hint, rounded up
// to the next power of two with a floor of 16.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Map[K, V] {
	cfg := config[K, V]{hasher: hasher.New[K](), loadFactor: 0.7}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.loadFactor <= 0 || cfg.loadFactor > 0.9 {
		cfg.loadFactor = 0.7
	}

	m := &Map[K, V]{}
	t := newTable[K, V](nextPow2(capacity, minCapacity), cfg.loadFactor, cfg.hasher, m)
	m.cur.Store(t)
	return m
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

func (m *Map[K, V]) current() *Table[K, V] { return m.cur.Load() }

// Len returns the approximate live-entry count of the current
// generation. Exact once all in-flight writers quiesce (spec §4.7).
func (m *Map[K, V]) Len() int { return int(m.current().live.Sum()) }

// Capacity returns the slot count of the current generation.
func (m *Map[K, V]) Capacity() int { return int(m.current().capacity) }

// Emplace inserts (k, v) if absent, or updates the value if present.
// Returns true iff k already existed. Lock-free: never blocks on a
// resize, though it may loop helping one complete.
func (m *Map[K, V]) Emplace(k K, v V) (existed bool) {
	defer swisserr.GuardUserPanic(func() {})
	for {
		t := m.current()
		if nxt := t.next.Load(); nxt != nil {
			t.helpMigrate(migrationQuantum)
			continue
		}
		if t.shouldGrow() {
			t.triggerResize()
			continue
		}
		existed, done := t.tryEmplace(k, v)
		if done {
			return existed
		}
	}
}

// Get returns the value for k and true if present.
func (m *Map[K, V]) Get(k K) (v V, ok bool) {
	defer swisserr.GuardUserPanic(func() {})
	t := m.current()
	for {
		v, ok, done := t.tryGet(k)
		if done {
			return v, ok
		}
		if nxt := t.next.Load(); nxt != nil {
			t = nxt
			continue
		}
	}
}

// Contains reports whether k is present.
func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.Get(k)
	return ok
}

// Update sets the value for an existing key. Returns
// swisserr.ErrKeyNotFound if absent.
func (m *Map[K, V]) Update(k K, v V) error {
	defer swisserr.GuardUserPanic(func() {})
	t := m.current()
	for {
		found, done := t.tryUpdate(k, v)
		if done {
			if !found {
				return swisserr.ErrKeyNotFound
			}
			return nil
		}
		if nxt := t.next.Load(); nxt != nil {
			t = nxt
			continue
		}
	}
}

// Remove deletes k. Returns true iff k was present.
func (m *Map[K, V]) Remove(k K) bool {
	defer swisserr.GuardUserPanic(func() {})
	t := m.current()
	for {
		removed, done := t.tryRemove(k)
		if done {
			return removed
		}
		if nxt := t.next.Load(); nxt != nil {
			t = nxt
			continue
		}
	}
}

// GetOrCompute returns the existing value for k, or installs and
// returns compute()'s result if absent. compute may run more than
// once under contention; only one result is kept. This is the
// closure-based alternative to a borrowed reference (spec §9 Open
// Questions): CMap slot addresses can shift under resize, so no API
// here returns a pointer into the table.
func (m *Map[K, V]) GetOrCompute(k K, compute func() V) (v V, existed bool) {
	defer swisserr.GuardUserPanic(func() {})
	for {
		t := m.current()
		if nxt := t.next.Load(); nxt != nil {
			t.helpMigrate(migrationQuantum)
			continue
		}
		if t.shouldGrow() {
			t.triggerResize()
			continue
		}
		v, existed, done := t.tryGetOrCompute(k, compute)
		if done {
			return v, existed
		}
	}
}

func (t *Table[K, V]) shouldGrow() bool {
	return uint32(t.live.Sum()) >= uint32(float64(t.capacity)*t.loadFact) && t.next.Load() == nil
}

func (t *Table[K, V]) triggerResize() {
	candidate := newTable[K, V](t.capacity*2, t.loadFact, t.h, t.owner)
	t.next.CompareAndSwap(nil, candidate)
}

// tryEmplace scans at most capacity slots. done=false means the
// caller should retry: either a CAS lost a race, the probe crossed
// into a MIGRATED region, or no empty slot was found (unexpected
// under the load-factor trigger, but handled defensively).
func (t *Table[K, V]) tryEmplace(k K, v V) (existed, done bool) {
	h := t.h.ComputeHash(k)
	h2 := uint8(h & 0x7F)
	seq := probe.NewSequence(h, t.shift, t.capacity)

	for i := uint32(0); i < t.capacity; i++ {
		idx := seq.Group()
		s := &t.slots[idx]
		word := s.state.Load()
		st, fp := unpack(word)

		switch st {
		case stateLive:
			if fp == h2 {
				if e := s.e.Load(); e != nil && t.h.Equal(e.key, k) {
					s.e.Store(&entry[K, V]{key: k, val: v})
					st2, fp2 := unpack(s.state.Load())
					if st2 == stateLive && fp2 == h2 {
						return true, true
					}
					// A migrator read this slot's prior entry and
					// relocated it before our store landed: the slot
					// is already MIGRATED, so our update never became
					// visible here. Carry it into the successor.
					if nxt := t.next.Load(); nxt != nil {
						nxt.migrateInsert(k, v)
						return true, true
					}
					return false, false
				}
			}
		case stateEmpty, stateTombstone:
			if st == stateTombstone {
				// k may still be live further along the chain; claiming
				// this tombstone without looking would give k a second
				// slot. tryUpdate finishes the scan and updates in place
				// if k is found.
				found, fin := t.tryUpdate(k, v)
				if !fin {
					return false, false
				}
				if found {
					return true, true
				}
			}
			if s.state.CompareAndSwap(word, pack(stateClaimed, 0)) {
				s.e.Store(&entry[K, V]{key: k, val: v})
				if s.state.CompareAndSwap(pack(stateClaimed, 0), pack(stateLive, h2)) {
					t.live.Add(1)
					return false, true
				}
				// A concurrent migrateSlot observed this slot still
				// CLAIMED — no entry published yet from its point of
				// view — and moved it straight to MIGRATED without
				// reinserting anything. Our entry never became
				// visible in t; publish it into the successor.
				if nxt := t.next.Load(); nxt != nil {
					nxt.migrateInsert(k, v)
					return false, true
				}
				return false, false
			}
			return false, false
		case stateMigrated:
			return false, false
		}
		seq.Next()
	}
	return false, false
}

func (t *Table[K, V]) tryGet(k K) (v V, ok, done bool) {
	h := t.h.ComputeHash(k)
	h2 := uint8(h & 0x7F)
	seq := probe.NewSequence(h, t.shift, t.capacity)

	for i := uint32(0); i < t.capacity; i++ {
		idx := seq.Group()
		s := &t.slots[idx]
		word := s.state.Load()
		st, fp := unpack(word)

		switch st {
		case stateEmpty:
			var zero V
			return zero, false, true
		case stateLive:
			if fp == h2 {
				if e := s.e.Load(); e != nil && t.h.Equal(e.key, k) {
					val := e.val
					st2, fp2 := unpack(s.state.Load())
					if st2 != stateLive || fp2 != h2 {
						var zero V
						return zero, false, false
					}
					return val, true, true
				}
			}
		case stateMigrated:
			var zero V
			return zero, false, false
		}
		seq.Next()
	}
	var zero V
	return zero, false, true
}

func (t *Table[K, V]) tryUpdate(k K, v V) (found, done bool) {
	h := t.h.ComputeHash(k)
	h2 := uint8(h & 0x7F)
	seq := probe.NewSequence(h, t.shift, t.capacity)

	for i := uint32(0); i < t.capacity; i++ {
		idx := seq.Group()
		s := &t.slots[idx]
		word := s.state.Load()
		st, fp := unpack(word)

		switch st {
		case stateEmpty:
			return false, true
		case stateLive:
			if fp == h2 {
				if e := s.e.Load(); e != nil && t.h.Equal(e.key, k) {
					s.e.Store(&entry[K, V]{key: k, val: v})
					st2, fp2 := unpack(s.state.Load())
					if st2 == stateLive && fp2 == h2 {
						return true, true
					}
					if nxt := t.next.Load(); nxt != nil {
						nxt.migrateInsert(k, v)
						return true, true
					}
					return false, false
				}
			}
		case stateMigrated:
			return false, false
		}
		seq.Next()
	}
	return false, true
}

func (t *Table[K, V]) tryRemove(k K) (removed, done bool) {
	h := t.h.ComputeHash(k)
	h2 := uint8(h & 0x7F)
	seq := probe.NewSequence(h, t.shift, t.capacity)

	for i := uint32(0); i < t.capacity; i++ {
		idx := seq.Group()
		s := &t.slots[idx]
		word := s.state.Load()
		st, fp := unpack(word)

		switch st {
		case stateEmpty:
			return false, true
		case stateLive:
			if fp == h2 {
				if e := s.e.Load(); e != nil && t.h.Equal(e.key, k) {
					if s.state.CompareAndSwap(word, pack(stateTombstone, 0)) {
						s.e.Store(nil)
						t.live.Add(-1)
						t.tombstones.Add(1)
						return true, true
					}
					return false, false
				}
			}
		case stateMigrated:
			return false, false
		}
		seq.Next()
	}
	return false, true
}

func (t *Table[K, V]) tryGetOrCompute(k K, compute func() V) (v V, existed, done bool) {
	h := t.h.ComputeHash(k)
	h2 := uint8(h & 0x7F)
	seq := probe.NewSequence(h, t.shift, t.capacity)

	for i := uint32(0); i < t.capacity; i++ {
		idx := seq.Group()
		s := &t.slots[idx]
		word := s.state.Load()
		st, fp := unpack(word)

		switch st {
		case stateLive:
			if fp == h2 {
				if e := s.e.Load(); e != nil && t.h.Equal(e.key, k) {
					return e.val, true, true
				}
			}
		case stateEmpty, stateTombstone:
			if st == stateTombstone {
				// As in tryEmplace: k may still be live further along.
				cur, found, fin := t.tryGet(k)
				if !fin {
					var zero V
					return zero, false, false
				}
				if found {
					return cur, true, true
				}
			}
			if s.state.CompareAndSwap(word, pack(stateClaimed, 0)) {
				nv := compute()
				s.e.Store(&entry[K, V]{key: k, val: nv})
				if s.state.CompareAndSwap(pack(stateClaimed, 0), pack(stateLive, h2)) {
					t.live.Add(1)
					return nv, false, true
				}
				// Lost the publish to a concurrent migrator, same as
				// tryEmplace: the computed value never became visible
				// here, so hand it to the successor instead.
				if nxt := t.next.Load(); nxt != nil {
					nxt.migrateInsert(k, nv)
					return nv, false, true
				}
				var zero V
				return zero, false, false
			}
			var zero V
			return zero, false, false
		case stateMigrated:
			var zero V
			return zero, false, false
		}
		seq.Next()
	}
	var zero V
	return zero, false, false
}

// helpMigrate claims and drains up to quantum slots from t into its
// successor, per spec §4.9's cooperative grow-and-drain: CAS
// LIVE→MIGRATED, reinsert into the successor, then promote the
// successor to current once every slot has been claimed.
func (t *Table[K, V]) helpMigrate(quantum uint32) {
	nxt := t.next.Load()
	if nxt == nil {
		return
	}
	if t.migrateCursor.Load() >= t.capacity {
		t.tryPromote(nxt)
		return
	}

	start := t.migrateCursor.Add(quantum) - quantum
	if start >= t.capacity {
		t.tryPromote(nxt)
		return
	}
	end := start + quantum
	if end > t.capacity {
		end = t.capacity
	}

	for idx := start; idx < end; idx++ {
		t.migrateSlot(idx, nxt)
	}
	if end >= t.capacity {
		t.tryPromote(nxt)
	}
}

func (t *Table[K, V]) migrateSlot(idx uint32, nxt *Table[K, V]) {
	s := &t.slots[idx]
	for {
		word := s.state.Load()
		st, _ := unpack(word)
		if st == stateMigrated {
			return
		}
		if st != stateLive {
			if s.state.CompareAndSwap(word, pack(stateMigrated, 0)) {
				return
			}
			continue
		}
		e := s.e.Load()
		if s.state.CompareAndSwap(word, pack(stateMigrated, 0)) {
			if e != nil {
				nxt.migrateInsert(e.key, e.val)
			}
			return
		}
	}
}

func (t *Table[K, V]) tryPromote(nxt *Table[K, V]) {
	t.owner.cur.CompareAndSwap(t, nxt)
}

// migrateInsert installs (k, v) into the successor table, whether the
// caller is migrateSlot relocating an entry from the predecessor or a
// writer on the predecessor forwarding an insert/update that lost a
// publish race against a migrator (see tryEmplace, tryUpdate,
// tryGetOrCompute). It always goes through the normal duplicate-aware
// insert-or-update path rather than assuming the key is absent, since
// both call sites can legitimately race to place the same key.
func (t *Table[K, V]) migrateInsert(k K, v V) {
	for {
		if nxt := t.next.Load(); nxt != nil {
			t.helpMigrate(migrationQuantum)
			continue
		}
		if t.shouldGrow() {
			t.triggerResize()
			continue
		}
		if _, done := t.tryEmplace(k, v); done {
			return
		}
	}
}
