// Package hasher provides the pluggable Hasher contract (spec §4.1,
// component C1) plus default implementations. The core tables depend
// only on this interface; no table computes a hash itself.
package hasher

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dolthub/maphash"
)

// Hasher produces a 32-bit hash and an equality test for keys of type
// K. ComputeHash must be pure, deterministic, and thread-safe. Equal
// must be reflexive, symmetric, and transitive, and consistent with
// ComputeHash: Equal(a, b) implies ComputeHash(a) == ComputeHash(b).
//
// Neither method carries any strength guarantee — this is a container
// hash, not a cryptographic one.
type Hasher[K any] interface {
	ComputeHash(k K) uint32
	Equal(a, b K) bool
}

// fold64 compresses a 64-bit hash down to 32 bits by xor-folding the
// halves, which preserves more entropy than a truncation.
func fold64(h uint64) uint32 {
	return uint32(h) ^ uint32(h>>32)
}

// comparableHasher is the default Hasher for any comparable K. It
// delegates hashing to github.com/dolthub/maphash, which wraps the
// runtime's built-in string/memory hash behind a per-instance seed
// (no process-global state, per spec §9's Design Notes), and uses the
// language's own == for Equal.
type comparableHasher[K comparable] struct {
	h maphash.Hasher[K]
}

// New returns the default Hasher for a comparable key type, seeded
// uniquely for this instance.
func New[K comparable]() Hasher[K] {
	return &comparableHasher[K]{h: maphash.NewHasher[K]()}
}

func (c *comparableHasher[K]) ComputeHash(k K) uint32 {
	return fold64(c.h.Hash(k))
}

func (c *comparableHasher[K]) Equal(a, b K) bool {
	return a == b
}

// seededIntHasher is the integer default mentioned in spec §4.1: a
// xorshift-multiply finalizer mix, seeded per instance rather than
// via global state.
type seededIntHasher[K ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64] struct {
	seed uint64
}

// NewInt returns a finalizer-mix Hasher for an integer key type,
// seeded with the given value (pass a random uint64 for per-instance
// randomization; pass a fixed value for reproducible tests, e.g. the
// constant-collision scenario S4 in spec §8).
func NewInt[K ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](seed uint64) Hasher[K] {
	return &seededIntHasher[K]{seed: seed}
}

func (s *seededIntHasher[K]) ComputeHash(k K) uint32 {
	x := uint64(k) ^ s.seed
	// SplitMix64 finalizer: cheap, well-mixed, no table lookups.
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return fold64(x)
}

func (s *seededIntHasher[K]) Equal(a, b K) bool {
	return a == b
}

// stringHasher delegates byte hashing to xxhash, the pluggable
// byte-hasher spec §4.1 calls out by name ("FastHash/XxHash3/WyHash"),
// seeded per instance by prefixing the seed's bytes.
type stringHasher struct {
	seed [8]byte
}

// NewString returns an xxhash-backed Hasher[string], seeded with the
// given value.
func NewString(seed uint64) Hasher[string] {
	var sh stringHasher
	for i := 0; i < 8; i++ {
		sh.seed[i] = byte(seed >> (8 * i))
	}
	return &sh
}

func (s *stringHasher) ComputeHash(k string) uint32 {
	d := xxhash.New()
	d.Write(s.seed[:])
	d.WriteString(k)
	return fold64(d.Sum64())
}

func (s *stringHasher) Equal(a, b string) bool {
	return a == b
}

// NewBytes returns an xxhash-backed Hasher[[]byte], seeded with the
// given value. Equal does a byte-for-byte compare.
func NewBytes(seed uint64) Hasher[[]byte] {
	var sh bytesHasher
	for i := 0; i < 8; i++ {
		sh.seed[i] = byte(seed >> (8 * i))
	}
	return &sh
}

type bytesHasher struct {
	seed [8]byte
}

func (s *bytesHasher) ComputeHash(k []byte) uint32 {
	d := xxhash.New()
	d.Write(s.seed[:])
	d.Write(k)
	return fold64(d.Sum64())
}

func (s *bytesHasher) Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
