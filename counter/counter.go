// Package counter implements the striped approximate counter (spec
// §4.7, component C7): a power-of-two number of cache-line-padded
// atomic lanes selected by goroutine affinity, summed on read. It
// grounds its padded-lane shape on the other_examples
// CacheLineAlignedCounter pattern and its shard count on
// Voskan-arena-cache's per-shard atomic mirrors.
package counter

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// cacheLinePadSize prevents false sharing between adjacent lanes, the
// same constant the Go runtime exposes as internal/cpu.CacheLinePadSize.
const cacheLinePadSize = 64

// lane is one striped slot. The value occupies the first 8 bytes and
// the remainder is padding out to a full cache line so that two
// goroutines incrementing adjacent lanes never invalidate each
// other's cache line.
type lane struct {
	value atomic.Int64
	_     [cacheLinePadSize - 8]byte
}

// Counter is a sharded, eventually-summed approximate counter. It
// trades exact linearizable reads for write scalability: concurrent
// Add calls on distinct lanes never contend, at the cost of Sum being
// a snapshot that may race with in-flight Adds.
type Counter struct {
	lanes []lane
	mask  uint32
}

// New constructs a Counter with lanes = next power of two of
// max(1, runtime.GOMAXPROCS(0)*4), the spec's default stripe width.
func New() *Counter {
	return NewLanes(runtime.GOMAXPROCS(0) * 4)
}

// NewLanes constructs a Counter with an explicit lane-count hint,
// rounded up to the next power of two (floor 1).
func NewLanes(hint int) *Counter {
	n := nextPow2(hint)
	return &Counter{lanes: make([]lane, n), mask: uint32(n - 1)}
}

func nextPow2(hint int) uint32 {
	if hint < 1 {
		hint = 1
	}
	n := uint32(1)
	for int(n) < hint {
		n <<= 1
	}
	return n
}

// Add increments the lane selected for the calling goroutine by
// delta, which may be negative.
func (c *Counter) Add(delta int64) {
	c.laneFor().Add(delta)
}

// Sum returns the sum of all lanes at the time of the call. It is not
// linearizable with concurrent Add calls: two Sum calls bracketing a
// concurrent Add may each observe either the pre- or post-Add total,
// and no lock orders them.
func (c *Counter) Sum() int64 {
	var total int64
	for i := range c.lanes {
		total += c.lanes[i].value.Load()
	}
	return total
}

// Reset zeroes every lane. Not safe to call concurrently with Add from
// a goroutine expecting Sum to reflect its own write.
func (c *Counter) Reset() {
	for i := range c.lanes {
		c.lanes[i].value.Store(0)
	}
}

// Lanes returns the number of stripes, for diagnostics.
func (c *Counter) Lanes() int { return len(c.lanes) }

func (c *Counter) laneFor() *atomic.Int64 {
	idx := stripeAffinity() & c.mask
	return &c.lanes[idx].value
}

// stripeAffinity derives a lane index from the address of a
// stack-local variable. Go exposes no public goroutine or P ID, but a
// stack address is cheap to obtain and stable for the lifetime of one
// Add call, which is all lane selection needs: correctness of Sum
// never depends on which lane an Add landed in, only on reducing
// contention between concurrent callers, and distinct goroutines
// almost always have distinct stack regions.
func stripeAffinity() uint32 {
	var x byte
	addr := uint64(uintptr(unsafe.Pointer(&x)))
	addr ^= addr >> 33
	addr *= 0xff51afd7ed558ccd
	addr ^= addr >> 33
	return uint32(addr)
}
