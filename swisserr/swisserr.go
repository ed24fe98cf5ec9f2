// Package swisserr is the shared error taxonomy (spec §7) for every
// table variant in this module: the SIMD dense table, Robin-Hood
// table, quadratic table, and CMap all return or panic with these same
// sentinels so a caller can write one error-handling path regardless
// of which variant it holds.
package swisserr

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned by Update and by the indexer-style
	// Index/SetIndex accessors when the key is absent. Get, Contains,
	// and Remove report absence via a boolean instead, per spec §7.
	ErrKeyNotFound = errors.New("swissmap: key not found")

	// ErrAllocationFailure names the allocation-failure error kind.
	// No table in this module returns it: a failed allocation during
	// growth surfaces as the Go runtime's own panic or fatal error.
	ErrAllocationFailure = errors.New("swissmap: allocation failure")

	// ErrContractViolation names the error kind for a single-threaded
	// table used concurrently, or an iterator used across a mutation.
	// No table in this module detects such use or returns it; the
	// violation is undefined behavior.
	ErrContractViolation = errors.New("swissmap: contract violation")
)

// UserHashPanicError wraps a panic raised by caller-supplied Hash or
// Equal callbacks. It propagates out of the operation that triggered
// it (spec §4.10's "Failure semantics") rather than being swallowed,
// but callers can recognize it with errors.As instead of a bare
// recover() on an arbitrary panic value.
type UserHashPanicError struct {
	Cause any
}

func (e *UserHashPanicError) Error() string {
	return fmt.Sprintf("swissmap: user hash/equality callback panicked: %v", e.Cause)
}

func (e *UserHashPanicError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

// GuardUserPanic should be deferred around any scan that invokes
// caller-supplied Hash/Equal callbacks while a slot is mid-mutation.
// On a panic it runs restore (typically resetting the slot under
// mutation back to EMPTY) before re-panicking as *UserHashPanicError,
// preserving invariant 2.10: "a partial insertion leaves the slot in
// CLAIMED or EMPTY, never LIVE with stale data."
func GuardUserPanic(restore func()) {
	if r := recover(); r != nil {
		if _, already := r.(*UserHashPanicError); already {
			restore()
			panic(r)
		}
		restore()
		panic(&UserHashPanicError{Cause: r})
	}
}
