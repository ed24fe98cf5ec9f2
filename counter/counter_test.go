package counter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCounter_AddSumSingleGoroutine(t *testing.T) {
	c := NewLanes(8)
	for i := 0; i < 100; i++ {
		c.Add(1)
	}
	require.Equal(t, int64(100), c.Sum())
}

func TestCounter_LanesRoundedToPowerOfTwo(t *testing.T) {
	require.Equal(t, 1, NewLanes(0).Lanes())
	require.Equal(t, 8, NewLanes(5).Lanes())
	require.Equal(t, 16, NewLanes(16).Lanes())
}

func TestCounter_Reset(t *testing.T) {
	c := NewLanes(4)
	c.Add(42)
	c.Reset()
	require.Equal(t, int64(0), c.Sum())
}

// TestCounter_ConcurrentAdd is property 9 of spec §8: concurrent Add
// calls from many goroutines never lose an increment, matched against
// a final Sum once all writers have joined.
func TestCounter_ConcurrentAdd(t *testing.T) {
	c := New()
	const goroutines = 64
	const perGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(goroutines*perGoroutine), c.Sum())
}

func TestCounter_ConcurrentAddWithErrgroup(t *testing.T) {
	c := NewLanes(32)
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			for j := 0; j < 200; j++ {
				c.Add(-1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int64(-10000), c.Sum())
}
