package cmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rand"
)

func TestMap_EmplaceGet(t *testing.T) {
	m := New[int, int](16)
	existed := m.Emplace(1, 100)
	require.False(t, existed)
	v, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, 100, v)
}

func TestMap_EmplaceUpdatesOnDuplicate(t *testing.T) {
	m := New[int, int](16)
	m.Emplace(1, 1)
	existed := m.Emplace(1, 2)
	require.True(t, existed)
	v, _ := m.Get(1)
	require.Equal(t, 2, v)
}

func TestMap_Remove(t *testing.T) {
	m := New[int, int](16)
	m.Emplace(1, 1)
	require.True(t, m.Remove(1))
	require.False(t, m.Remove(1))
	_, ok := m.Get(1)
	require.False(t, ok)
}

func TestMap_Update(t *testing.T) {
	m := New[int, int](16)
	require.Error(t, m.Update(1, 10))
	m.Emplace(1, 1)
	require.NoError(t, m.Update(1, 20))
	v, _ := m.Get(1)
	require.Equal(t, 20, v)
}

func TestMap_GetOrCompute(t *testing.T) {
	m := New[string, int](16)
	calls := 0
	v, existed := m.GetOrCompute("a", func() int { calls++; return 7 })
	require.False(t, existed)
	require.Equal(t, 7, v)
	require.Equal(t, 1, calls)

	v2, existed2 := m.GetOrCompute("a", func() int { calls++; return 9 })
	require.True(t, existed2)
	require.Equal(t, 7, v2)
	require.Equal(t, 1, calls, "compute must not run again once the key exists")
}

func TestMap_GrowsAcrossMultipleInserts(t *testing.T) {
	m := New[int, int](16, WithLoadFactor[int, int](0.5))
	for i := 0; i < 2000; i++ {
		m.Emplace(i, i*10)
	}
	require.Equal(t, 2000, m.Len())
	require.True(t, m.Capacity() >= 2000)
	for i := 0; i < 2000; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i*10, v)
	}
}

func TestMap_SequentialReferenceModel(t *testing.T) {
	r := rand.New(4242)
	m := New[int, int](16)
	ref := map[int]int{}

	for i := 0; i < 20000; i++ {
		k := int(r.Uint64() % 500)
		switch r.Uint64() % 3 {
		case 0:
			v := int(r.Uint64())
			m.Emplace(k, v)
			ref[k] = v
		case 1:
			m.Remove(k)
			delete(ref, k)
		case 2:
			wantV, wantOK := ref[k]
			gotV, gotOK := m.Get(k)
			if gotOK != wantOK || (wantOK && gotV != wantV) {
				t.Fatalf("iteration %d: Get(%d) = (%v, %v), want (%v, %v)", i, k, gotV, gotOK, wantV, wantOK)
			}
		}
	}

	require.Equal(t, len(ref), m.Len())
	for k, wantV := range ref {
		gotV, ok := m.Get(k)
		require.True(t, ok)
		require.Equal(t, wantV, gotV)
	}
}

// TestMap_DisjointConcurrentInserts is spec §8 scenario S5: 8
// goroutines each insert a disjoint slice of keys concurrently; after
// join every key must be present with no loss, racing resize
// throughout.
func TestMap_DisjointConcurrentInserts(t *testing.T) {
	const writers = 8
	const perWriter = 125_000
	const total = writers * perWriter

	m := New[int, int](16, WithLoadFactor[int, int](0.75))
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			base := w * perWriter
			for i := 0; i < perWriter; i++ {
				k := base + i
				m.Emplace(k, k*2)
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, total, m.Len())
	for k := 0; k < total; k++ {
		v, ok := m.Get(k)
		require.True(t, ok, "key %d missing after concurrent disjoint inserts", k)
		require.Equal(t, k*2, v)
	}
}

// TestMap_ConcurrentEmplaceAndRemoveSharedKeys is spec §8 scenario S6:
// 16 goroutines share a key domain [0, 1000); half emplace(k, id), half
// remove(k). After join every key is either absent or holds a value
// written by one of the writer goroutines — never a torn value.
func TestMap_ConcurrentEmplaceAndRemoveSharedKeys(t *testing.T) {
	const domain = 1000
	const writers = 16

	validIDs := map[int]bool{}
	for id := 0; id < writers; id += 2 {
		validIDs[id] = true
	}

	m := New[int, int](16)
	var g errgroup.Group
	for id := 0; id < writers; id++ {
		id := id
		g.Go(func() error {
			if id%2 == 0 {
				for k := 0; k < domain; k++ {
					m.Emplace(k, id)
				}
			} else {
				for k := 0; k < domain; k++ {
					m.Remove(k)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for k := 0; k < domain; k++ {
		v, ok := m.Get(k)
		if ok {
			require.True(t, validIDs[v], "key %d holds torn/foreign value %v", k, v)
		}
	}
}

// TestMap_ConcurrentMixedOpsDuringResize stresses resize while
// concurrent writers and readers are active, guarding against lost
// updates or reader panics while a migration is in flight.
func TestMap_ConcurrentMixedOpsDuringResize(t *testing.T) {
	const keys = 5000
	m := New[int, int](16, WithLoadFactor[int, int](0.6))

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < keys; i++ {
				if i%4 == w {
					m.Emplace(i, i)
				}
			}
			return nil
		})
	}
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for i := 0; i < keys; i++ {
				m.Get(i % keys)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < keys; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}
