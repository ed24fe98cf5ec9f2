package robinhood

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rand"
)

func TestTable_EmplaceGet(t *testing.T) {
	tb := New[int, int](16)
	existed := tb.Emplace(1, 100)
	require.False(t, existed)
	v, ok := tb.Get(1)
	require.True(t, ok)
	require.Equal(t, 100, v)
}

func TestTable_EmplaceUpdatesOnDuplicate(t *testing.T) {
	tb := New[int, int](16)
	tb.Emplace(1, 1)
	existed := tb.Emplace(1, 2)
	require.True(t, existed)
	require.Equal(t, 1, tb.Len())
	v, _ := tb.Get(1)
	require.Equal(t, 2, v)
}

func TestTable_RemoveBackShift(t *testing.T) {
	tb := New[int, int](16, WithHasher[int, int](constantHasher{}))
	for i := 1; i <= 8; i++ {
		tb.Emplace(i, i*10)
	}
	require.True(t, tb.Remove(3))
	require.Equal(t, 7, tb.Len())
	for i := 1; i <= 8; i++ {
		if i == 3 {
			continue
		}
		v, ok := tb.Get(i)
		require.True(t, ok, "key %d should survive back-shift deletion of a colliding neighbor", i)
		require.Equal(t, i*10, v)
	}
	_, ok := tb.Get(3)
	require.False(t, ok)
}

func TestTable_RemoveIdempotent(t *testing.T) {
	tb := New[int, int](16)
	tb.Emplace(1, 1)
	require.True(t, tb.Remove(1))
	require.False(t, tb.Remove(1))
}

func TestTable_ConstantHashCollisions(t *testing.T) {
	tb := New[int, int](16, WithHasher[int, int](constantHasher{}))
	for i := 1; i <= 500; i++ {
		tb.Emplace(i, i)
	}
	require.Equal(t, 500, tb.Len())
	for i := 1; i <= 500; i++ {
		v, ok := tb.Get(i)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestTable_GetOrInsertDefault(t *testing.T) {
	tb := New[string, []int](16)
	p := tb.GetOrInsertDefault("a")
	*p = append(*p, 1)
	p2 := tb.GetOrInsertDefault("a")
	require.Equal(t, []int{1}, *p2)
}

func TestTable_Clear(t *testing.T) {
	tb := New[int, int](16)
	for i := 0; i < 10; i++ {
		tb.Emplace(i, i)
	}
	tb.Clear()
	require.Equal(t, 0, tb.Len())
	_, ok := tb.Get(0)
	require.False(t, ok)
}

func TestTable_Iteration(t *testing.T) {
	tb := New[int, int](16)
	want := map[int]int{}
	for i := 0; i < 20; i++ {
		tb.Emplace(i, i*i)
		want[i] = i * i
	}
	got := map[int]int{}
	it := tb.Iter()
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		got[k] = v
	}
	require.Equal(t, want, got)
}

type constantHasher struct{}

func (constantHasher) ComputeHash(int) uint32 { return 7 }
func (constantHasher) Equal(a, b int) bool    { return a == b }

// TestTable_ReferenceModel is property 1 of spec §8 applied to the
// Robin-Hood variant.
func TestTable_ReferenceModel(t *testing.T) {
	r := rand.New(99)
	tb := New[int, int](16)
	ref := map[int]int{}

	for i := 0; i < 20000; i++ {
		k := int(r.Uint64() % 500)
		switch r.Uint64() % 3 {
		case 0:
			v := int(r.Uint64())
			tb.Emplace(k, v)
			ref[k] = v
		case 1:
			tb.Remove(k)
			delete(ref, k)
		case 2:
			wantV, wantOK := ref[k]
			gotV, gotOK := tb.Get(k)
			if gotOK != wantOK || (wantOK && gotV != wantV) {
				t.Fatalf("iteration %d: Get(%d) = (%v, %v), want (%v, %v)", i, k, gotV, gotOK, wantV, wantOK)
			}
		}
	}

	require.Equal(t, len(ref), tb.Len())
	for k, wantV := range ref {
		gotV, ok := tb.Get(k)
		require.True(t, ok)
		require.Equal(t, wantV, gotV)
	}
}

func TestTable_Stats(t *testing.T) {
	tb := New[int, int](16)
	for i := 0; i < 8; i++ {
		tb.Emplace(i, i)
	}
	st := tb.Stats()
	require.Equal(t, 8, st.Size)
	require.Equal(t, 16, st.Capacity)
	require.GreaterOrEqual(t, st.MaxPSL, 1)
}
