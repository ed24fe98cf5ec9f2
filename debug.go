package swiss

import (
	"fmt"
	"strings"

	"github.com/loframe/swissmap/internal/group"
)

// debugEnabled gates diagnostic output, matching the teacher's own
// `const debug = false` gate in map.go rather than wiring a logging
// library into a dependency-free data structure (see SPEC_FULL.md §1).
const debugEnabled = false

func debugf(format string, args ...any) {
	if debugEnabled {
		fmt.Printf(format, args...)
	}
}

// DebugString renders the control-byte occupancy of every group,
// grounded on Saiprakashreddy14-swiss's Visualize(). Not part of the
// operational contract — a debugging aid only.
func (m *Map[K, V]) DebugString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "swiss.Map size=%d capacity=%d tombstones=%d\n", m.live, m.capacity, m.tombstone)
	for g := uint32(0); g < m.numGroups(); g++ {
		fmt.Fprintf(&b, "group %4d: [", g)
		for j := 0; j < group.Size; j++ {
			if j > 0 {
				b.WriteByte('|')
			}
			c := m.ctrl[int(g)*group.Size+j]
			switch c {
			case group.Empty:
				b.WriteString("  E")
			case group.Tombstone:
				b.WriteString("  T")
			default:
				fmt.Fprintf(&b, "%3d", c)
			}
		}
		b.WriteString("]\n")
	}
	return b.String()
}
