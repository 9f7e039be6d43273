package joystick

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"
)

// registry keeps the last device listing and diffs new listings against it.
type registry struct {
	mu      sync.RWMutex
	entries []DeviceEntry
	known   mapset.Set
}

func newRegistry() *registry {
	return &registry{known: mapset.NewSet()}
}

// update stores entries and returns the display strings added and removed.
func (r *registry) update(entries []DeviceEntry) (added, removed []string) {
	next := mapset.NewSet()
	for _, e := range entries {
		next.Add(e.String())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added = toSortedStrings(next.Difference(r.known))
	removed = toSortedStrings(r.known.Difference(next))
	r.known = next
	r.entries = append([]DeviceEntry(nil), entries...)
	return added, removed
}

func (r *registry) snapshot() []DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]DeviceEntry(nil), r.entries...)
}

func toSortedStrings(s mapset.Set) []string {
	out := make([]string, 0, s.Cardinality())
	for _, v := range s.ToSlice() {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	sort.Strings(out)
	return out
}
