package renderer

import (
	"fmt"
	"sort"

	"github.com/ivlev/timeline2video/internal/surface"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// arena tracks which entries are mounted on the surface. Handles of
// unmounted entries go on a free list and are reused.
type arena struct {
	index map[string]surface.Handle
	free  []surface.Handle
	next  surface.Handle

	mounts   int
	unmounts int
}

func newArena() *arena {
	return &arena{index: make(map[string]surface.Handle), next: 1}
}

// entryKey identifies an entry across frames. The start time separates
// entries that happen to share an id.
func entryKey(e timeline.Entry) string {
	return fmt.Sprintf("%s@%g", e.ID, e.Start)
}

func (a *arena) alloc() surface.Handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		return h
	}
	h := a.next
	a.next++
	return h
}

// reconcile mounts newly active entries and unmounts entries that left.
// Entries active in both frames are not touched.
func (a *arena) reconcile(s surface.Surface, active []timeline.Entry) error {
	want := make(map[string]bool, len(active))
	for _, e := range active {
		want[entryKey(e)] = true
	}

	var leaving []string
	for key := range a.index {
		if !want[key] {
			leaving = append(leaving, key)
		}
	}
	sort.Strings(leaving)

	for _, key := range leaving {
		h := a.index[key]
		if err := s.Unmount(h); err != nil {
			return fmt.Errorf("unmount %s: %w", key, err)
		}
		delete(a.index, key)
		a.free = append(a.free, h)
		a.unmounts++
	}

	for _, e := range active {
		key := entryKey(e)
		if _, ok := a.index[key]; ok {
			continue
		}
		h := a.alloc()
		if err := s.Mount(h, e); err != nil {
			a.free = append(a.free, h)
			return fmt.Errorf("mount %s: %w", key, err)
		}
		a.index[key] = h
		a.mounts++
	}
	return nil
}

// clear unmounts everything still mounted
func (a *arena) clear(s surface.Surface) error {
	return a.reconcile(s, nil)
}

func (a *arena) live() int {
	return len(a.index)
}
