package timeline

import "sort"

// Assemble merges the resolved entries of every segment into one schedule
// sorted by start. Ties keep segment order, then the order inside the
// segment. Z is the 1-based position unless the shot carried an explicit
// override. Resolution-only fields are cleared.
func Assemble(perSegment [][]Entry) []Entry {
	type keyed struct {
		entry    Entry
		segment  int
		position int
	}

	var all []keyed
	for s, entries := range perSegment {
		for p, e := range entries {
			all = append(all, keyed{entry: e, segment: s, position: p})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.entry.Start != b.entry.Start {
			return a.entry.Start < b.entry.Start
		}
		if a.segment != b.segment {
			return a.segment < b.segment
		}
		return a.position < b.position
	})

	out := make([]Entry, len(all))
	for i, k := range all {
		e := k.entry
		e.Z = i + 1
		if e.ZOverride != nil {
			e.Z = *e.ZOverride
		}
		if e.Kind == "" {
			e.Kind = KindShot
		}
		e.AutoBox = false
		e.ZOverride = nil
		e.Order = 0
		out[i] = e
	}
	return out
}

// Active returns the entries with Start <= t < End, in schedule order
func Active(entries []Entry, t float64) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.ActiveAt(t) {
			out = append(out, e)
		}
	}
	return out
}
