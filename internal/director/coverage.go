package director

import (
	"errors"
	"fmt"
	"html"
	"math"
	"sort"
	"strings"

	"github.com/ivlev/timeline2video/internal/timeline"
)

// ErrCoverageViolation means resolved entries do not tile their segment
var ErrCoverageViolation = errors.New("coverage violation")

// Spans at or below this are treated as empty.
const durationEpsilon = 1e-9

// enforceCoverage makes entries tile [seg.Start, seg.End] exactly
func (d *Director) enforceCoverage(entries []timeline.Entry, seg timeline.Segment) []timeline.Entry {
	out := make([]timeline.Entry, 0, len(entries))
	for _, e := range entries {
		e.Start = math.Max(seg.Start, math.Min(e.Start, seg.End))
		e.End = math.Max(e.Start, math.Min(e.End, seg.End))
		out = append(out, e)
	}

	// Identical starts keep submission order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Order < out[j].Order
	})

	out = d.removeOverlaps(out, seg.End)
	out = d.fillGaps(out, seg)
	return d.consolidate(out, seg.Start, seg.End)
}

// removeOverlaps clamps each entry to the start of the next one and extends
// short entries toward the minimum without crossing that bound. Entries left
// with no duration are dropped.
func (d *Director) removeOverlaps(entries []timeline.Entry, segEnd float64) []timeline.Entry {
	for i := 0; i < len(entries)-1; i++ {
		cur, next := &entries[i], entries[i+1]
		if cur.End > next.Start {
			cur.End = next.Start
		}
		if cur.Duration() < d.MinShotDuration {
			cur.End = math.Min(cur.Start+d.MinShotDuration, next.Start)
		}
	}
	if n := len(entries); n > 0 {
		last := &entries[n-1]
		if last.Duration() < d.MinShotDuration {
			last.End = math.Min(last.Start+d.MinShotDuration, segEnd)
		}
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.Duration() > durationEpsilon {
			kept = append(kept, e)
		}
	}
	return kept
}

// fillGaps walks from the segment start and closes every hole. Holes of at
// least MinGap get a filler entry; smaller ones are absorbed by the
// neighbouring entry.
func (d *Director) fillGaps(entries []timeline.Entry, seg timeline.Segment) []timeline.Entry {
	out := make([]timeline.Entry, 0, len(entries)+1)
	cursor := seg.Start
	fillers := 0

	for _, e := range entries {
		gap := e.Start - cursor
		switch {
		case gap >= d.MinGap:
			out = append(out, d.filler(seg, cursor, e.Start, fillers))
			fillers++
		case gap > 0:
			if len(out) > 0 {
				out[len(out)-1].End = e.Start
			} else {
				e.Start = cursor
			}
		}
		out = append(out, e)
		cursor = e.End
	}

	gap := seg.End - cursor
	switch {
	case len(out) == 0 || gap >= d.MinGap:
		if gap > 0 {
			out = append(out, d.filler(seg, cursor, seg.End, fillers))
		}
	case gap > 0:
		out[len(out)-1].End = seg.End
	}
	return out
}

// consolidate makes every entry reach the minimum duration. A short entry
// first borrows from a neighbour that can spare the time and is otherwise
// merged into a neighbour. Boundaries are always copied from the neighbour
// so the tiling stays exact.
func (d *Director) consolidate(entries []timeline.Entry, segStart, segEnd float64) []timeline.Entry {
	if len(entries) == 0 {
		return entries
	}

	min := d.MinShotDuration
	if segEnd-segStart < min {
		// The whole segment is below the minimum: keep the longest entry.
		best := 0
		for i, e := range entries {
			if e.Duration() > entries[best].Duration() {
				best = i
			}
		}
		e := entries[best]
		e.Start, e.End = segStart, segEnd
		return []timeline.Entry{e}
	}

	short := func(e timeline.Entry) bool { return e.Duration() < min-durationEpsilon }

	for i := 0; i < len(entries); {
		e := &entries[i]
		if !short(*e) {
			i++
			continue
		}

		if i+1 < len(entries) {
			next := &entries[i+1]
			if end := e.Start + min; next.End-end >= min-durationEpsilon {
				e.End = end
				next.Start = e.End
				i++
				continue
			}
		}
		if i > 0 {
			prev := &entries[i-1]
			if start := e.End - min; start-prev.Start >= min-durationEpsilon {
				e.Start = start
				prev.End = e.Start
				i++
				continue
			}
		}

		switch {
		case i > 0:
			entries[i-1].End = e.End
		case len(entries) > 1:
			entries[i+1].Start = e.Start
		default:
			return entries
		}
		entries = append(entries[:i], entries[i+1:]...)
		if i > 0 {
			i--
		}
	}
	return entries
}

// filler builds a synthesized entry for [start, end) out of the narration
// spoken in that window, or the segment text when no word falls inside it.
func (d *Director) filler(seg timeline.Segment, start, end float64, n int) timeline.Entry {
	var tokens []string
	for _, w := range seg.Words {
		if w.End > start && w.Start < end {
			tokens = append(tokens, w.Text)
		}
	}
	if len(tokens) == 0 {
		tokens = strings.Fields(seg.Text)
	}
	if d.FillerMaxWords > 0 && len(tokens) > d.FillerMaxWords {
		tokens = append(tokens[:d.FillerMaxWords:d.FillerMaxWords], "…")
	}

	return timeline.Entry{
		Start:   start,
		End:     end,
		Box:     timeline.FullCanvas(d.ViewportWidth, d.ViewportHeight),
		Content: fmt.Sprintf(`<div class="filler"><p>%s</p></div>`, html.EscapeString(strings.Join(tokens, " "))),
		ID:      fmt.Sprintf("s%02d-fill%02d", seg.Index, n),
		Kind:    timeline.KindFiller,
		AutoBox: true,
		Order:   math.MaxInt32,
	}
}

// VerifyCoverage checks that entries tile [start, end] in order with no gap
// or overlap larger than tol, and that each entry lasts at least min unless
// the whole range is shorter.
func VerifyCoverage(entries []timeline.Entry, start, end, min, tol float64) error {
	if !(end > start) {
		return nil
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries for [%.3f, %.3f]", ErrCoverageViolation, start, end)
	}
	if math.Abs(entries[0].Start-start) > tol {
		return fmt.Errorf("%w: first entry starts at %.6f, segment at %.6f", ErrCoverageViolation, entries[0].Start, start)
	}
	if last := entries[len(entries)-1]; math.Abs(last.End-end) > tol {
		return fmt.Errorf("%w: last entry ends at %.6f, segment at %.6f", ErrCoverageViolation, last.End, end)
	}

	checkMin := end-start >= min
	for i, e := range entries {
		if !(e.End > e.Start) {
			return fmt.Errorf("%w: entry %q has non-positive duration", ErrCoverageViolation, e.ID)
		}
		if checkMin && e.Duration() < min-tol {
			return fmt.Errorf("%w: entry %q lasts %.6fs, minimum %.3fs", ErrCoverageViolation, e.ID, e.Duration(), min)
		}
		if i > 0 {
			if delta := e.Start - entries[i-1].End; math.Abs(delta) > tol {
				kind := "gap"
				if delta < 0 {
					kind = "overlap"
				}
				return fmt.Errorf("%w: %s of %.6fs before entry %q", ErrCoverageViolation, kind, math.Abs(delta), e.ID)
			}
		}
	}
	return nil
}
