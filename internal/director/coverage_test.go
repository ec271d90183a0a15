package director

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/ivlev/timeline2video/internal/timeline"
)

func TestEmptySegmentGetsOneFiller(t *testing.T) {
	d := NewDirector(1280, 720)
	seg := timeline.Segment{Start: 0, End: 120, Text: "a long quiet stretch"}

	entries, err := d.ResolveSegment(seg)
	if err != nil {
		t.Fatalf("ResolveSegment failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected exactly 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Kind != timeline.KindFiller || e.Start != 0 || e.End != 120 {
		t.Errorf("Expected filler spanning [0, 120], got %+v", e)
	}
	if !strings.Contains(e.Content, "a long quiet stretch") {
		t.Errorf("Filler should carry segment text, got %q", e.Content)
	}
}

func TestFillerUsesOverlappingWords(t *testing.T) {
	d := NewDirector(1280, 720)
	d.FillerMaxWords = 2
	seg := timeline.Segment{
		Start: 0,
		End:   10,
		Text:  "ignored when words exist",
		Words: []timeline.Word{
			{Text: "alpha", Start: 0.5, End: 1},
			{Text: "beta", Start: 1, End: 1.5},
			{Text: "gamma", Start: 1.5, End: 2},
			{Text: "delta", Start: 8, End: 9},
		},
		Shots: []any{map[string]any{"content": "x", "start": 4, "duration": 6}},
	}

	entries, err := d.ResolveSegment(seg)
	if err != nil {
		t.Fatalf("ResolveSegment failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected filler + shot, got %+v", entries)
	}
	content := entries[0].Content
	if !strings.Contains(content, "alpha beta") || strings.Contains(content, "gamma") || strings.Contains(content, "delta") {
		t.Errorf("Unexpected filler content %q", content)
	}
}

func TestSilentGapFillerUsesSegmentText(t *testing.T) {
	d := NewDirector(1280, 720)
	seg := timeline.Segment{
		Start: 0,
		End:   10,
		Text:  "pause before the answer",
		Words: []timeline.Word{{Text: "answer", Start: 8, End: 9}},
		Shots: []any{map[string]any{"content": "x", "start": 5, "duration": 5}},
	}

	entries, err := d.ResolveSegment(seg)
	if err != nil {
		t.Fatalf("ResolveSegment failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != timeline.KindFiller {
		t.Fatalf("Expected filler + shot, got %+v", entries)
	}
	if got := entries[0].Content; !strings.Contains(got, "pause before the answer") {
		t.Errorf("Expected segment text in filler over a silent gap, got %q", got)
	}
}

func TestOverlapsAreClamped(t *testing.T) {
	d := NewDirector(1280, 720)
	seg := timeline.Segment{
		Start: 0,
		End:   10,
		Shots: []any{
			map[string]any{"content": "a", "start": 0, "duration": 6},
			map[string]any{"content": "b", "start": 4, "duration": 6},
		},
	}

	entries, err := d.ResolveSegment(seg)
	if err != nil {
		t.Fatalf("ResolveSegment failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %+v", entries)
	}
	if entries[0].End != 4 || entries[1].Start != 4 || entries[1].End != 10 {
		t.Errorf("Unexpected clamping: %+v", entries)
	}
}

func TestIdenticalStartsKeepSubmissionOrder(t *testing.T) {
	d := NewDirector(1280, 720)
	seg := timeline.Segment{
		Start: 0,
		End:   10,
		Shots: []any{
			map[string]any{"id": "first", "content": "a", "start": 2, "duration": 3},
			map[string]any{"id": "second", "content": "b", "start": 2, "duration": 3},
			map[string]any{"id": "third", "content": "c", "start": 5, "duration": 5},
		},
	}

	entries, err := d.ResolveSegment(seg)
	if err != nil {
		t.Fatalf("ResolveSegment failed: %v", err)
	}
	for _, e := range entries {
		if e.ID == "first" {
			t.Errorf("Zero-length earlier submission should have been dropped: %+v", entries)
		}
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if strings.Join(ids, ",") != "s00-fill00,second,third" {
		t.Errorf("Unexpected order: %v", ids)
	}
}

func TestShortEntriesAreConsolidated(t *testing.T) {
	d := NewDirector(1280, 720)
	seg := timeline.Segment{
		Start: 0,
		End:   3,
		Shots: []any{
			map[string]any{"content": "a", "start": 0, "duration": 0.3},
			map[string]any{"content": "b", "start": 0.3, "duration": 0.3},
			map[string]any{"content": "c", "start": 0.6, "duration": 0.2},
			map[string]any{"content": "d", "start": 2.9, "duration": 0.1},
		},
	}

	entries, err := d.ResolveSegment(seg)
	if err != nil {
		t.Fatalf("ResolveSegment failed: %v", err)
	}
	for _, e := range entries {
		if e.Duration() < d.MinShotDuration-eps {
			t.Errorf("Entry %s lasts %.3fs", e.ID, e.Duration())
		}
	}
}

func TestSegmentShorterThanMinimum(t *testing.T) {
	d := NewDirector(1280, 720)
	seg := timeline.Segment{
		Start: 1,
		End:   1.3,
		Shots: []any{
			map[string]any{"content": "a", "start": 1, "duration": 0.1},
			map[string]any{"content": "b", "start": 1.1, "duration": 0.2},
		},
	}

	entries, err := d.ResolveSegment(seg)
	if err != nil {
		t.Fatalf("ResolveSegment failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Start != 1 || entries[0].End != 1.3 {
		t.Errorf("Expected one entry spanning the segment, got %+v", entries)
	}
}

// Randomized shots must always tile their segment.
func TestCoverageInvariantRandomized(t *testing.T) {
	d := NewDirector(1280, 720)
	r := rand.New(rand.NewSource(7))

	for iter := 0; iter < 500; iter++ {
		start := r.Float64() * 100
		seg := timeline.Segment{
			Index: iter,
			Start: start,
			End:   start + 0.6 + r.Float64()*60,
			Text:  "fallback narration",
		}

		n := r.Intn(9)
		for i := 0; i < n; i++ {
			shot := map[string]any{"content": "shot"}
			switch r.Intn(5) {
			case 0:
				shot["start"] = seg.Start + r.Float64()*seg.Duration()*1.2 - 1
			case 1:
				shot["offset"] = r.Float64() * seg.Duration()
			case 2:
				shot["offset_fraction"] = r.Float64()
			case 3:
				shot["anchor"] = "nothing matches"
			}
			switch r.Intn(4) {
			case 0:
				shot["duration"] = r.Float64() * 10
			case 1:
				shot["duration_fraction"] = r.Float64()
			case 2:
				shot["end"] = seg.Start + r.Float64()*seg.Duration()
			}
			seg.Shots = append(seg.Shots, shot)
		}

		entries, err := d.ResolveSegment(seg)
		if err != nil {
			t.Fatalf("Iteration %d: %v", iter, err)
		}

		if entries[0].Start != seg.Start || entries[len(entries)-1].End != seg.End {
			t.Fatalf("Iteration %d: entries do not reach segment bounds", iter)
		}
		for i, e := range entries {
			if e.Duration() < 0.5-eps {
				t.Fatalf("Iteration %d: entry %s lasts %.6f", iter, e.ID, e.Duration())
			}
			if i > 0 && e.Start != entries[i-1].End {
				t.Fatalf("Iteration %d: boundary mismatch at %d (%.9f vs %.9f)", iter, i, entries[i-1].End, e.Start)
			}
		}
	}
}

func TestVerifyCoverageDetectsDefects(t *testing.T) {
	tests := []struct {
		name    string
		entries []timeline.Entry
	}{
		{"empty", nil},
		{"late start", []timeline.Entry{{ID: "a", Start: 1, End: 10}}},
		{"early end", []timeline.Entry{{ID: "a", Start: 0, End: 9}}},
		{"gap", []timeline.Entry{{ID: "a", Start: 0, End: 4}, {ID: "b", Start: 5, End: 10}}},
		{"overlap", []timeline.Entry{{ID: "a", Start: 0, End: 6}, {ID: "b", Start: 5, End: 10}}},
		{"too short", []timeline.Entry{{ID: "a", Start: 0, End: 9.8}, {ID: "b", Start: 9.8, End: 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyCoverage(tt.entries, 0, 10, 0.5, 1e-6)
			if !errors.Is(err, ErrCoverageViolation) {
				t.Errorf("Expected ErrCoverageViolation, got %v", err)
			}
		})
	}

	ok := []timeline.Entry{{ID: "a", Start: 0, End: 5}, {ID: "b", Start: 5, End: 10}}
	if err := VerifyCoverage(ok, 0, 10, 0.5, 1e-6); err != nil {
		t.Errorf("Valid tiling rejected: %v", err)
	}
}
