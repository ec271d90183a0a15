package director

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/ivlev/timeline2video/internal/timeline"
)

// Director turns raw shots of a segment into a gapless schedule
type Director struct {
	ViewportWidth   int
	ViewportHeight  int
	MinShotDuration float64 // coverage target per entry (seconds)
	DurationFloor   float64 // floor applied while resolving a single shot
	MinGap          float64 // gaps at least this long get a filler entry
	Tolerance       float64 // float slack for coverage checks
	FillerMaxWords  int

	Logger zerolog.Logger
}

// NewDirector creates a new Director with default settings
func NewDirector(viewportWidth, viewportHeight int) *Director {
	return &Director{
		ViewportWidth:   viewportWidth,
		ViewportHeight:  viewportHeight,
		MinShotDuration: 0.5,
		DurationFloor:   0.25,
		MinGap:          0.05,
		Tolerance:       1e-6,
		FillerMaxWords:  12,
		Logger:          zerolog.Nop(),
	}
}

// ResolveSegment resolves every shot of seg and enforces coverage. The only
// error it returns is a coverage violation, which means a defect here.
func (d *Director) ResolveSegment(seg timeline.Segment) ([]timeline.Entry, error) {
	if !(seg.End > seg.Start) {
		d.Logger.Warn().
			Int("segment", seg.Index).
			Float64("start", seg.Start).
			Float64("end", seg.End).
			Msg("segment has no duration, skipping")
		return nil, nil
	}

	specs := NormalizeShots(seg.Shots)
	if dropped := len(seg.Shots) - len(specs); dropped > 0 {
		d.Logger.Debug().Int("segment", seg.Index).Int("dropped", dropped).Msg("shots without content dropped")
	}

	entries := make([]timeline.Entry, 0, len(specs))
	for _, spec := range specs {
		entries = append(entries, d.resolveShot(spec, len(specs), seg))
	}

	entries = d.enforceCoverage(entries, seg)

	if err := VerifyCoverage(entries, seg.Start, seg.End, d.MinShotDuration, d.Tolerance); err != nil {
		return nil, fmt.Errorf("segment %d: %w", seg.Index, err)
	}

	d.Logger.Debug().
		Int("segment", seg.Index).
		Int("shots", len(specs)).
		Int("entries", len(entries)).
		Msg("segment resolved")

	return entries, nil
}

func (d *Director) resolveShot(spec ShotSpec, count int, seg timeline.Segment) timeline.Entry {
	start := d.resolveStart(spec, count, seg)
	duration := d.resolveDuration(spec, start, count, seg)
	box, auto := d.resolveBox(spec)

	id := spec.ID
	if id == "" {
		id = fmt.Sprintf("s%02d-shot%02d", seg.Index, spec.Index)
	}

	return timeline.Entry{
		Start:     start,
		End:       math.Min(start+duration, seg.End),
		Box:       box,
		Content:   spec.Content,
		ID:        id,
		Kind:      timeline.KindShot,
		Pose:      spec.Pose,
		AutoBox:   auto,
		ZOverride: spec.Z,
		Order:     spec.Index,
	}
}

// resolveStart: absolute start, anchor phrase, offset seconds, offset
// fraction, then an equal division of the segment.
func (d *Director) resolveStart(spec ShotSpec, count int, seg timeline.Segment) float64 {
	clamp := func(v float64) float64 {
		return math.Max(seg.Start, math.Min(v, seg.End))
	}

	if spec.Start != nil {
		return clamp(*spec.Start)
	}
	if spec.Anchor != "" {
		if t, ok := findAnchor(spec.Anchor, seg.Words); ok {
			return clamp(t)
		}
		d.Logger.Debug().Int("segment", seg.Index).Str("anchor", spec.Anchor).Msg("anchor phrase not found")
	}
	if spec.Offset != nil {
		return clamp(seg.Start + *spec.Offset)
	}
	if spec.OffsetFraction != nil {
		return clamp(seg.Start + *spec.OffsetFraction*seg.Duration())
	}
	return clamp(seg.Start + float64(spec.Index)*(seg.Duration()/float64(count)))
}

// resolveDuration: absolute end, seconds, fraction, then an equal share.
func (d *Director) resolveDuration(spec ShotSpec, start float64, count int, seg timeline.Segment) float64 {
	var duration float64
	switch {
	case spec.End != nil && *spec.End > start:
		duration = *spec.End - start
	case spec.Duration != nil:
		duration = *spec.Duration
	case spec.DurationFraction != nil:
		duration = *spec.DurationFraction * seg.Duration()
	default:
		duration = seg.Duration() / float64(count)
	}
	return math.Max(duration, d.DurationFloor)
}

// resolveBox returns the clipped box and whether it was derived automatically
func (d *Director) resolveBox(spec ShotSpec) (timeline.Box, bool) {
	if spec.Box != nil {
		box := spec.Box.Clip(d.ViewportWidth, d.ViewportHeight)
		if !box.Empty() {
			return box, false
		}
	}
	return timeline.FullCanvas(d.ViewportWidth, d.ViewportHeight), true
}
