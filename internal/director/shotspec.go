package director

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/ivlev/timeline2video/internal/timeline"
)

// ShotSpec is the typed form of one raw shot description. Nil fields were
// absent or unusable in the raw payload.
type ShotSpec struct {
	Index int // position among usable shots, also the tie-break order

	ID               string
	Start            *float64 // absolute seconds
	Offset           *float64 // seconds from segment start
	OffsetFraction   *float64 // [0, 1] of segment duration
	End              *float64 // absolute seconds
	Duration         *float64
	DurationFraction *float64
	Box              *timeline.Box
	Content          string
	Anchor           string
	Z                *int
	Pose             string
}

// Accepted spellings per attribute, in priority order.
var (
	idKeys               = []string{"id", "shot_id", "shotId", "name"}
	startKeys            = []string{"start", "start_time", "startTime", "abs_start", "absolute_start"}
	offsetKeys           = []string{"offset", "offset_s", "offset_sec", "offset_seconds", "start_offset", "startOffset"}
	offsetFractionKeys   = []string{"offset_fraction", "offsetFraction", "start_fraction", "offset_pct"}
	endKeys              = []string{"end", "end_time", "endTime"}
	durationKeys         = []string{"duration", "duration_s", "duration_sec", "duration_seconds", "dur"}
	durationFractionKeys = []string{"duration_fraction", "durationFraction", "duration_pct"}
	contentKeys          = []string{"content", "html", "markup", "text"}
	anchorKeys           = []string{"anchor", "anchor_phrase", "anchorPhrase", "anchor_text"}
	zKeys                = []string{"z", "z_index", "zIndex", "layer"}
	poseKeys             = []string{"pose", "character_pose"}
	boxKeys              = []string{"box", "bbox", "rect", "geometry"}
)

// NormalizeShots converts raw shot payloads into ShotSpecs. Shots without
// usable content are dropped; every other malformed field is left nil so the
// resolver falls through to the next priority.
func NormalizeShots(raw []any) []ShotSpec {
	var specs []ShotSpec
	for _, r := range raw {
		spec, ok := normalizeShot(r)
		if !ok {
			continue
		}
		spec.Index = len(specs)
		specs = append(specs, spec)
	}
	return specs
}

func normalizeShot(raw any) (ShotSpec, bool) {
	var spec ShotSpec

	fields, ok := raw.(map[string]any)
	if !ok {
		// A bare string is treated as content with every other field defaulted.
		if s, isString := raw.(string); isString && strings.TrimSpace(s) != "" {
			spec.Content = s
			return spec, true
		}
		return spec, false
	}

	spec.Content = contentField(fields)
	if strings.TrimSpace(spec.Content) == "" {
		return spec, false
	}

	spec.ID = stringField(fields, idKeys)
	spec.Anchor = stringField(fields, anchorKeys)
	spec.Pose = stringField(fields, poseKeys)

	spec.Start = nonNegative(numberField(fields, startKeys))
	spec.Offset = nonNegative(numberField(fields, offsetKeys))
	spec.OffsetFraction = fraction(numberField(fields, offsetFractionKeys))
	spec.End = nonNegative(numberField(fields, endKeys))
	spec.Duration = positive(numberField(fields, durationKeys))
	spec.DurationFraction = positive(fraction(numberField(fields, durationFractionKeys)))

	if z := numberField(fields, zKeys); z != nil {
		v := int(math.Round(*z))
		spec.Z = &v
	}

	spec.Box = boxField(fields)
	return spec, true
}

func lookup(fields map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]any, keys []string) string {
	v, ok := lookup(fields, keys)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64, int, int64, json.Number:
		return strings.TrimSpace(toString(s))
	}
	return ""
}

func contentField(fields map[string]any) string {
	v, ok := lookup(fields, contentKeys)
	if !ok {
		return ""
	}
	if s, isString := v.(string); isString {
		return s
	}
	// Structured payloads stay opaque.
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func numberField(fields map[string]any, keys []string) *float64 {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if n, ok := number(v); ok {
			return &n
		}
	}
	return nil
}

// number accepts JSON/YAML numbers and numeric strings. A trailing "%"
// divides by 100 and a trailing "s" is ignored.
func number(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		scale := 1.0
		switch {
		case strings.HasSuffix(s, "%"):
			s = strings.TrimSuffix(s, "%")
			scale = 0.01
		case strings.HasSuffix(s, "s"):
			s = strings.TrimSuffix(s, "s")
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		n = f * scale
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func fraction(v *float64) *float64 {
	if v == nil || *v < 0 || *v > 1 {
		return nil
	}
	return v
}

// boxField reads flat pixel fields first, then a nested box object or
// [x, y, w, h] array.
func boxField(fields map[string]any) *timeline.Box {
	if b, ok := boxFromMap(fields); ok {
		return &b
	}
	v, ok := lookup(fields, boxKeys)
	if !ok {
		return nil
	}
	switch nested := v.(type) {
	case map[string]any:
		if b, ok := boxFromMap(nested); ok {
			return &b
		}
	case []any:
		if len(nested) != 4 {
			return nil
		}
		var vals [4]int
		for i, item := range nested {
			n, ok := number(item)
			if !ok {
				return nil
			}
			vals[i] = int(math.Round(n))
		}
		return &timeline.Box{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	}
	return nil
}

func boxFromMap(fields map[string]any) (timeline.Box, bool) {
	x := numberField(fields, []string{"x", "left"})
	y := numberField(fields, []string{"y", "top"})
	w := numberField(fields, []string{"w", "width"})
	h := numberField(fields, []string{"h", "height"})
	if x == nil || y == nil || w == nil || h == nil {
		return timeline.Box{}, false
	}
	return timeline.Box{
		X: int(math.Round(*x)),
		Y: int(math.Round(*y)),
		W: int(math.Round(*w)),
		H: int(math.Round(*h)),
	}, true
}

func toString(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	}
	return ""
}
