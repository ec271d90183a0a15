package timeline

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Entry kinds
const (
	KindShot     = "shot"
	KindFiller   = "filler"
	KindBranding = "branding"
)

// Entry is one resolved overlay of the timeline contract
type Entry struct {
	Start   float64 `json:"start" yaml:"start"`
	End     float64 `json:"end" yaml:"end"`
	Box     Box     `json:"box" yaml:"box"`
	Content string  `json:"content" yaml:"content"`
	ID      string  `json:"id" yaml:"id"`
	Z       int     `json:"z,omitempty" yaml:"z,omitempty"`
	Kind    string  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Pose    string  `json:"pose,omitempty" yaml:"pose,omitempty"`

	// Resolution-only state, never serialized.
	AutoBox   bool `json:"-" yaml:"-"`
	ZOverride *int `json:"-" yaml:"-"`
	Order     int  `json:"-" yaml:"-"`
}

// Duration returns End - Start in seconds
func (e Entry) Duration() float64 {
	return e.End - e.Start
}

// ActiveAt reports membership in the half-open interval [Start, End)
func (e Entry) ActiveAt(t float64) bool {
	return e.Start <= t && t < e.End
}

// Box is a pixel rectangle. It is serialized as [x, y, w, h].
type Box struct {
	X int
	Y int
	W int
	H int
}

// FullCanvas returns a box covering the whole canvas
func FullCanvas(width, height int) Box {
	return Box{X: 0, Y: 0, W: width, H: height}
}

// Empty reports whether the box has no area
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Clip restricts the box to a width x height canvas
func (b Box) Clip(width, height int) Box {
	x0, y0 := clampInt(b.X, 0, width), clampInt(b.Y, 0, height)
	x1, y1 := clampInt(b.X+b.W, 0, width), clampInt(b.Y+b.H, 0, height)
	return Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X, b.Y, b.W, b.H})
}

func (b *Box) UnmarshalJSON(data []byte) error {
	var v []int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("box: %w", err)
	}
	return b.fromSlice(v)
}

func (b Box) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle, Tag: "!!seq"}
	for _, v := range []int{b.X, b.Y, b.W, b.H} {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(v)})
	}
	return node, nil
}

func (b *Box) UnmarshalYAML(value *yaml.Node) error {
	var v []int
	if err := value.Decode(&v); err != nil {
		return fmt.Errorf("box: %w", err)
	}
	return b.fromSlice(v)
}

func (b *Box) fromSlice(v []int) error {
	if len(v) != 4 {
		return fmt.Errorf("box: expected 4 integers, got %d", len(v))
	}
	*b = Box{X: v[0], Y: v[1], W: v[2], H: v[3]}
	return nil
}

// Word is one spoken token with timing in seconds
type Word struct {
	Text  string  `json:"word" yaml:"word"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Segment is a narration window owning raw shot descriptions
type Segment struct {
	Index int     `json:"-" yaml:"-"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Text  string  `json:"text,omitempty" yaml:"text,omitempty"`
	Words []Word  `json:"words,omitempty" yaml:"words,omitempty"`
	Shots []any   `json:"shots,omitempty" yaml:"shots,omitempty"`
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Plan is the input of the planning stage
type Plan struct {
	Segments []Segment `json:"segments" yaml:"segments"`
	Words    []Word    `json:"words,omitempty" yaml:"words,omitempty"`
}

// Normalize numbers segments and hands every segment without its own word
// list the plan-level words that fall inside it.
func (p *Plan) Normalize() {
	for i := range p.Segments {
		seg := &p.Segments[i]
		seg.Index = i
		if len(seg.Words) > 0 || len(p.Words) == 0 {
			continue
		}
		for _, w := range p.Words {
			if w.End > seg.Start && w.Start < seg.End {
				seg.Words = append(seg.Words, w)
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
