package compositor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// ClosedMouth is the code used whenever no phoneme covers the query time
const ClosedMouth = "closed"

// PhonemeInterval labels [start, end) with a mouth-shape code
type PhonemeInterval struct {
	Code  string  `json:"code" yaml:"code"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// ReadPhonemes loads a phoneme list (JSON or YAML)
func ReadPhonemes(path string) ([]PhonemeInterval, error) {
	var out []PhonemeInterval
	if err := timeline.Load(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CharacterState is the character layer for one frame
type CharacterState struct {
	Visible bool
	Code    string
	Sprite  string
	Pose    string
	Spec    config.Pose
}

// LipSync maps time to mouth sprites and poses
type LipSync struct {
	intervals   []PhonemeInterval
	sprites     map[string]string
	poses       map[string]config.Pose
	defaultPose string
}

// NewLipSync sorts intervals once. The sprite table must contain "closed".
func NewLipSync(intervals []PhonemeInterval, cfg config.CharacterConfig) (*LipSync, error) {
	if _, ok := cfg.Sprites[ClosedMouth]; !ok {
		return nil, fmt.Errorf("sprite table has no %q entry", ClosedMouth)
	}

	sorted := append([]PhonemeInterval(nil), intervals...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	return &LipSync{
		intervals:   sorted,
		sprites:     cfg.Sprites,
		poses:       cfg.Poses,
		defaultPose: cfg.DefaultPose,
	}, nil
}

// CodeAt returns the phoneme covering t, or "closed"
func (l *LipSync) CodeAt(t float64) string {
	// Last interval starting at or before t.
	i := sort.Search(len(l.intervals), func(i int) bool { return l.intervals[i].Start > t }) - 1
	if i >= 0 && t < l.intervals[i].End && l.intervals[i].Code != "" {
		return l.intervals[i].Code
	}
	return ClosedMouth
}

// Sprite maps a code to its asset, falling back to the closed mouth
func (l *LipSync) Sprite(code string) string {
	if s, ok := l.sprites[code]; ok {
		return s
	}
	if s, ok := l.sprites[strings.ToLower(code)]; ok {
		return s
	}
	return l.sprites[ClosedMouth]
}

// Pose resolves a pose name, falling back to the default pose
func (l *LipSync) Pose(name string) (string, config.Pose) {
	if p, ok := l.poses[name]; ok && name != "" {
		return name, p
	}
	if p, ok := l.poses[l.defaultPose]; ok {
		return l.defaultPose, p
	}
	return "", config.Pose{Scale: 1}
}

// At builds the character state at t; pose comes from the focal entry
func (l *LipSync) At(t float64, pose string) CharacterState {
	code := l.CodeAt(t)
	name, spec := l.Pose(pose)
	return CharacterState{
		Visible: true,
		Code:    code,
		Sprite:  l.Sprite(code),
		Pose:    name,
		Spec:    spec,
	}
}
