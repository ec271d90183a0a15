package effects

import (
	"fmt"
	"hash/fnv"
	"math"

	"golang.org/x/image/math/f64"

	"github.com/ivlev/timeline2video/internal/timeline"
)

// CameraState is the canvas transform for one frame. Offsets are in pixels
// and applied after scaling about the canvas center.
type CameraState struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// Identity leaves the canvas untouched
var Identity = CameraState{Scale: 1}

// Profile is one of the fixed camera motions
type Profile int

const (
	ZoomIn Profile = iota
	ZoomOut
	PanLeft
	PanRight
	Breathe
	profileCount
)

var profileNames = [...]string{"zoom-in", "zoom-out", "pan-left", "pan-right", "breathe"}

func (p Profile) String() string {
	if p < 0 || p >= profileCount {
		return fmt.Sprintf("profile(%d)", int(p))
	}
	return profileNames[p]
}

// ProfileFor maps an entry id to a profile with 32-bit FNV-1a. The mapping
// is stable across runs and platforms.
func ProfileFor(id string) Profile {
	h := fnv.New32a()
	h.Write([]byte(id))
	return Profile(h.Sum32() % uint32(profileCount))
}

// Camera evaluates profiles for a canvas
type Camera struct {
	Width  int
	Height int
	Zoom   float64 // peak extra scale, 0.12 means 112%
}

// NewCamera creates a camera with the default motion strength
func NewCamera(width, height int) *Camera {
	return &Camera{Width: width, Height: height, Zoom: 0.12}
}

// Progress returns how far t is through e, clamped to [0, 1]
func Progress(e timeline.Entry, t float64) float64 {
	d := e.Duration()
	if d <= 0 {
		return 1
	}
	return math.Max(0, math.Min(1, (t-e.Start)/d))
}

// StateFor computes the camera for the focal entry at time t
func (c *Camera) StateFor(e timeline.Entry, t float64) CameraState {
	return c.State(ProfileFor(e.ID), Progress(e, t))
}

// State evaluates profile p at progress in [0, 1]
func (c *Camera) State(p Profile, progress float64) CameraState {
	k := easeInOutCubic(math.Max(0, math.Min(1, progress)))
	peak := 1 + c.Zoom

	switch p {
	case ZoomIn:
		return CameraState{Scale: lerp(1, peak, k)}
	case ZoomOut:
		return CameraState{Scale: lerp(peak, 1, k)}
	case PanLeft, PanRight:
		// Travel is bounded by the margin the zoom creates so no edge shows.
		travel := (peak - 1) * float64(c.Width) / 2
		from, to := travel, -travel
		if p == PanRight {
			from, to = to, from
		}
		return CameraState{Scale: peak, OffsetX: lerp(from, to, k)}
	case Breathe:
		// Raw progress keeps the cycle periodic: one full breath per entry.
		return CameraState{Scale: 1 + c.Zoom/4*(1-math.Cos(2*math.Pi*progress))/2}
	}
	return Identity
}

// Focal picks the most recently started non-branding entry
func Focal(active []timeline.Entry) (timeline.Entry, bool) {
	var focal timeline.Entry
	found := false
	for _, e := range active {
		if e.Kind == timeline.KindBranding {
			continue
		}
		if !found || e.Start > focal.Start || (e.Start == focal.Start && e.Z > focal.Z) {
			focal, found = e, true
		}
	}
	return focal, found
}

// Matrix returns the affine transform mapping canvas coordinates to output
// pixels: scale about the center, then translate.
func (s CameraState) Matrix(width, height int) f64.Aff3 {
	cx, cy := float64(width)/2, float64(height)/2
	return f64.Aff3{
		s.Scale, 0, cx - s.Scale*cx + s.OffsetX,
		0, s.Scale, cy - s.Scale*cy + s.OffsetY,
	}
}

// CSS renders the state as a transform with a centered origin
func (s CameraState) CSS() string {
	return fmt.Sprintf("translate(%.3fpx, %.3fpx) scale(%.5f)", s.OffsetX, s.OffsetY, s.Scale)
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// easeInOutCubic applies smooth easing function
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
