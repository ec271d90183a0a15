// Package surface drives the off-screen canvas that frames are captured from.
//
// A surface is stateful: entries are mounted once when they become active and
// unmounted when they leave, so presentation state they own survives across
// frames. Time never advances on its own; Seek pins every animation to an
// absolute instant before Capture.
package surface

import (
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ivlev/timeline2video/internal/compositor"
	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/effects"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// Handle identifies a mounted entry; the renderer owns the id → handle table
type Handle int

// Surface is the render target for one job
type Surface interface {
	Mount(h Handle, e timeline.Entry) error
	Unmount(h Handle) error
	SetCamera(s effects.CameraState) error
	SetCaption(s compositor.CaptionState) error
	SetCharacter(s compositor.CharacterState) error
	// Seek pins all time-driven presentation to absolute time t (seconds)
	Seek(t float64) error
	// Capture writes the full canvas as PNG
	Capture(w io.Writer) error
	Close() error
}

// Options shared by all surfaces
type Options struct {
	Width      int
	Height     int
	Background string
	AssetDir   string // base for relative asset references
	DPI        int
	TrimPages  bool
	Captions   config.CaptionConfig
	Character  config.CharacterConfig
	ChromePath string
}

// OptionsFromConfig builds surface options for a job
func OptionsFromConfig(cfg *config.Config, assetDir string) Options {
	return Options{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Background: cfg.Background,
		AssetDir:   assetDir,
		DPI:        cfg.DPI,
		TrimPages:  cfg.TrimPages,
		Captions:   cfg.Captions,
		Character:  cfg.Character,
		ChromePath: cfg.ChromePath,
	}
}

// CaptionBox returns the caption area, defaulting to a band above the bottom edge
func (o Options) CaptionBox() timeline.Box {
	if b := o.Captions.Box; len(b) == 4 {
		return timeline.Box{X: b[0], Y: b[1], W: b[2], H: b[3]}.Clip(o.Width, o.Height)
	}
	return timeline.Box{
		X: o.Width / 10,
		Y: o.Height * 3 / 4,
		W: o.Width * 8 / 10,
		H: o.Height / 6,
	}
}

// Resolve maps an asset reference to a path on disk
func (o Options) Resolve(ref string) string {
	if ref == "" || filepath.IsAbs(ref) || strings.Contains(ref, "://") {
		return ref
	}
	return filepath.Join(o.AssetDir, ref)
}

// ParseColor understands #rgb, #rrggbb, #rrggbbaa, rgb(), rgba() and a few names
func ParseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "transparent", "none":
		return color.RGBA{}, nil
	case "black":
		return color.RGBA{A: 255}, nil
	case "white":
		return color.RGBA{255, 255, 255, 255}, nil
	}

	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		if len(hex) == 6 {
			hex += "ff"
		}
		if len(hex) != 8 {
			return color.RGBA{}, fmt.Errorf("invalid color %q", s)
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid color %q", s)
		}
		c := color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
		return color.RGBAModel.Convert(c).(color.RGBA), nil
	}

	if body, ok := strings.CutPrefix(s, "rgba("); ok {
		return parseFunc(s, strings.TrimSuffix(body, ")"), 4)
	}
	if body, ok := strings.CutPrefix(s, "rgb("); ok {
		return parseFunc(s, strings.TrimSuffix(body, ")"), 3)
	}
	return color.RGBA{}, fmt.Errorf("unsupported color %q", s)
}

func parseFunc(orig, body string, n int) (color.RGBA, error) {
	parts := strings.Split(body, ",")
	if len(parts) != n {
		return color.RGBA{}, fmt.Errorf("invalid color %q", orig)
	}
	var v [4]float64
	v[3] = 1
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid color %q", orig)
		}
		v[i] = f
	}
	clamp := func(f, max float64) uint8 {
		if f < 0 {
			f = 0
		}
		if f > max {
			f = max
		}
		return uint8(f / max * 255)
	}
	c := color.NRGBA{R: clamp(v[0], 255), G: clamp(v[1], 255), B: clamp(v[2], 255), A: clamp(v[3], 1)}
	return color.RGBAModel.Convert(c).(color.RGBA), nil
}

// ColorOr parses s and falls back to def on error
func ColorOr(s string, def color.RGBA) color.RGBA {
	c, err := ParseColor(s)
	if err != nil {
		return def
	}
	return c
}
