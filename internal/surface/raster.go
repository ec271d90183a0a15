package surface

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/timeline2video/internal/analyzer"
	"github.com/ivlev/timeline2video/internal/compositor"
	"github.com/ivlev/timeline2video/internal/effects"
	"github.com/ivlev/timeline2video/internal/markup"
	"github.com/ivlev/timeline2video/internal/source"
	"github.com/ivlev/timeline2video/internal/system"
	"github.com/ivlev/timeline2video/internal/timeline"
)

var (
	fillerColor = color.RGBA{0x1e, 0x25, 0x33, 0xff}
	textColor   = color.RGBA{0xff, 0xff, 0xff, 0xff}
)

type rasterEntry struct {
	handle  Handle
	entry   timeline.Entry
	content markup.Content
	img     image.Image
}

// Raster is a pure-Go surface. Its output depends only on the pushed state,
// so two runs over the same timeline produce identical frames.
type Raster struct {
	opts   Options
	bounds image.Rectangle
	bg     color.RGBA
	face   font.Face

	entries map[Handle]*rasterEntry
	cache   map[string]image.Image

	camera    effects.CameraState
	caption   compositor.CaptionState
	character compositor.CharacterState
}

// NewRaster creates a raster surface
func NewRaster(opts Options) (*Raster, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid canvas %dx%d", opts.Width, opts.Height)
	}
	if opts.DPI <= 0 {
		opts.DPI = 150
	}

	face, err := LoadFace(opts.Resolve(opts.Captions.Font), opts.Captions.Size)
	if err != nil {
		return nil, err
	}

	return &Raster{
		opts:    opts,
		bounds:  image.Rect(0, 0, opts.Width, opts.Height),
		bg:      ColorOr(opts.Background, color.RGBA{A: 255}),
		face:    face,
		entries: make(map[Handle]*rasterEntry),
		cache:   make(map[string]image.Image),
		camera:  effects.Identity,
	}, nil
}

// LoadFace loads a TrueType font file. Anything that is not a font file
// path (a family name such as "Arial") gets the built-in bitmap face.
func LoadFace(path string, size int) (font.Face, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ttf", ".otf":
	default:
		return basicfont.Face7x13, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("font: %w", err)
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("font %s: %w", path, err)
	}
	if size <= 0 {
		size = 32
	}
	return truetype.NewFace(f, &truetype.Options{Size: float64(size), DPI: 72, Hinting: font.HintingFull}), nil
}

func (r *Raster) Mount(h Handle, e timeline.Entry) error {
	if _, ok := r.entries[h]; ok {
		return fmt.Errorf("handle %d already mounted", h)
	}

	re := &rasterEntry{handle: h, entry: e, content: markup.Parse(e.Content)}
	// Удаленные картинки растр не загружает, остается только текст
	if len(re.content.Images) > 0 && !isRemote(re.content.Images[0]) {
		img, err := r.load(re.content.Images[0])
		if err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
		re.img = img
	}
	r.entries[h] = re
	return nil
}

func (r *Raster) Unmount(h Handle) error {
	if _, ok := r.entries[h]; !ok {
		return fmt.Errorf("handle %d not mounted", h)
	}
	delete(r.entries, h)
	return nil
}

func (r *Raster) SetCamera(s effects.CameraState) error {
	if s.Scale <= 0 {
		s = effects.Identity
	}
	r.camera = s
	return nil
}

func (r *Raster) SetCaption(s compositor.CaptionState) error {
	r.caption = s
	return nil
}

func (r *Raster) SetCharacter(s compositor.CharacterState) error {
	r.character = s
	return nil
}

// Seek does nothing. Raster content has no clock of its own: everything
// that moves is pushed in as state for the frame.
func (r *Raster) Seek(t float64) error {
	return nil
}

func (r *Raster) Capture(w io.Writer) error {
	scene := system.GetImage(r.bounds)
	defer system.PutImage(scene)
	draw.Draw(scene, r.bounds, image.NewUniform(r.bg), image.Point{}, draw.Src)

	for _, re := range r.ordered() {
		r.drawEntry(scene, re)
	}

	frame := system.GetImage(r.bounds)
	defer system.PutImage(frame)
	draw.Draw(frame, r.bounds, image.NewUniform(r.bg), image.Point{}, draw.Src)

	if r.camera == effects.Identity {
		draw.Draw(frame, r.bounds, scene, image.Point{}, draw.Src)
	} else {
		draw.ApproxBiLinear.Transform(frame, r.camera.Matrix(r.opts.Width, r.opts.Height), scene, r.bounds, draw.Src, nil)
	}

	if err := r.drawCharacter(frame); err != nil {
		return err
	}
	r.drawCaption(frame)

	return png.Encode(w, frame)
}

func (r *Raster) Close() error {
	r.entries = make(map[Handle]*rasterEntry)
	r.cache = make(map[string]image.Image)
	return nil
}

// ordered returns mounted entries bottom to top
func (r *Raster) ordered() []*rasterEntry {
	out := make([]*rasterEntry, 0, len(r.entries))
	for _, re := range r.entries {
		out = append(out, re)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].entry.Z != out[j].entry.Z {
			return out[i].entry.Z < out[j].entry.Z
		}
		return out[i].handle < out[j].handle
	})
	return out
}

func (r *Raster) load(ref string) (image.Image, error) {
	if img, ok := r.cache[ref]; ok {
		return img, nil
	}
	path := r.opts.Resolve(ref)
	img, err := source.LoadRef(path, r.opts.DPI)
	if err != nil {
		return nil, err
	}
	if p, _ := source.SplitRef(path); r.opts.TrimPages && source.IsPDF(p) {
		img = analyzer.TrimMargins(img, r.opts.DPI/6)
	}
	r.cache[ref] = img
	return img, nil
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func boxRect(b timeline.Box) image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// fitRect scales src to fit inside box keeping its aspect, centered
func fitRect(src, box image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 {
		return image.Rectangle{}
	}
	scale := float64(box.Dx()) / float64(sw)
	if s := float64(box.Dy()) / float64(sh); s < scale {
		scale = s
	}
	w, h := int(float64(sw)*scale), int(float64(sh)*scale)
	x := box.Min.X + (box.Dx()-w)/2
	y := box.Min.Y + (box.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func (r *Raster) drawEntry(dst draw.Image, re *rasterEntry) {
	box := boxRect(re.entry.Box).Intersect(r.bounds)
	if box.Empty() {
		return
	}

	if re.content.Filler {
		draw.Draw(dst, box, image.NewUniform(fillerColor), image.Point{}, draw.Over)
	}
	if re.img != nil {
		draw.ApproxBiLinear.Scale(dst, fitRect(re.img.Bounds(), box), re.img, re.img.Bounds(), draw.Over, nil)
		if !re.content.Filler {
			return
		}
	}
	if re.content.Text != "" {
		inner := box.Inset(r.opts.Captions.Padding)
		r.drawText(dst, inner, r.wrap(inner.Dx(), strings.Fields(re.content.Text), 0), -1, "center")
	}
}

// drawText draws wrapped lines vertically centered in box. The word whose
// input index is highlight uses the caption highlight color.
func (r *Raster) drawText(dst draw.Image, box image.Rectangle, lines []textLine, highlight int, align string) {
	lineHeight := r.lineHeight()
	if fit := box.Dy() / lineHeight; len(lines) > fit {
		lines = lines[:fit]
	}

	base := textColor
	accent := ColorOr(r.opts.Captions.HighlightColor, base)
	if c, err := ParseColor(r.opts.Captions.Color); err == nil && c.A > 0 {
		base = c
	}

	ascent := r.face.Metrics().Ascent.Ceil()
	y := box.Min.Y + (box.Dy()-len(lines)*lineHeight)/2 + ascent
	space := font.MeasureString(r.face, " ")

	for _, line := range lines {
		width := font.MeasureString(r.face, strings.Join(line.words, " "))
		x := fixed.I(box.Min.X)
		switch align {
		case "left":
		case "right":
			x = fixed.I(box.Max.X) - width
		default:
			x += (fixed.I(box.Dx()) - width) / 2
		}

		d := &font.Drawer{Dst: dst, Face: r.face, Dot: fixed.Point26_6{X: x, Y: fixed.I(y)}}
		for i, w := range line.words {
			d.Src = image.NewUniform(base)
			if line.first+i == highlight {
				d.Src = image.NewUniform(accent)
			}
			d.DrawString(w)
			d.Dot.X += space
		}
		y += lineHeight
	}
}

type textLine struct {
	words []string
	first int // index of the first word in the input
}

// wrap breaks words into lines no wider than width. maxWords > 0 also caps
// the word count per line.
func (r *Raster) wrap(width int, words []string, maxWords int) []textLine {
	var lines []textLine
	var cur textLine
	limit := fixed.I(width)

	for i, w := range words {
		if len(cur.words) > 0 {
			candidate := strings.Join(append(append([]string(nil), cur.words...), w), " ")
			if font.MeasureString(r.face, candidate) > limit || (maxWords > 0 && len(cur.words) >= maxWords) {
				lines = append(lines, cur)
				cur = textLine{}
			}
		}
		if len(cur.words) == 0 {
			cur.first = i
		}
		cur.words = append(cur.words, w)
	}
	if len(cur.words) > 0 {
		lines = append(lines, cur)
	}
	return lines
}

func (r *Raster) lineHeight() int {
	h := r.face.Metrics().Height.Ceil()
	if lh := r.opts.Captions.LineHeight; lh > 0 {
		h = int(float64(h) * lh)
	}
	if h < 1 {
		h = 1
	}
	return h
}

func (r *Raster) drawCaption(dst draw.Image) {
	if !r.caption.Visible || len(r.caption.Words) == 0 {
		return
	}
	box := boxRect(r.opts.CaptionBox())
	if bg, err := ParseColor(r.opts.Captions.Background); err == nil && bg.A > 0 {
		draw.Draw(dst, box, image.NewUniform(bg), image.Point{}, draw.Over)
	}

	inner := box.Inset(r.opts.Captions.Padding)
	lines := r.wrap(inner.Dx(), r.caption.Words, r.opts.Captions.MaxWordsPerLine)
	if limit := r.opts.Captions.MaxLines; limit > 0 && len(lines) > limit {
		// Keep the lines around the spoken word.
		from := 0
		for i, l := range lines {
			if r.caption.Highlight >= l.first {
				from = i
			}
		}
		if from+limit > len(lines) {
			from = len(lines) - limit
		}
		lines = lines[from : from+limit]
	}
	r.drawText(dst, inner, lines, r.caption.Highlight, r.opts.Captions.TextAlign)
}

func (r *Raster) drawCharacter(dst draw.Image) error {
	c := r.character
	if !c.Visible || c.Spec.Image == "" {
		return nil
	}

	pose, err := r.load(c.Spec.Image)
	if err != nil {
		return fmt.Errorf("pose %s: %w", c.Pose, err)
	}

	scale := c.Spec.Scale
	if scale <= 0 {
		scale = 1
	}
	ax, ay := c.Spec.AnchorX, c.Spec.AnchorY
	if ax == 0 && ay == 0 {
		ax, ay = 0.85, 1
	}

	// The anchor is the bottom-center of the pose image.
	w := int(float64(pose.Bounds().Dx()) * scale)
	h := int(float64(pose.Bounds().Dy()) * scale)
	x := int(ax*float64(r.opts.Width)) - w/2
	y := int(ay*float64(r.opts.Height)) - h
	rect := image.Rect(x, y, x+w, y+h)

	draw.ApproxBiLinear.Scale(dst, rect, pose, pose.Bounds(), draw.Over, nil)

	if c.Sprite != "" {
		mouth, err := r.load(c.Sprite)
		if err != nil {
			return fmt.Errorf("sprite %s: %w", c.Code, err)
		}
		// Mouth sprites are layers drawn at the pose's size.
		draw.ApproxBiLinear.Scale(dst, rect, mouth, mouth.Bounds(), draw.Over, nil)
	}
	return nil
}
