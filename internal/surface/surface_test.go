package surface

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ivlev/timeline2video/internal/compositor"
	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/effects"
	"github.com/ivlev/timeline2video/internal/timeline"
)

func testOptions(dir string) Options {
	cfg := config.Default()
	cfg.Width, cfg.Height = 160, 90
	return OptionsFromConfig(cfg, dir)
}

func writeSolidPNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func capture(t *testing.T, s Surface) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := s.Capture(&buf); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Invalid PNG: %v", err)
	}
	return img
}

func TestRasterDrawsImageEntry(t *testing.T) {
	dir := t.TempDir()
	writeSolidPNG(t, filepath.Join(dir, "red.png"), color.RGBA{255, 0, 0, 255})

	r, err := NewRaster(testOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	entry := timeline.Entry{ID: "a", Start: 0, End: 1, Box: timeline.Box{X: 0, Y: 0, W: 40, H: 40}, Content: `<img src="red.png">`, Z: 1}
	if err := r.Mount(1, entry); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	img := decode(t, capture(t, r))
	if img.Bounds().Dx() != 160 || img.Bounds().Dy() != 90 {
		t.Fatalf("Unexpected frame size %v", img.Bounds())
	}
	if got := color.RGBAModel.Convert(img.At(20, 20)).(color.RGBA); got.R < 200 || got.G > 50 {
		t.Errorf("Expected red inside the box, got %v", got)
	}
	if got := color.RGBAModel.Convert(img.At(120, 70)).(color.RGBA); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("Expected background outside the box, got %v", got)
	}
}

func TestRasterMountErrors(t *testing.T) {
	r, err := NewRaster(testOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Mount(1, timeline.Entry{ID: "x", Content: `<img src="missing.png">`}); err == nil {
		t.Error("Expected error for missing image")
	}
	if err := r.Mount(2, timeline.Entry{ID: "y", Content: "text"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Mount(2, timeline.Entry{ID: "y"}); err == nil {
		t.Error("Expected error for double mount")
	}
	if err := r.Mount(4, timeline.Entry{ID: "z", Content: `<img src="https://cdn.example.com/a.png"><p>caption</p>`}); err != nil {
		t.Errorf("Remote image should not fail the mount: %v", err)
	}
	if err := r.Unmount(3); err == nil {
		t.Error("Expected error for unknown handle")
	}
	if err := r.Unmount(2); err != nil {
		t.Errorf("Unmount failed: %v", err)
	}
}

func TestRasterIsDeterministic(t *testing.T) {
	render := func() []byte {
		r, err := NewRaster(testOptions(t.TempDir()))
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		r.Mount(1, timeline.Entry{ID: "f", Box: timeline.FullCanvas(160, 90), Content: `<div class="filler"><p>hello there</p></div>`, Z: 1})
		r.SetCamera(effects.CameraState{Scale: 1.1, OffsetX: 3})
		r.SetCaption(compositor.CaptionState{Visible: true, Words: []string{"hi", "you"}, Highlight: 1})
		r.Seek(1.5)
		return capture(t, r)
	}

	if !bytes.Equal(render(), render()) {
		t.Error("Identical state produced different frames")
	}
}

func TestRasterSeekDoesNotChangeFrame(t *testing.T) {
	r, err := NewRaster(testOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	r.Mount(1, timeline.Entry{ID: "f", Box: timeline.FullCanvas(160, 90), Content: `<div class="filler"><p>still</p></div>`, Z: 1})

	r.Seek(0)
	before := capture(t, r)
	r.Seek(42.5)
	if !bytes.Equal(before, capture(t, r)) {
		t.Error("Seek changed a raster frame without any state change")
	}
}

func TestRasterStateChangesFrame(t *testing.T) {
	r, err := NewRaster(testOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	r.Mount(1, timeline.Entry{ID: "f", Box: timeline.FullCanvas(160, 90), Content: `<div class="filler"><p>hello</p></div>`, Z: 1})

	base := capture(t, r)

	r.SetCaption(compositor.CaptionState{Visible: true, Words: []string{"caption"}, Highlight: 0})
	withCaption := capture(t, r)
	if bytes.Equal(base, withCaption) {
		t.Error("Caption did not change the frame")
	}

	r.SetCaption(compositor.CaptionState{Highlight: -1})
	r.SetCamera(effects.CameraState{Scale: 1.5})
	if bytes.Equal(base, capture(t, r)) {
		t.Error("Camera did not change the frame")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
		ok   bool
	}{
		{"#fff", color.RGBA{255, 255, 255, 255}, true},
		{"#FF0000", color.RGBA{255, 0, 0, 255}, true},
		{"#00ff0080", color.RGBA{0, 128, 0, 128}, true},
		{"rgb(0, 0, 255)", color.RGBA{0, 0, 255, 255}, true},
		{"rgba(0,0,0,0)", color.RGBA{}, true},
		{"black", color.RGBA{A: 255}, true},
		{"transparent", color.RGBA{}, true},
		{"#12", color.RGBA{}, false},
		{"hsl(1,2,3)", color.RGBA{}, false},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseColor(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCaptionBox(t *testing.T) {
	o := Options{Width: 1000, Height: 800}
	if got := o.CaptionBox(); got != (timeline.Box{X: 100, Y: 600, W: 800, H: 133}) {
		t.Errorf("Unexpected default caption box %v", got)
	}
	o.Captions.Box = []int{900, 700, 500, 500}
	if got := o.CaptionBox(); got != (timeline.Box{X: 900, Y: 700, W: 100, H: 100}) {
		t.Errorf("Configured box should be clipped, got %v", got)
	}
}

func TestFitRect(t *testing.T) {
	got := fitRect(image.Rect(0, 0, 200, 100), image.Rect(0, 0, 100, 100))
	if got != image.Rect(0, 25, 100, 75) {
		t.Errorf("fitRect = %v", got)
	}
}

func TestResolve(t *testing.T) {
	o := Options{AssetDir: "/assets"}
	tests := map[string]string{
		"a.png":             "/assets/a.png",
		"/abs/b.png":        "/abs/b.png",
		"https://x.io/c.png": "https://x.io/c.png",
		"deck.pdf#2":        "/assets/deck.pdf#2",
	}
	for in, want := range tests {
		if got := o.Resolve(in); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}
}
