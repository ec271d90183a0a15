package renderer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ivlev/timeline2video/internal/compositor"
	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/effects"
	"github.com/ivlev/timeline2video/internal/surface"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// fakeSurface records every call the renderer makes
type fakeSurface struct {
	mounted  map[surface.Handle]string
	calls    []string
	seeks    []float64
	cameras  []effects.CameraState
	captions []compositor.CaptionState
	chars    []compositor.CharacterState
	failAt   int // capture index that fails, -1 for none
	captures int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{mounted: make(map[surface.Handle]string), failAt: -1}
}

func (f *fakeSurface) Mount(h surface.Handle, e timeline.Entry) error {
	if _, ok := f.mounted[h]; ok {
		return fmt.Errorf("handle %d reused while mounted", h)
	}
	f.mounted[h] = e.ID
	f.calls = append(f.calls, "mount "+e.ID)
	return nil
}

func (f *fakeSurface) Unmount(h surface.Handle) error {
	id, ok := f.mounted[h]
	if !ok {
		return fmt.Errorf("handle %d not mounted", h)
	}
	delete(f.mounted, h)
	f.calls = append(f.calls, "unmount "+id)
	return nil
}

func (f *fakeSurface) SetCamera(s effects.CameraState) error {
	f.cameras = append(f.cameras, s)
	return nil
}

func (f *fakeSurface) SetCaption(s compositor.CaptionState) error {
	f.captions = append(f.captions, s)
	return nil
}

func (f *fakeSurface) SetCharacter(s compositor.CharacterState) error {
	f.chars = append(f.chars, s)
	return nil
}

func (f *fakeSurface) Seek(t float64) error {
	f.seeks = append(f.seeks, t)
	return nil
}

func (f *fakeSurface) Capture(w io.Writer) error {
	defer func() { f.captures++ }()
	if f.captures == f.failAt {
		return errors.New("screenshot timed out")
	}
	_, err := fmt.Fprintf(w, "frame %d", f.captures)
	return err
}

func (f *fakeSurface) Close() error { return nil }

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

// memSink keeps frames in memory; drop simulates a sink losing frames
type memSink struct {
	frames map[int]*bytes.Buffer
	drop   int
}

func newMemSink() *memSink { return &memSink{frames: make(map[int]*bytes.Buffer)} }

func (m *memSink) Create(i int) (io.WriteCloser, error) {
	b := &bytes.Buffer{}
	m.frames[i] = b
	return nopCloser{b}, nil
}

func (m *memSink) Count() (int, error) { return len(m.frames) - m.drop, nil }

func (m *memSink) Clear() error {
	m.frames = make(map[int]*bytes.Buffer)
	return nil
}

func TestFrameClock(t *testing.T) {
	tests := []struct {
		duration float64
		fps      int
		want     int
	}{
		{10.0, 30, 300},
		{10.01, 30, 301},
		{1.0 / 3.0 * 3, 30, 30},
		{0.5, 25, 13},
		{0, 30, 0},
		{5, 0, 0},
	}
	for _, tt := range tests {
		c := FrameClock{Duration: tt.duration, FPS: tt.fps}
		if got := c.TotalFrames(); got != tt.want {
			t.Errorf("TotalFrames(%v@%d) = %d, want %d", tt.duration, tt.fps, got, tt.want)
		}
	}

	c := FrameClock{Duration: 10, FPS: 30}
	last := c.TimeAt(c.TotalFrames() - 1)
	t.Logf("Last frame samples t=%.4f", last)
	if math.Abs(last-9.9667) > 1e-4 || last >= 10 {
		t.Errorf("Frame 299 should sample ~9.9667, got %f", last)
	}
}

func TestRenderReconcilesByID(t *testing.T) {
	entries := []timeline.Entry{
		{ID: "a", Start: 0, End: 1, Z: 1},
		{ID: "b", Start: 0.5, End: 2, Z: 2},
		{ID: "c", Start: 1, End: 2, Z: 3},
	}
	s := newFakeSurface()
	sink := newMemSink()
	r := NewRenderer(s, sink, FrameClock{Duration: 2, FPS: 4}, entries)

	stats, err := r.Render()
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	want := []string{"mount a", "mount b", "unmount a", "mount c", "unmount b", "unmount c"}
	if fmt.Sprint(s.calls) != fmt.Sprint(want) {
		t.Errorf("Unexpected surface calls:\n got %v\nwant %v", s.calls, want)
	}
	if stats.Frames != 8 || stats.Mounts != 3 || stats.Unmounts != 3 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if len(s.mounted) != 0 {
		t.Errorf("Entries left mounted: %v", s.mounted)
	}
}

func TestRenderSeeksAbsoluteTime(t *testing.T) {
	s := newFakeSurface()
	r := NewRenderer(s, newMemSink(), FrameClock{Duration: 10, FPS: 30}, []timeline.Entry{{ID: "x", Start: 0, End: 10}})

	if _, err := r.Render(); err != nil {
		t.Fatal(err)
	}
	if len(s.seeks) != 300 {
		t.Fatalf("Expected 300 seeks, got %d", len(s.seeks))
	}
	for i, got := range s.seeks {
		if got != float64(i)/30 {
			t.Fatalf("Frame %d seeked to %f", i, got)
		}
	}
}

func TestRenderCaptureFailureAborts(t *testing.T) {
	s := newFakeSurface()
	s.failAt = 5
	sink := newMemSink()
	r := NewRenderer(s, sink, FrameClock{Duration: 1, FPS: 30}, nil)

	_, err := r.Render()
	if !errors.Is(err, ErrCaptureFailure) {
		t.Fatalf("Expected ErrCaptureFailure, got %v", err)
	}
	if len(sink.frames) != 0 {
		t.Errorf("Partial frames were kept: %d", len(sink.frames))
	}
	if s.captures != 6 {
		t.Errorf("Render continued after failure: %d captures", s.captures)
	}
}

func TestRenderFrameCountMismatch(t *testing.T) {
	sink := newMemSink()
	sink.drop = 1
	r := NewRenderer(newFakeSurface(), sink, FrameClock{Duration: 1, FPS: 10}, nil)

	if _, err := r.Render(); !errors.Is(err, ErrFrameCountMismatch) {
		t.Errorf("Expected ErrFrameCountMismatch, got %v", err)
	}
}

func TestRenderTracks(t *testing.T) {
	entries := []timeline.Entry{
		{ID: "slide", Start: 0, End: 2, Z: 1, Pose: "pointing"},
		{ID: "brand", Start: 0, End: 2, Z: 9, Kind: timeline.KindBranding},
	}
	words := []timeline.Word{{Text: "hello", Start: 0, End: 0.4}, {Text: "world", Start: 0.5, End: 0.9}}
	captions := compositor.NewCaptionTrack(words, config.CaptionConfig{GapThreshold: 0.6, PerWordHighlighting: true, MaxWordsPerLine: 5})
	lips, err := compositor.NewLipSync(
		[]compositor.PhonemeInterval{{Code: "A", Start: 0.5, End: 0.75}},
		config.CharacterConfig{
			Sprites: map[string]string{"closed": "closed.png", "A": "a.png"},
			Poses:   map[string]config.Pose{"pointing": {Image: "point.png", Scale: 1}},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	s := newFakeSurface()
	r := NewRenderer(s, newMemSink(), FrameClock{Duration: 1, FPS: 4}, entries)
	r.Camera = effects.NewCamera(1280, 720)
	r.Captions = captions
	r.LipSync = lips

	if _, err := r.Render(); err != nil {
		t.Fatal(err)
	}

	// t = 0, 0.25, 0.5, 0.75
	if s.captions[0].Highlight != 0 || s.captions[2].Highlight != 1 {
		t.Errorf("Unexpected highlights %+v", s.captions)
	}
	if s.chars[2].Code != "A" || s.chars[3].Code != compositor.ClosedMouth {
		t.Errorf("Unexpected mouth codes %q %q", s.chars[2].Code, s.chars[3].Code)
	}
	if s.chars[0].Pose != "pointing" {
		t.Errorf("Pose should follow the focal entry, got %q", s.chars[0].Pose)
	}

	want := r.Camera.StateFor(entries[0], 0.75)
	if s.cameras[3] != want {
		t.Errorf("Camera must follow the non-branding entry: got %+v want %+v", s.cameras[3], want)
	}
}

func TestRenderEmptyTimelineUsesIdentityCamera(t *testing.T) {
	s := newFakeSurface()
	r := NewRenderer(s, newMemSink(), FrameClock{Duration: 0.2, FPS: 10}, nil)
	r.Camera = effects.NewCamera(100, 100)

	if _, err := r.Render(); err != nil {
		t.Fatal(err)
	}
	for _, c := range s.cameras {
		if c != effects.Identity {
			t.Errorf("Expected identity camera, got %+v", c)
		}
	}
}

func TestArenaReusesHandles(t *testing.T) {
	s := newFakeSurface()
	a := newArena()

	if err := a.reconcile(s, []timeline.Entry{{ID: "a"}, {ID: "b", Start: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := a.reconcile(s, []timeline.Entry{{ID: "b", Start: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := a.reconcile(s, []timeline.Entry{{ID: "b", Start: 1}, {ID: "c", Start: 2}}); err != nil {
		t.Fatal(err)
	}
	if a.next != 3 {
		t.Errorf("Expected the freed handle to be reused, next=%d", a.next)
	}
	if a.live() != 2 {
		t.Errorf("Expected 2 live entries, got %d", a.live())
	}
}

func TestDirSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	sink, err := NewDirSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		w, err := sink.Create(i)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte("png"))
		w.Close()
	}
	os.WriteFile(filepath.Join(dir, "other.txt"), nil, 0644)

	if n, _ := sink.Count(); n != 3 {
		t.Errorf("Expected 3 frames, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "frame_000002.png")); err != nil {
		t.Errorf("Frame file not named by pattern: %v", err)
	}
	if err := sink.Clear(); err != nil {
		t.Fatal(err)
	}
	if n, _ := sink.Count(); n != 0 {
		t.Errorf("Expected empty sink after Clear, got %d", n)
	}
}

func TestRenderReplacesStaleFrames(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 60; i++ {
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf(FramePattern, i)), []byte("old"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	sink, err := NewDirSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRenderer(newFakeSurface(), sink, FrameClock{Duration: 1, FPS: 30}, nil)
	stats, err := r.Render()
	if err != nil {
		t.Fatalf("Render failed with a reused frame dir: %v", err)
	}
	if n, _ := CountFrames(dir); n != 30 || stats.Frames != 30 {
		t.Errorf("Expected 30 frames on disk, got %d (stats %d)", n, stats.Frames)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, fmt.Sprintf(FramePattern, 0))); string(data) == "old" {
		t.Error("Frame 0 still holds the previous run's data")
	}
}
