package video

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ivlev/timeline2video/internal/config"
)

func TestBuildArgsFramesAndAudio(t *testing.T) {
	args := BuildArgs(MuxParams{
		Frames:  "/tmp/f/frame_%06d.png",
		FPS:     30,
		Width:   1280,
		Height:  720,
		Audio:   "voice.mp3",
		Encoder: "libx264",
		Quality: 23,
		Output:  "out.mp4",
	})
	got := strings.Join(args, " ")
	t.Logf("Args: %s", got)

	want := "-y -framerate 30 -i /tmp/f/frame_%06d.png -i voice.mp3 -map 0:v -map 1:a -c:a aac -b:a 192k " +
		"-c:v libx264 -pix_fmt yuv420p -r 30 -crf 23 -preset medium -shortest out.mp4"
	if got != want {
		t.Errorf("Unexpected args:\n got %s\nwant %s", got, want)
	}
}

func TestBuildArgsOverlay(t *testing.T) {
	args := BuildArgs(MuxParams{
		Frames:  "frames/frame_%06d.png",
		FPS:     25,
		Width:   1280,
		Audio:   "a.wav",
		Overlay: config.OverlayConfig{Path: "avatar.mp4", Corner: "top-left", Scale: 0.25, Margin: 24},
		Output:  "out.mp4",
	})
	got := strings.Join(args, " ")

	if !strings.Contains(got, "-i avatar.mp4") {
		t.Errorf("Overlay input missing: %s", got)
	}
	if !strings.Contains(got, "[2:v]scale=320:-2[ov];[0:v][ov]overlay=24:24:eof_action=pass[vout]") {
		t.Errorf("Unexpected overlay filter: %s", got)
	}
	if !strings.Contains(got, "-map [vout] -map 1:a") {
		t.Errorf("Unexpected mapping: %s", got)
	}
}

func TestBuildArgsWithoutAudio(t *testing.T) {
	got := strings.Join(BuildArgs(MuxParams{Frames: "f_%06d.png", FPS: 10, Output: "o.mp4"}), " ")
	if strings.Contains(got, "-shortest") || strings.Contains(got, ":a") {
		t.Errorf("Audio arguments without audio: %s", got)
	}
}

func TestQualityArgs(t *testing.T) {
	tests := []struct {
		encoder string
		want    string
	}{
		{"h264_videotoolbox", "-b:v 7500k"},
		{"h264_nvenc", "-cq 75"},
		{"libx264", "-crf 75 -preset medium"},
	}
	for _, tt := range tests {
		if got := strings.Join(QualityArgs(tt.encoder, 75), " "); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.encoder, got, tt.want)
		}
	}
}

func TestOverlayGeometry(t *testing.T) {
	if w := OverlayWidth(1280, 0.25); w != 320 {
		t.Errorf("Expected 320, got %d", w)
	}
	if w := OverlayWidth(1001, 0.5); w%2 != 0 {
		t.Errorf("Overlay width must be even, got %d", w)
	}
	if w := OverlayWidth(1280, 0); w != 320 {
		t.Errorf("Invalid scale should use the default, got %d", w)
	}

	tests := map[string]string{
		"top-left":     "10:10",
		"top-right":    "W-w-10:10",
		"bottom-left":  "10:H-h-10",
		"bottom-right": "W-w-10:H-h-10",
		"":             "W-w-10:H-h-10",
	}
	for corner, want := range tests {
		if got := OverlayPosition(corner, 10); got != want {
			t.Errorf("OverlayPosition(%q) = %s, want %s", corner, got, want)
		}
	}
}

func TestMuxFrames(t *testing.T) {
	out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
	if err != nil || !strings.Contains(string(out), "libx264") {
		t.Skip("ffmpeg with libx264 not available")
	}

	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 64, 36))
		for p := range img.Pix {
			img.Pix[p] = uint8(i * 40)
		}
		img.Set(0, 0, color.White)
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i)))
		if err != nil {
			t.Fatal(err)
		}
		png.Encode(f, img)
		f.Close()
	}

	output := filepath.Join(dir, "out.mp4")
	m := NewFFmpegMuxer(zerolog.Nop())
	err = m.Mux(context.Background(), MuxParams{
		Frames:  filepath.Join(dir, "frame_%06d.png"),
		FPS:     5,
		Width:   64,
		Height:  36,
		Encoder: "libx264",
		Quality: 28,
		Output:  output,
	})
	if err != nil {
		t.Fatalf("Mux failed: %v", err)
	}
	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		t.Errorf("Output not written: %v", err)
	}
}
