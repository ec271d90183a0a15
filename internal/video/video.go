package video

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/system"
)

// MuxParams describes one mux job
type MuxParams struct {
	Frames  string // ffmpeg input pattern, e.g. dir/frame_%06d.png
	FPS     int
	Width   int
	Height  int
	Audio   string
	Overlay config.OverlayConfig
	Encoder string
	Quality int
	Output  string
}

// Muxer combines a frame sequence with audio into a container
type Muxer interface {
	Mux(ctx context.Context, p MuxParams) error
}

// FFmpegMuxer runs ffmpeg
type FFmpegMuxer struct {
	Binary string
	Logger zerolog.Logger
}

func NewFFmpegMuxer(logger zerolog.Logger) *FFmpegMuxer {
	return &FFmpegMuxer{Binary: "ffmpeg", Logger: logger}
}

func (m *FFmpegMuxer) Mux(ctx context.Context, p MuxParams) error {
	bin := m.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if !system.HasBinary(bin) {
		return fmt.Errorf("%s not found in PATH", bin)
	}

	args := BuildArgs(p)
	m.Logger.Debug().Strs("args", args).Msg("Running ffmpeg")

	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg mux error: %w, output: %s", err, tail(string(out), 2000))
	}

	m.Logger.Info().Str("output", p.Output).Msg("Video muxed")
	return nil
}

// BuildArgs returns the ffmpeg arguments for p. Inputs are ordered frames,
// audio, then the overlay clip.
func BuildArgs(p MuxParams) []string {
	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", p.FPS),
		"-i", p.Frames,
	}

	next := 1
	audioIndex := -1
	if p.Audio != "" {
		audioIndex = next
		next++
		args = append(args, "-i", p.Audio)
	}

	videoOut := "0:v"
	if p.Overlay.Path != "" {
		overlayIndex := next
		args = append(args, "-i", p.Overlay.Path)

		width := OverlayWidth(p.Width, p.Overlay.Scale)
		filter := fmt.Sprintf("[%d:v]scale=%d:-2[ov];[0:v][ov]overlay=%s:eof_action=pass[vout]",
			overlayIndex, width, OverlayPosition(p.Overlay.Corner, p.Overlay.Margin))
		args = append(args, "-filter_complex", filter)
		videoOut = "[vout]"
	}

	args = append(args, "-map", videoOut)
	if audioIndex != -1 {
		args = append(args, "-map", fmt.Sprintf("%d:a", audioIndex), "-c:a", "aac", "-b:a", "192k")
	}

	encoder := p.Encoder
	if encoder == "" {
		encoder = "libx264"
	}
	args = append(args, "-c:v", encoder, "-pix_fmt", "yuv420p", "-r", fmt.Sprintf("%d", p.FPS))
	args = append(args, QualityArgs(encoder, p.Quality)...)
	if audioIndex != -1 {
		args = append(args, "-shortest")
	}
	args = append(args, p.Output)
	return args
}

// QualityArgs maps the quality setting onto encoder-specific flags
func QualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		// VideoToolbox часто не поддерживает -q:v напрямую. Используем битрейт.
		bitrate := quality * 100 // кбит/с. 75 -> 7.5Мбит/с
		return []string{"-b:v", fmt.Sprintf("%dk", bitrate)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

// OverlayWidth is scale × canvas width rounded down to an even number
func OverlayWidth(canvasWidth int, scale float64) int {
	if scale <= 0 || scale > 1 {
		scale = 0.25
	}
	w := int(float64(canvasWidth) * scale)
	w -= w % 2
	if w < 2 {
		w = 2
	}
	return w
}

// OverlayPosition returns the x:y overlay expression for a corner
func OverlayPosition(corner string, margin int) string {
	switch strings.ToLower(corner) {
	case "top-left":
		return fmt.Sprintf("%d:%d", margin, margin)
	case "top-right":
		return fmt.Sprintf("W-w-%d:%d", margin, margin)
	case "bottom-left":
		return fmt.Sprintf("%d:H-h-%d", margin, margin)
	default:
		return fmt.Sprintf("W-w-%d:H-h-%d", margin, margin)
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
