package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivlev/timeline2video/internal/assets"
	"github.com/ivlev/timeline2video/internal/compositor"
	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/effects"
	"github.com/ivlev/timeline2video/internal/logging"
	"github.com/ivlev/timeline2video/internal/renderer"
	"github.com/ivlev/timeline2video/internal/surface"
	"github.com/ivlev/timeline2video/internal/system"
	"github.com/ivlev/timeline2video/internal/timeline"
	"github.com/ivlev/timeline2video/internal/video"
)

// RenderOptions are the per-job inputs of a render
type RenderOptions struct {
	Timeline string
	Audio    string
	Words    string  // word timestamps for captions
	Output   string  // empty: timestamped name in output/
	Duration float64 // overrides the audio duration when > 0
	AssetDir string  // base for relative content references; defaults to the timeline's dir
	WorkDir  string  // frames and intermediates; defaults to a temp dir
	Keep     bool    // keep WorkDir after the run
	Progress bool
}

// Result describes a finished render
type Result struct {
	RunID    string
	Output   string
	Frames   int
	Duration float64
}

// SurfaceFactory opens the render surface for a job
type SurfaceFactory func(ctx context.Context, kind string, opts surface.Options) (surface.Surface, error)

// VideoProject runs render jobs
type VideoProject struct {
	Config     *config.Config
	Muxer      video.Muxer
	NewSurface SurfaceFactory
	Logger     zerolog.Logger

	tempDir string
}

func NewVideoProject(cfg *config.Config, mux video.Muxer, logger zerolog.Logger) *VideoProject {
	return &VideoProject{
		Config:     cfg,
		Muxer:      mux,
		NewSurface: OpenSurface,
		Logger:     logger,
	}
}

// OpenSurface creates the surface named by kind
func OpenSurface(ctx context.Context, kind string, opts surface.Options) (surface.Surface, error) {
	switch kind {
	case "browser":
		return surface.NewBrowser(ctx, opts)
	case "raster", "":
		return surface.NewRaster(opts)
	}
	return nil, fmt.Errorf("unknown surface %q", kind)
}

// Run validates assets, renders every frame and muxes the video. Nothing
// is rendered when an asset is missing.
func (p *VideoProject) Run(ctx context.Context, opts RenderOptions) (*Result, error) {
	startTime := time.Now()
	var renderStart, renderEnd, muxStart time.Time

	runID := uuid.NewString()
	logger := logging.WithRun(p.Logger, runID)
	cfg := p.Config

	entries, err := timeline.ReadTimeline(opts.Timeline)
	if err != nil {
		return nil, err
	}
	assetDir := opts.AssetDir
	if assetDir == "" {
		assetDir = filepath.Dir(opts.Timeline)
	}

	if err := assets.Validate(assets.Job{Audio: opts.Audio, Entries: entries, AssetDir: assetDir, Config: cfg}); err != nil {
		return nil, err
	}

	duration, err := p.duration(ctx, opts, entries)
	if err != nil {
		return nil, err
	}

	p.tempDir = opts.WorkDir
	owned := p.tempDir == ""
	if owned {
		p.tempDir, err = os.MkdirTemp("", "timeline2video_"+runID[:8]+"_")
	} else {
		err = os.MkdirAll(p.tempDir, 0755)
	}
	if err != nil {
		return nil, err
	}
	if !opts.Keep {
		defer p.cleanup(owned, logger)
	}

	if cfg.Branding.Enabled {
		b, err := BrandingEntry(cfg, duration, p.tempDir, assetDir)
		if err != nil {
			return nil, fmt.Errorf("branding: %w", err)
		}
		entries = append(entries, b)
	}

	logger.Info().
		Str("timeline", opts.Timeline).
		Int("entries", len(entries)).
		Str("surface", cfg.Surface).
		Str("canvas", fmt.Sprintf("%dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)).
		Float64("duration", duration).
		Msg("Render job started")

	if cfg.Surface == "browser" {
		entries, err = assets.RasterizePages(entries, assetDir, filepath.Join(p.tempDir, "pages"), cfg.DPI, cfg.TrimPages)
		if err != nil {
			return nil, err
		}
	}

	surf, err := p.NewSurface(ctx, cfg.Surface, surface.OptionsFromConfig(cfg, assetDir))
	if err != nil {
		return nil, fmt.Errorf("surface: %w", err)
	}
	defer surf.Close()

	sink, err := renderer.NewDirSink(filepath.Join(p.tempDir, "frames"))
	if err != nil {
		return nil, err
	}

	r := renderer.NewRenderer(surf, sink, renderer.FrameClock{Duration: duration, FPS: cfg.FPS}, entries)
	r.Camera = effects.NewCamera(cfg.Width, cfg.Height)
	r.Logger = logger.With().Str("component", "renderer").Logger()
	r.ShowProgress = opts.Progress
	if err := p.tracks(r, opts, logger); err != nil {
		return nil, err
	}

	renderStart = time.Now()
	stats, err := r.Render()
	if err != nil {
		return nil, err
	}
	renderEnd = time.Now()

	output := opts.Output
	if output == "" {
		output = filepath.Join("output", fmt.Sprintf("video_%s.mp4", time.Now().Format("2006-01-02_15-04-05")))
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, err
	}

	encoder, quality := p.encoder(ctx)
	muxStart = time.Now()
	err = p.Muxer.Mux(ctx, video.MuxParams{
		Frames:  sink.Pattern(),
		FPS:     cfg.FPS,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Audio:   opts.Audio,
		Overlay: cfg.Overlay,
		Encoder: encoder,
		Quality: quality,
		Output:  output,
	})
	if err != nil {
		return nil, fmt.Errorf("mux: %w", err)
	}

	if cfg.ShowStats {
		p.report(ctx, perfReport{
			Timeline: opts.Timeline,
			Frames:   stats.Frames,
			Mounts:   stats.Mounts,
			Total:    time.Since(startTime),
			Render:   renderEnd.Sub(renderStart),
			Mux:      time.Since(muxStart),
		})
	}

	logger.Info().Str("output", output).Int("frames", stats.Frames).Msg("Render job finished")
	return &Result{RunID: runID, Output: output, Frames: stats.Frames, Duration: duration}, nil
}

// workFiles are the names a job creates inside its work dir
var workFiles = []string{"frames", "pages", brandingQRFile}

// cleanup removes the work dir when the job created it. A user-supplied
// dir keeps everything except what the job wrote there.
func (p *VideoProject) cleanup(owned bool, logger zerolog.Logger) {
	if owned {
		os.RemoveAll(p.tempDir)
		return
	}
	for _, name := range workFiles {
		if err := os.RemoveAll(filepath.Join(p.tempDir, name)); err != nil {
			logger.Warn().Err(err).Str("path", name).Msg("Failed to clean work dir")
		}
	}
}

// duration is the explicit override, the audio length, or the end of the
// last entry when there is no audio.
func (p *VideoProject) duration(ctx context.Context, opts RenderOptions, entries []timeline.Entry) (float64, error) {
	if opts.Duration > 0 {
		return opts.Duration, nil
	}
	if opts.Audio != "" {
		d, err := system.GetAudioDuration(ctx, opts.Audio)
		if err != nil {
			return 0, fmt.Errorf("audio duration: %w", err)
		}
		return d, nil
	}
	var end float64
	for _, e := range entries {
		if e.End > end {
			end = e.End
		}
	}
	if end <= 0 {
		return 0, fmt.Errorf("cannot determine duration: no audio and an empty timeline")
	}
	return end, nil
}

// tracks enables captions and the character on r per config
func (p *VideoProject) tracks(r *renderer.Renderer, opts RenderOptions, logger zerolog.Logger) error {
	cfg := p.Config
	if cfg.Captions.Enabled {
		if opts.Words == "" {
			logger.Warn().Msg("Captions enabled but no word list given, skipping captions")
		} else {
			words, err := timeline.ReadWords(opts.Words)
			if err != nil {
				return err
			}
			r.Captions = compositor.NewCaptionTrack(words, cfg.Captions)
			logger.Debug().Int("segments", len(r.Captions.Segments)).Msg("Captions clustered")
		}
	}

	if cfg.Character.Enabled {
		var phonemes []compositor.PhonemeInterval
		if cfg.Character.Phonemes != "" {
			var err error
			phonemes, err = compositor.ReadPhonemes(cfg.Character.Phonemes)
			if err != nil {
				return err
			}
		}
		lips, err := compositor.NewLipSync(phonemes, cfg.Character)
		if err != nil {
			return err
		}
		r.LipSync = lips
	}
	return nil
}

// encoder picks the video encoder and a quality default for it
func (p *VideoProject) encoder(ctx context.Context) (string, int) {
	name := p.Config.VideoEncoder
	if name == "" {
		name = system.GetBestH264Encoder(ctx)
		if name != "libx264" {
			p.Logger.Info().Str("encoder", name).Msg("Обнаружено аппаратное ускорение")
		}
	}
	return name, DefaultQuality(name, p.Config.Quality)
}

// DefaultQuality returns q, or the encoder's default when q is 0
func DefaultQuality(encoder string, q int) int {
	if q != 0 {
		return q
	}
	switch encoder {
	case "h264_videotoolbox":
		return 75 // Хорошее качество для VideoToolbox
	case "h264_nvenc":
		return 28 // Эквивалент CRF для NVENC
	default:
		return 23 // Стандартный CRF для x264
	}
}
