// Package renderer turns a timeline into a PNG frame sequence by stepping a
// surface through absolute time, one frame at a time.
package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/ivlev/timeline2video/internal/compositor"
	"github.com/ivlev/timeline2video/internal/effects"
	"github.com/ivlev/timeline2video/internal/surface"
	"github.com/ivlev/timeline2video/internal/timeline"
)

var (
	ErrCaptureFailure     = errors.New("frame capture failed")
	ErrFrameCountMismatch = errors.New("frame count mismatch")
)

// Renderer drives one render job. Frames are produced strictly in order:
// the surface state of frame i+1 builds on frame i.
type Renderer struct {
	Surface surface.Surface
	Sink    FrameSink
	Clock   FrameClock
	Entries []timeline.Entry

	Camera   *effects.Camera
	Captions *compositor.CaptionTrack // nil disables captions
	LipSync  *compositor.LipSync      // nil disables the character track

	Logger       zerolog.Logger
	ShowProgress bool
}

// Stats summarizes a finished render
type Stats struct {
	Frames   int
	Mounts   int
	Unmounts int
	Elapsed  time.Duration
}

func NewRenderer(s surface.Surface, sink FrameSink, clock FrameClock, entries []timeline.Entry) *Renderer {
	return &Renderer{
		Surface: s,
		Sink:    sink,
		Clock:   clock,
		Entries: entries,
		Logger:  zerolog.Nop(),
	}
}

// Render produces every frame. It is not cancellable: a partial sequence
// would desynchronize audio, so any failure clears the sink and aborts.
func (r *Renderer) Render() (Stats, error) {
	start := time.Now()
	total := r.Clock.TotalFrames()
	if total == 0 {
		return Stats{}, fmt.Errorf("nothing to render: duration %.3fs at %d fps", r.Clock.Duration, r.Clock.FPS)
	}
	// Кадры прошлого запуска в том же каталоге сломали бы проверку количества
	if err := r.Sink.Clear(); err != nil {
		return Stats{}, fmt.Errorf("clear stale frames: %w", err)
	}

	r.Logger.Info().
		Int("frames", total).
		Int("entries", len(r.Entries)).
		Float64("duration", r.Clock.Duration).
		Int("fps", r.Clock.FPS).
		Msg("Rendering frames")

	var bar *progressbar.ProgressBar
	if r.ShowProgress {
		bar = progressbar.Default(int64(total), "Rendering")
	}

	a := newArena()
	for i := 0; i < total; i++ {
		if err := r.frame(a, i); err != nil {
			if cerr := r.Sink.Clear(); cerr != nil {
				r.Logger.Warn().Err(cerr).Msg("Failed to clear partial frames")
			}
			return Stats{}, err
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if err := a.clear(r.Surface); err != nil {
		return Stats{}, err
	}

	count, err := r.Sink.Count()
	if err != nil {
		return Stats{}, fmt.Errorf("count frames: %w", err)
	}
	if count != total {
		return Stats{}, fmt.Errorf("%w: produced %d, expected %d", ErrFrameCountMismatch, count, total)
	}

	stats := Stats{Frames: total, Mounts: a.mounts, Unmounts: a.unmounts, Elapsed: time.Since(start)}
	r.Logger.Info().
		Int("frames", stats.Frames).
		Int("mounts", stats.Mounts).
		Dur("elapsed", stats.Elapsed).
		Msg("Frames ready")
	return stats, nil
}

// frame pushes the state for frame i and captures it
func (r *Renderer) frame(a *arena, i int) error {
	t := r.Clock.TimeAt(i)
	active := timeline.Active(r.Entries, t)

	if err := a.reconcile(r.Surface, active); err != nil {
		return fmt.Errorf("frame %d: %w", i, err)
	}

	focal, ok := effects.Focal(active)
	camera := effects.Identity
	if ok && r.Camera != nil {
		camera = r.Camera.StateFor(focal, t)
	}
	if err := r.Surface.SetCamera(camera); err != nil {
		return fmt.Errorf("frame %d camera: %w", i, err)
	}

	if r.Captions != nil {
		if err := r.Surface.SetCaption(r.Captions.At(t)); err != nil {
			return fmt.Errorf("frame %d captions: %w", i, err)
		}
	}

	if r.LipSync != nil {
		if err := r.Surface.SetCharacter(r.LipSync.At(t, focal.Pose)); err != nil {
			return fmt.Errorf("frame %d character: %w", i, err)
		}
	}

	// Абсолютное время, а не дельта: результат не зависит от скорости рендера.
	if err := r.Surface.Seek(t); err != nil {
		return fmt.Errorf("frame %d seek: %w", i, err)
	}

	w, err := r.Sink.Create(i)
	if err != nil {
		return fmt.Errorf("%w: frame %d: %v", ErrCaptureFailure, i, err)
	}
	if err := r.Surface.Capture(w); err != nil {
		w.Close()
		return fmt.Errorf("%w: frame %d at %.4fs: %v", ErrCaptureFailure, i, t, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: frame %d: %v", ErrCaptureFailure, i, err)
	}

	r.Logger.Debug().Int("frame", i).Float64("t", t).Int("active", a.live()).Msg("Frame captured")
	return nil
}
