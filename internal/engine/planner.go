package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/director"
	"github.com/ivlev/timeline2video/internal/imagegen"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// Planner turns a plan file into the timeline contract
type Planner struct {
	Config *config.Config
	Images *imagegen.Filler // nil skips placeholder generation
	Logger zerolog.Logger
}

func NewPlanner(cfg *config.Config, logger zerolog.Logger) *Planner {
	return &Planner{Config: cfg, Logger: logger}
}

func (p *Planner) director() *director.Director {
	d := director.NewDirector(p.Config.Width, p.Config.Height)
	c := p.Config.Coverage
	if c.MinShotDuration > 0 {
		d.MinShotDuration = c.MinShotDuration
	}
	if c.DurationFloor > 0 {
		d.DurationFloor = c.DurationFloor
	}
	if c.MinGap > 0 {
		d.MinGap = c.MinGap
	}
	if c.Tolerance > 0 {
		d.Tolerance = c.Tolerance
	}
	if c.FillerMaxWords > 0 {
		d.FillerMaxWords = c.FillerMaxWords
	}
	d.Logger = p.Logger
	return d
}

// Plan resolves every segment, assembles the schedule and fills image
// placeholders. Segments are independent, so they resolve concurrently.
func (p *Planner) Plan(ctx context.Context, plan *timeline.Plan) ([]timeline.Entry, error) {
	plan.Normalize()
	n := len(plan.Segments)
	if n == 0 {
		return nil, fmt.Errorf("plan has no segments")
	}

	// Ограничиваем пул: сегментов обычно немного, больше 4 потоков не нужно.
	workers := p.Config.Workers
	if workers <= 0 || workers > 4 {
		workers = 4
	}
	if workers > n {
		workers = n
	}

	perSegment := make([][]timeline.Entry, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, seg := range plan.Segments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entries, err := p.director().ResolveSegment(seg)
			if err != nil {
				return err
			}
			perSegment[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := timeline.Assemble(perSegment)
	p.Logger.Info().Int("segments", n).Int("entries", len(entries)).Int("workers", workers).Msg("Timeline assembled")

	if p.Images != nil {
		filled, _, err := p.Images.Fill(ctx, entries)
		if err != nil {
			return nil, fmt.Errorf("image generation: %w", err)
		}
		entries = filled
	}
	return entries, nil
}

// Run reads planPath, plans it and writes the contract. An empty outPath
// gets a timestamped name in output/timelines.
func (p *Planner) Run(ctx context.Context, planPath, outPath string) (string, error) {
	start := time.Now()

	plan, err := timeline.ReadPlan(planPath)
	if err != nil {
		return "", err
	}

	entries, err := p.Plan(ctx, plan)
	if err != nil {
		return "", err
	}

	if outPath == "" {
		outPath = timeline.GenerateTimelinePath(filepath.Join("output", "timelines"))
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", err
	}
	if err := timeline.WriteTimeline(entries, outPath); err != nil {
		return "", err
	}

	p.Logger.Info().Str("timeline", outPath).Dur("elapsed", time.Since(start)).Msg("Timeline written")
	return outPath, nil
}
