// Package imagegen fills <img data-prompt="..."> placeholders in timeline
// content with generated images.
package imagegen

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/markup"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// Generator produces image bytes for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string, width, height int) ([]byte, error)
}

// Pollinations generates images via Pollinations.ai (free, no key needed)
type Pollinations struct {
	Endpoint string
	Client   *http.Client
}

func NewPollinations(endpoint string) *Pollinations {
	if endpoint == "" {
		endpoint = "https://image.pollinations.ai/prompt/"
	}
	return &Pollinations{Endpoint: endpoint, Client: &http.Client{}}
}

func (p *Pollinations) Generate(ctx context.Context, prompt string, width, height int) ([]byte, error) {
	// Format: {endpoint}{encoded_prompt}?params
	imageURL := fmt.Sprintf("%s%s?width=%d&height=%d&nologo=true&seed=%d",
		strings.TrimSuffix(p.Endpoint, "/")+"/", url.PathEscape(prompt), width, height, Seed(prompt))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; timeline2video/1.0)")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Host)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// Error pages come back as tiny HTML bodies.
	if len(data) < 100 || !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return nil, fmt.Errorf("response is not an image (%d bytes, %s)", len(data), http.DetectContentType(data))
	}
	return data, nil
}

// Seed is a deterministic per-prompt seed so reruns fetch the same image
func Seed(prompt string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return h.Sum32() % 1_000_000
}

// Report counts the outcome of a Fill
type Report struct {
	Entries   int // entries that had placeholders
	Filled    int // entries whose placeholders were all replaced
	Failed    int
	Generated int // images fetched (cache hits excluded)
}

// Filler runs generation tasks on a bounded pool
type Filler struct {
	Gen     Generator
	Dir     string
	Workers int
	Retries int
	Backoff time.Duration
	Timeout time.Duration // per request
	Width   int
	Height  int
	Logger  zerolog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	flight singleflight.Group // one generation per prompt across entries
	mu     sync.Mutex
	gen    int
}

// NewFiller wires a generator with the imagegen config section
func NewFiller(gen Generator, cfg config.ImageGenConfig, width, height int, logger zerolog.Logger) *Filler {
	return &Filler{
		Gen:     gen,
		Dir:     cfg.Dir,
		Workers: cfg.Workers,
		Retries: cfg.Retries,
		Backoff: time.Duration(cfg.Backoff * float64(time.Second)),
		Timeout: time.Duration(cfg.Timeout * float64(time.Second)),
		Width:   width,
		Height:  height,
		Logger:  logger,
	}
}

// Fill generates images for every entry with placeholders. An entry is
// updated only when all of its images succeed; a failed entry keeps its
// placeholders and the run continues.
func (f *Filler) Fill(ctx context.Context, entries []timeline.Entry) ([]timeline.Entry, Report, error) {
	var report Report
	out := append([]timeline.Entry(nil), entries...)
	f.mu.Lock()
	f.gen = 0
	f.mu.Unlock()

	var todo []int
	for i, e := range entries {
		if len(markup.Placeholders(e.Content)) > 0 {
			todo = append(todo, i)
		}
	}
	report.Entries = len(todo)
	if len(todo) == 0 {
		return out, report, nil
	}

	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return nil, report, err
	}

	workers := f.Workers
	if workers <= 0 {
		workers = 3
	}

	results := make([]map[string]string, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, idx := range todo {
		g.Go(func() error {
			srcs, err := f.entryImages(gctx, entries[idx])
			if err != nil {
				f.Logger.Warn().Err(err).Str("entry", entries[idx].ID).Msg("Placeholder left in place")
				return nil
			}
			results[idx] = srcs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, err
	}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	for _, idx := range todo {
		if results[idx] == nil {
			report.Failed++
			continue
		}
		out[idx].Content = markup.FillPlaceholders(out[idx].Content, results[idx])
		report.Filled++
	}
	report.Generated = f.gen

	f.Logger.Info().
		Int("entries", report.Entries).
		Int("filled", report.Filled).
		Int("failed", report.Failed).
		Int("generated", report.Generated).
		Msg("Placeholder images done")
	return out, report, nil
}

// entryImages resolves every placeholder of one entry, all or nothing
func (f *Filler) entryImages(ctx context.Context, e timeline.Entry) (map[string]string, error) {
	srcs := make(map[string]string)
	for _, p := range markup.Placeholders(e.Content) {
		if _, ok := srcs[p.Prompt]; ok {
			continue
		}
		path, err := f.image(ctx, p.Prompt)
		if err != nil {
			return nil, err
		}
		srcs[p.Prompt] = path
	}
	return srcs, nil
}

// image returns the file for prompt, generating it when not cached
func (f *Filler) image(ctx context.Context, prompt string) (string, error) {
	v, err, _ := f.flight.Do(prompt, func() (any, error) {
		return f.fetch(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Filler) fetch(ctx context.Context, prompt string) (string, error) {
	base := filepath.Join(f.Dir, "gen_"+fileKey(prompt))
	for _, ext := range []string{".png", ".jpg", ".webp", ".gif"} {
		if _, err := os.Stat(base + ext); err == nil {
			return filepath.Abs(base + ext)
		}
	}

	data, err := f.generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	path := base + extension(data)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.gen++
	f.mu.Unlock()

	f.Logger.Debug().Str("prompt", truncate(prompt, 60)).Str("file", path).Msg("Image generated")
	return filepath.Abs(path)
}

// generate retries with exponential backoff: Backoff, 2×Backoff, ...
func (f *Filler) generate(ctx context.Context, prompt string) ([]byte, error) {
	attempts := f.Retries
	if attempts <= 0 {
		attempts = 1
	}
	sleep := f.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	delay := f.Backoff
	for attempt := 1; attempt <= attempts; attempt++ {
		var data []byte
		data, err = f.once(ctx, prompt)
		if err == nil {
			return data, nil
		}
		f.Logger.Debug().Err(err).Int("attempt", attempt).Str("prompt", truncate(prompt, 60)).Msg("Generation attempt failed")
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, delay); serr != nil {
			return nil, serr
		}
		delay *= 2
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", attempts, err)
}

func (f *Filler) once(ctx context.Context, prompt string) ([]byte, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	return f.Gen.Generate(ctx, prompt, f.Width, f.Height)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fileKey(prompt string) string {
	h := fnv.New64a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("%016x", h.Sum64())
}

func extension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
