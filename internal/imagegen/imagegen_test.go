package imagegen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/timeline2video/internal/markup"
	"github.com/ivlev/timeline2video/internal/timeline"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatal(err)
	}
	// Pad past the minimum body size check.
	for buf.Len() < 200 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

type fakeGen struct {
	data     []byte
	failFor  map[string]int // prompt -> failures before success (-1 always fails)
	mu       sync.Mutex
	calls    map[string]int
	inflight int32
	peak     int32
}

func (g *fakeGen) Generate(ctx context.Context, prompt string, w, h int) ([]byte, error) {
	n := atomic.AddInt32(&g.inflight, 1)
	defer atomic.AddInt32(&g.inflight, -1)
	for {
		p := atomic.LoadInt32(&g.peak)
		if n <= p || atomic.CompareAndSwapInt32(&g.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[prompt]++
	if fails, ok := g.failFor[prompt]; ok && (fails < 0 || g.calls[prompt] <= fails) {
		return nil, errors.New("upstream 502")
	}
	return g.data, nil
}

func newTestFiller(t *testing.T, gen Generator) (*Filler, *[]time.Duration) {
	var delays []time.Duration
	f := &Filler{
		Gen:     gen,
		Dir:     t.TempDir(),
		Workers: 3,
		Retries: 3,
		Backoff: time.Second,
		Width:   640,
		Height:  360,
		Logger:  zerolog.Nop(),
	}
	f.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return f, &delays
}

func TestFillPartialSuccess(t *testing.T) {
	gen := &fakeGen{data: pngBytes(t), failFor: map[string]int{"broken": -1}}
	f, _ := newTestFiller(t, gen)
	f.Workers = 1

	entries := []timeline.Entry{
		{ID: "a", Content: `<img data-prompt="sunrise">`},
		{ID: "b", Content: `<img data-prompt="sunrise"><img data-prompt="broken">`},
		{ID: "c", Content: `<p>no images</p>`},
	}

	out, report, err := f.Fill(context.Background(), entries)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	t.Logf("Report: %+v", report)

	if report.Entries != 2 || report.Filled != 1 || report.Failed != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
	if len(markup.Placeholders(out[0].Content)) != 0 {
		t.Errorf("Entry a should be filled: %s", out[0].Content)
	}
	if out[1].Content != entries[1].Content {
		t.Errorf("Failed entry must keep its placeholders untouched: %s", out[1].Content)
	}
	if out[2].Content != entries[2].Content {
		t.Errorf("Entry without placeholders changed")
	}
	if gen.calls["broken"] != 3 {
		t.Errorf("Expected 3 attempts for the failing prompt, got %d", gen.calls["broken"])
	}
}

func TestGenerateBackoffDoubles(t *testing.T) {
	gen := &fakeGen{data: pngBytes(t), failFor: map[string]int{"flaky": 2}}
	f, delays := newTestFiller(t, gen)

	if _, err := f.generate(context.Background(), "flaky"); err != nil {
		t.Fatalf("Expected success on the third attempt: %v", err)
	}
	if len(*delays) != 2 || (*delays)[0] != time.Second || (*delays)[1] != 2*time.Second {
		t.Errorf("Unexpected backoff delays %v", *delays)
	}
}

func TestFillBoundedPool(t *testing.T) {
	gen := &fakeGen{data: pngBytes(t)}
	f, _ := newTestFiller(t, gen)

	var entries []timeline.Entry
	for _, p := range []string{"one", "two", "three", "four", "five", "six", "seven", "eight"} {
		entries = append(entries, timeline.Entry{ID: p, Content: `<img data-prompt="` + p + `">`})
	}
	if _, report, err := f.Fill(context.Background(), entries); err != nil || report.Filled != 8 {
		t.Fatalf("Fill: %+v %v", report, err)
	}
	if gen.peak > 3 {
		t.Errorf("More than 3 concurrent generations: %d", gen.peak)
	}
}

func TestFillReusesCachedImages(t *testing.T) {
	gen := &fakeGen{data: pngBytes(t)}
	f, _ := newTestFiller(t, gen)
	entries := []timeline.Entry{{ID: "a", Content: `<img data-prompt="cached">`}}

	first, _, err := f.Fill(context.Background(), entries)
	if err != nil {
		t.Fatal(err)
	}
	second, report, err := f.Fill(context.Background(), entries)
	if err != nil {
		t.Fatal(err)
	}
	if report.Generated != 0 || gen.calls["cached"] != 1 {
		t.Errorf("Expected cache hit, report %+v calls %d", report, gen.calls["cached"])
	}
	if first[0].Content != second[0].Content {
		t.Errorf("Cached run produced different content")
	}
	if !strings.Contains(first[0].Content, ".png") {
		t.Errorf("Expected png extension in %s", first[0].Content)
	}
}

func TestPollinations(t *testing.T) {
	body := pngBytes(t)
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		if strings.Contains(r.URL.Path, "fail") {
			w.Write([]byte("<html>rate limited</html>"))
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	p := NewPollinations(srv.URL + "/prompt")
	data, err := p.Generate(context.Background(), "red fox", 640, 360)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, body) {
		t.Error("Body mismatch")
	}
	if gotPath != "/prompt/red fox" {
		t.Errorf("Unexpected path %q", gotPath)
	}
	if !strings.Contains(gotQuery, "width=640&height=360&nologo=true&seed=") {
		t.Errorf("Unexpected query %q", gotQuery)
	}

	if _, err := p.Generate(context.Background(), "fail", 1, 1); err == nil {
		t.Error("Expected error for non-image body")
	}
}

func TestSeedIsStable(t *testing.T) {
	if Seed("a red fox") != Seed("a red fox") || Seed("a") == Seed("b") {
		t.Error("Seed must be stable and prompt-specific")
	}
}
