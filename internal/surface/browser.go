package surface

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ivlev/timeline2video/internal/compositor"
	"github.com/ivlev/timeline2video/internal/effects"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// Browser renders entries as DOM nodes in headless Chromium.
//
// The CDP animation domain runs at playback rate 0 and every Seek pauses all
// Web Animations and pins their currentTime to the entry-local absolute time,
// so CSS animations and transitions are sampled instead of played.
type Browser struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	shellDir string
}

var shellTemplate = template.Must(template.New("shell").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><base href="{{.Base}}">
<style>
{{if .FontURL}}@font-face{font-family:{{.Font}};src:url("{{.FontURL}}")}
{{end}}html,body{margin:0;padding:0;width:{{.Width}}px;height:{{.Height}}px;overflow:hidden;background:{{.Background}}}
#stage{position:absolute;left:0;top:0;width:100%;height:100%;transform-origin:50% 50%}
.entry{position:absolute;overflow:hidden;box-sizing:border-box}
.entry img{max-width:100%;max-height:100%}
.filler{display:flex;align-items:center;justify-content:center;width:100%;height:100%;background:#1e2533;color:#fff;font:600 36px sans-serif;text-align:center;padding:5%;box-sizing:border-box}
#character{position:absolute;display:none}
#character img{position:absolute;left:0;top:0;width:100%;height:100%}
#captions{position:absolute;display:none;box-sizing:border-box;left:{{.Caption.X}}px;top:{{.Caption.Y}}px;width:{{.Caption.W}}px;height:{{.Caption.H}}px;
  font-family:{{.Font}},sans-serif;font-size:{{.Size}}px;font-weight:{{.Weight}};color:{{.Color}};background:{{.CaptionBackground}};
  padding:{{.Padding}}px;border-radius:{{.Radius}}px;text-align:{{.Align}};line-height:{{.LineHeight}};
  align-items:center;justify-content:center;flex-wrap:wrap;overflow:hidden}
#captions .word.spoken{color:{{.Highlight}}}
</style>
<script>
window.t2v = {
  nodes: new Map(),
  mount(h, id, start, box, z, html) {
    const el = document.createElement('div');
    el.className = 'entry';
    el.dataset.id = id;
    el.dataset.start = String(start);
    el.style.left = box[0] + 'px';
    el.style.top = box[1] + 'px';
    el.style.width = box[2] + 'px';
    el.style.height = box[3] + 'px';
    el.style.zIndex = String(z);
    el.innerHTML = html;
    document.getElementById('stage').appendChild(el);
    this.nodes.set(h, el);
    const imgs = Array.from(el.querySelectorAll('img'));
    return Promise.all(imgs.map(img => img.complete ? null : new Promise(r => { img.onload = img.onerror = r; }))).then(() => true);
  },
  unmount(h) {
    const el = this.nodes.get(h);
    if (!el) return false;
    el.remove();
    this.nodes.delete(h);
    return true;
  },
  camera(transform) {
    document.getElementById('stage').style.transform = transform;
  },
  caption(visible, html) {
    const el = document.getElementById('captions');
    el.style.display = visible ? 'flex' : 'none';
    el.innerHTML = html;
  },
  character(visible, pose, sprite, box, z) {
    const el = document.getElementById('character');
    el.style.display = visible && pose ? 'block' : 'none';
    if (!visible || !pose) return Promise.resolve(true);
    el.style.left = box[0] + 'px';
    el.style.top = box[1] + 'px';
    el.style.width = box[2] + 'px';
    el.style.height = box[3] + 'px';
    el.style.zIndex = String(z);
    const set = (id, src) => {
      const img = document.getElementById(id);
      img.style.display = src ? 'block' : 'none';
      if (!src || img.getAttribute('src') === src) return null;
      return new Promise(r => { img.onload = img.onerror = r; img.setAttribute('src', src); });
    };
    return Promise.all([set('pose', pose), set('mouth', sprite)]).then(() => true);
  },
  seek(t) {
    const local = new Set();
    for (const el of this.nodes.values()) {
      const lt = Math.max(0, t - parseFloat(el.dataset.start));
      el.style.setProperty('--t', String(lt));
      for (const a of el.getAnimations({subtree: true})) {
        a.pause();
        a.currentTime = lt * 1000;
        local.add(a);
      }
    }
    for (const a of document.getAnimations()) {
      if (local.has(a)) continue;
      a.pause();
      a.currentTime = t * 1000;
    }
    return document.fonts.ready.then(() => new Promise(r => requestAnimationFrame(() => r(true))));
  },
};
</script></head>
<body><div id="stage"></div><div id="character"><img id="pose"><img id="mouth"></div><div id="captions"></div></body></html>
`))

type shellParams struct {
	Base              string
	Width, Height     int
	Background        string
	Caption           timeline.Box
	Font              string
	FontURL           string
	Size              int
	Weight            string
	Color             string
	Highlight         string
	CaptionBackground string
	Padding, Radius   int
	Align             string
	LineHeight        float64
}

// NewBrowser launches Chromium and loads the render shell
func NewBrowser(ctx context.Context, opts Options) (*Browser, error) {
	assetDir, err := filepath.Abs(opts.AssetDir)
	if err != nil {
		return nil, err
	}
	opts.AssetDir = assetDir

	shellDir, err := os.MkdirTemp("", "timeline2video_shell_")
	if err != nil {
		return nil, err
	}
	shellPath := filepath.Join(shellDir, "index.html")
	if err := writeShell(shellPath, opts); err != nil {
		os.RemoveAll(shellDir)
		return nil, err
	}

	l := launcher.New().Headless(true).
		Set("allow-file-access-from-files").
		Set("hide-scrollbars").
		Set("force-device-scale-factor", "1")
	if opts.ChromePath != "" {
		l = l.Bin(opts.ChromePath)
	}
	u, err := l.Launch()
	if err != nil {
		os.RemoveAll(shellDir)
		return nil, fmt.Errorf("error launching browser: %w", err)
	}

	b := &Browser{opts: opts, launcher: l, shellDir: shellDir}
	b.browser = rod.New().ControlURL(u).Context(ctx)
	if err := b.browser.Connect(); err != nil {
		b.Close()
		return nil, fmt.Errorf("error connecting to browser: %w", err)
	}

	if err := b.open(shellPath); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func writeShell(path string, opts Options) error {
	c := opts.Captions
	lineHeight := c.LineHeight
	if lineHeight <= 0 {
		lineHeight = 1.25
	}
	params := shellParams{
		Base:              (&url.URL{Scheme: "file", Path: filepath.ToSlash(opts.AssetDir) + "/"}).String(),
		Width:             opts.Width,
		Height:            opts.Height,
		Background:        opts.Background,
		Caption:           opts.CaptionBox(),
		Font:              cssFontFamily(c.Font),
		FontURL:           fontURL(opts.Resolve(c.Font)),
		Size:              c.Size,
		Weight:            c.Weight,
		Color:             c.Color,
		Highlight:         c.HighlightColor,
		CaptionBackground: c.Background,
		Padding:           c.Padding,
		Radius:            c.CornerRadius,
		Align:             c.TextAlign,
		LineHeight:        lineHeight,
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return shellTemplate.Execute(f, params)
}

// cssFontFamily quotes a family name. A font file is registered under its
// base name.
func cssFontFamily(font string) string {
	if font == "" {
		return "sans-serif"
	}
	return fmt.Sprintf("%q", strings.TrimSuffix(filepath.Base(font), filepath.Ext(font)))
}

func fontURL(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ttf", ".otf", ".woff", ".woff2":
		return fileURL(path)
	}
	return ""
}

func (b *Browser) open(shellPath string) error {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	b.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.Width,
		Height:            b.opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}

	shellURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(shellPath)}).String()
	if err := page.Timeout(30 * time.Second).Navigate(shellURL); err != nil {
		return fmt.Errorf("error navigating to shell: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("error waiting for shell load: %w", err)
	}

	// Animations must never advance on wall-clock time.
	if err := (proto.AnimationEnable{}).Call(page); err != nil {
		return fmt.Errorf("animation domain: %w", err)
	}
	if err := (proto.AnimationSetPlaybackRate{PlaybackRate: 0}).Call(page); err != nil {
		return fmt.Errorf("animation playback rate: %w", err)
	}
	return nil
}

func (b *Browser) eval(js string, args ...interface{}) error {
	_, err := b.page.Eval(js, args...)
	return err
}

func (b *Browser) Mount(h Handle, e timeline.Entry) error {
	box := []int{e.Box.X, e.Box.Y, e.Box.W, e.Box.H}
	if err := b.eval(`(h, id, start, box, z, html) => t2v.mount(h, id, start, box, z, html)`,
		int(h), e.ID, e.Start, box, e.Z, e.Content); err != nil {
		return fmt.Errorf("mount %s: %w", e.ID, err)
	}
	return nil
}

func (b *Browser) Unmount(h Handle) error {
	return b.eval(`h => t2v.unmount(h)`, int(h))
}

func (b *Browser) SetCamera(s effects.CameraState) error {
	if s.Scale <= 0 {
		s = effects.Identity
	}
	return b.eval(`css => t2v.camera(css)`, s.CSS())
}

func (b *Browser) SetCaption(s compositor.CaptionState) error {
	return b.eval(`(visible, html) => t2v.caption(visible, html)`, s.Visible, s.Markup)
}

func (b *Browser) SetCharacter(s compositor.CharacterState) error {
	if !s.Visible || s.Spec.Image == "" {
		return b.eval(`() => t2v.character(false)`)
	}
	box := characterBox(s, b.opts.Width, b.opts.Height)
	return b.eval(`(pose, sprite, box, z) => t2v.character(true, pose, sprite, box, z)`,
		fileURL(b.opts.Resolve(s.Spec.Image)), fileURL(b.opts.Resolve(s.Sprite)), box, s.Spec.Z)
}

// Seek pins every animation to t and waits for the next paint
func (b *Browser) Seek(t float64) error {
	return b.eval(`t => t2v.seek(t)`, t)
}

func (b *Browser) Capture(w io.Writer) error {
	data, err := b.page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (b *Browser) Close() error {
	if b.page != nil {
		b.page.Close()
	}
	if b.browser != nil {
		b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	if b.shellDir != "" {
		os.RemoveAll(b.shellDir)
	}
	return nil
}

func fileURL(path string) string {
	if path == "" || strings.Contains(path, "://") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// characterBox places the pose with its bottom-center on the anchor. Without
// the natural image size at hand the pose is sized relative to canvas height.
func characterBox(s compositor.CharacterState, width, height int) []int {
	scale := s.Spec.Scale
	if scale <= 0 {
		scale = 1
	}
	ax, ay := s.Spec.AnchorX, s.Spec.AnchorY
	if ax == 0 && ay == 0 {
		ax, ay = 0.85, 1
	}
	h := int(float64(height) * 0.5 * scale)
	w := h
	x := int(ax*float64(width)) - w/2
	y := int(ay*float64(height)) - h
	return []int{x, y, w, h}
}
