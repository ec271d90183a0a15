// Package assets checks that everything a render job references exists
// before any frame is produced, and prepares content for the surfaces.
package assets

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ivlev/timeline2video/internal/analyzer"
	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/markup"
	"github.com/ivlev/timeline2video/internal/source"
	"github.com/ivlev/timeline2video/internal/timeline"
)

var ErrMissingAsset = errors.New("missing asset")

// Missing describes one unresolved reference
type Missing struct {
	Kind  string // audio, image, overlay, font, pose, sprite, phonemes, logo
	Ref   string
	Owner string // entry id or config key
	Cause string
}

func (m Missing) Error() string {
	msg := fmt.Sprintf("%s %q (%s)", m.Kind, m.Ref, m.Owner)
	if m.Cause != "" {
		msg += ": " + m.Cause
	}
	return msg
}

func (m Missing) Unwrap() error { return ErrMissingAsset }

// MissingAssetsError reports every missing asset of a job at once
type MissingAssetsError struct {
	Missing []Missing
}

func (e *MissingAssetsError) Error() string {
	lines := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		lines[i] = "  " + m.Error()
	}
	return fmt.Sprintf("%d missing asset(s):\n%s", len(e.Missing), strings.Join(lines, "\n"))
}

func (e *MissingAssetsError) Unwrap() []error {
	out := make([]error, len(e.Missing))
	for i, m := range e.Missing {
		out[i] = m
	}
	return out
}

// Job lists what a render references
type Job struct {
	Audio    string
	Entries  []timeline.Entry
	AssetDir string // base for relative references in content
	Config   *config.Config
}

func (j Job) resolve(ref string) string {
	if ref == "" || filepath.IsAbs(ref) || IsRemote(ref) {
		return ref
	}
	return filepath.Join(j.AssetDir, ref)
}

// IsRemote reports references the validator cannot check on disk
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:")
}

// Validate checks every referenced file and returns a *MissingAssetsError
// listing all of them, or nil.
func Validate(j Job) error {
	v := &validator{}

	if j.Audio != "" {
		v.file("audio", j.Audio, "audio")
	}

	for _, e := range j.Entries {
		for _, ref := range markup.Parse(e.Content).Images {
			if IsRemote(ref) {
				continue
			}
			v.image(j.resolve(ref), "entry "+e.ID)
		}
	}

	if cfg := j.Config; cfg != nil {
		if cfg.Overlay.Path != "" {
			v.file("overlay", cfg.Overlay.Path, "overlay.path")
		}
		if cfg.Captions.Enabled && isFontFile(cfg.Captions.Font) {
			v.file("font", j.resolve(cfg.Captions.Font), "captions.font")
		}
		if ch := cfg.Character; ch.Enabled {
			names := make([]string, 0, len(ch.Poses))
			for name := range ch.Poses {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				v.file("pose", j.resolve(ch.Poses[name].Image), "character.poses."+name)
			}

			codes := make([]string, 0, len(ch.Sprites))
			for code := range ch.Sprites {
				codes = append(codes, code)
			}
			sort.Strings(codes)
			for _, code := range codes {
				v.file("sprite", j.resolve(ch.Sprites[code]), "character.sprites."+code)
			}
			if ch.Phonemes != "" {
				v.file("phonemes", ch.Phonemes, "character.phonemes")
			}
		}
		if cfg.Branding.Enabled && cfg.Branding.Logo != "" {
			v.file("logo", j.resolve(cfg.Branding.Logo), "branding.logo")
		}
	}

	if len(v.missing) == 0 {
		return nil
	}
	return &MissingAssetsError{Missing: v.missing}
}

type validator struct {
	missing []Missing
	seen    map[string]bool
}

func (v *validator) add(m Missing) {
	key := m.Kind + "\x00" + m.Ref + "\x00" + m.Owner
	if v.seen == nil {
		v.seen = make(map[string]bool)
	}
	if v.seen[key] {
		return
	}
	v.seen[key] = true
	v.missing = append(v.missing, m)
}

func (v *validator) file(kind, path, owner string) {
	if path == "" {
		v.add(Missing{Kind: kind, Ref: path, Owner: owner, Cause: "empty path"})
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		v.add(Missing{Kind: kind, Ref: path, Owner: owner})
		return
	}
	if info.IsDir() {
		v.add(Missing{Kind: kind, Ref: path, Owner: owner, Cause: "is a directory"})
	}
}

// image checks a content reference, including the page of "deck.pdf#3"
func (v *validator) image(ref, owner string) {
	path, page := source.SplitRef(ref)
	if _, err := os.Stat(path); err != nil {
		v.add(Missing{Kind: "image", Ref: ref, Owner: owner})
		return
	}
	if !source.IsPDF(path) {
		return
	}
	src, err := source.Open(path)
	if err != nil {
		v.add(Missing{Kind: "image", Ref: ref, Owner: owner, Cause: err.Error()})
		return
	}
	defer src.Close()
	if page >= src.PageCount() {
		v.add(Missing{Kind: "image", Ref: ref, Owner: owner, Cause: fmt.Sprintf("page %d of %d", page+1, src.PageCount())})
	}
}

func isFontFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ttf", ".otf", ".woff", ".woff2":
		return true
	}
	return false
}

// RasterizePages renders every PDF page referenced by content into dir and
// points the markup at the PNG. Browsers cannot show a PDF page as an image.
func RasterizePages(entries []timeline.Entry, assetDir, dir string, dpi int, trim bool) ([]timeline.Entry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	rendered := make(map[string]string)
	var firstErr error

	out := make([]timeline.Entry, len(entries))
	for i, e := range entries {
		e.Content = markup.RewriteSources(e.Content, func(src string) (string, bool) {
			path, page := source.SplitRef(src)
			if IsRemote(src) || !source.IsPDF(path) {
				return "", false
			}
			if cached, ok := rendered[src]; ok {
				return cached, true
			}
			if !filepath.IsAbs(path) {
				path = filepath.Join(assetDir, path)
			}
			target := filepath.Join(dir, fmt.Sprintf("page_%03d.png", len(rendered)+1))
			if err := renderPage(path, page, dpi, trim, target); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("entry %s: %w", e.ID, err)
				}
				return "", false
			}
			rendered[src] = target
			return target, true
		})
		out[i] = e
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func renderPage(path string, page, dpi int, trim bool, target string) error {
	img, err := source.LoadRef(fmt.Sprintf("%s#%d", path, page+1), dpi)
	if err != nil {
		return err
	}
	if trim {
		img = analyzer.TrimMargins(img, dpi/6)
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
