package engine

import (
	"fmt"
	"html"
	"path/filepath"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// BrandingID is the id of the branding entry
const BrandingID = "branding"

const brandingQRFile = "branding_qr.png"

// BrandingEntry builds an entry spanning the whole render with the logo, a
// QR code for the URL and the text. It sits above every timeline entry.
func BrandingEntry(cfg *config.Config, duration float64, dir, assetDir string) (timeline.Entry, error) {
	b := cfg.Branding

	var parts []string
	if b.Logo != "" {
		logo := b.Logo
		if !filepath.IsAbs(logo) {
			logo = filepath.Join(assetDir, logo)
		}
		parts = append(parts, fmt.Sprintf(`<img class="logo" src="%s">`, html.EscapeString(logo)))
	}
	if b.URL != "" {
		qr := filepath.Join(dir, brandingQRFile)
		if err := qrcode.WriteFile(b.URL, qrcode.Medium, 256, qr); err != nil {
			return timeline.Entry{}, err
		}
		abs, err := filepath.Abs(qr)
		if err != nil {
			return timeline.Entry{}, err
		}
		parts = append(parts, fmt.Sprintf(`<img class="qr" src="%s">`, html.EscapeString(abs)))
	}
	if b.Text != "" {
		parts = append(parts, "<p>"+html.EscapeString(b.Text)+"</p>")
	}

	box := timeline.Box{
		X: cfg.Width - cfg.Width/5 - 24,
		Y: 24,
		W: cfg.Width / 5,
		H: cfg.Height / 6,
	}
	if len(b.Box) == 4 {
		box = timeline.Box{X: b.Box[0], Y: b.Box[1], W: b.Box[2], H: b.Box[3]}
	}

	return timeline.Entry{
		ID:      BrandingID,
		Start:   0,
		End:     duration,
		Box:     box.Clip(cfg.Width, cfg.Height),
		Content: `<div class="branding">` + strings.Join(parts, "") + `</div>`,
		Z:       1 << 20,
		Kind:    timeline.KindBranding,
	}, nil
}
