package analyzer

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
)

// page draws dark rectangles on a white page
func page(w, h int, rects ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for _, r := range rects {
		draw.Draw(img, r, image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	return img
}

func TestContrastDetector(t *testing.T) {
	img := page(200, 200, image.Rect(50, 50, 150, 150))

	blocks, err := NewContrastDetector().Detect(img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("Expected one block, got %d", len(blocks))
	}

	b := blocks[0].Rect
	t.Logf("Block: %v (area %d)", b, blocks[0].Area)
	if b.Dx() < 100 || b.Dy() < 100 || b.Dx() > 120 || b.Dy() > 120 {
		t.Errorf("Block does not match the drawn rectangle: %v", b)
	}
}

func TestContrastDetectorDropsNoise(t *testing.T) {
	img := page(200, 200, image.Rect(10, 10, 12, 12))
	blocks, _ := NewContrastDetector().Detect(img)
	if len(blocks) != 0 {
		t.Errorf("Expected speck to be ignored, got %v", blocks)
	}
}

func TestTrimMargins(t *testing.T) {
	tests := []struct {
		name  string
		img   image.Image
		check func(image.Rectangle) bool
	}{
		{
			name:  "two blocks",
			img:   page(400, 300, image.Rect(60, 40, 160, 120), image.Rect(200, 150, 340, 250)),
			check: func(r image.Rectangle) bool { return r.Min.X <= 60 && r.Min.Y <= 40 && r.Max.X >= 340 && r.Max.Y >= 250 && r.Dx() < 330 },
		},
		{
			name:  "blank page",
			img:   page(100, 100),
			check: func(r image.Rectangle) bool { return r == image.Rect(0, 0, 100, 100) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimMargins(tt.img, 8).Bounds()
			t.Logf("%s: %v -> %v", tt.name, tt.img.Bounds(), got)
			if !tt.check(got) {
				t.Errorf("Unexpected trimmed bounds %v", got)
			}
		})
	}
}
