// Package analyzer finds the content area of rasterized pages so slide
// margins can be cropped before a page is fitted into its box.
package analyzer

import "image"

// Block is one connected region of content
type Block struct {
	Rect image.Rectangle
	Area int // pixels set in the edge mask
}

// Detector finds content blocks in a page image
type Detector interface {
	Detect(img image.Image) ([]Block, error)
}

var pageDetector Detector = NewContrastDetector()

// Bounds is the union of all blocks, or an empty rectangle
func Bounds(blocks []Block) image.Rectangle {
	var r image.Rectangle
	for _, b := range blocks {
		r = r.Union(b.Rect)
	}
	return r
}

// TrimMargins crops img to its detected content plus pad pixels on each
// side. Pages with no detectable content, or whose content already fills
// the page, come back unchanged.
func TrimMargins(img image.Image, pad int) image.Image {
	blocks, err := pageDetector.Detect(img)
	if err != nil || len(blocks) == 0 {
		return img
	}
	full := img.Bounds()
	r := Bounds(blocks).Inset(-pad).Intersect(full)
	if r.Empty() || r == full {
		return img
	}

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			out.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return out
}
