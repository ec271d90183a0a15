package analyzer

import (
	"image"
	"image/draw"
	"math"
)

// ContrastDetector marks strong gradients with a Sobel pass, joins nearby
// marks by dilation and reports the bounding box of each connected group.
type ContrastDetector struct {
	MinBlockArea  int     // bounding box area below which a group is noise
	EdgeThreshold float64 // gradient magnitude threshold
	Radius        int     // dilation radius
	Passes        int
}

func NewContrastDetector() *ContrastDetector {
	return &ContrastDetector{
		MinBlockArea:  500,
		EdgeThreshold: 30.0,
		Radius:        2,
		Passes:        2,
	}
}

func (d *ContrastDetector) Detect(img image.Image) ([]Block, error) {
	gray := toGray(img)
	mask := sobel(gray, d.EdgeThreshold)
	for i := 0; i < d.Passes; i++ {
		mask = dilate(mask, d.Radius)
	}

	var blocks []Block
	for _, b := range components(mask) {
		if b.Rect.Dx()*b.Rect.Dy() >= d.MinBlockArea {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}

// edgeMask is a binary image in the source's coordinates
type edgeMask struct {
	rect image.Rectangle
	on   []bool
}

func newMask(r image.Rectangle) *edgeMask {
	return &edgeMask{rect: r, on: make([]bool, r.Dx()*r.Dy())}
}

func (m *edgeMask) at(x, y int) bool {
	if !(image.Point{X: x, Y: y}).In(m.rect) {
		return false
	}
	return m.on[(y-m.rect.Min.Y)*m.rect.Dx()+x-m.rect.Min.X]
}

func (m *edgeMask) set(x, y int) {
	m.on[(y-m.rect.Min.Y)*m.rect.Dx()+x-m.rect.Min.X] = true
}

var (
	sobelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

func sobel(g *image.Gray, threshold float64) *edgeMask {
	b := g.Bounds()
	mask := newMask(b)
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			var gx, gy float64
			for ky := 0; ky < 3; ky++ {
				for kx := 0; kx < 3; kx++ {
					v := float64(g.GrayAt(x+kx-1, y+ky-1).Y)
					gx += v * sobelX[ky][kx]
					gy += v * sobelY[ky][kx]
				}
			}
			if math.Hypot(gx, gy) > threshold {
				mask.set(x, y)
			}
		}
	}
	return mask
}

// dilate grows every set pixel into a square of the given radius
func dilate(m *edgeMask, radius int) *edgeMask {
	out := newMask(m.rect)
	for y := m.rect.Min.Y; y < m.rect.Max.Y; y++ {
		for x := m.rect.Min.X; x < m.rect.Max.X; x++ {
			if !m.at(x, y) {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					if (image.Point{X: x + dx, Y: y + dy}).In(m.rect) {
						out.set(x+dx, y+dy)
					}
				}
			}
		}
	}
	return out
}

// components labels 4-connected groups and returns their bounding boxes
func components(m *edgeMask) []Block {
	seen := newMask(m.rect)
	var blocks []Block
	var stack []image.Point

	for y := m.rect.Min.Y; y < m.rect.Max.Y; y++ {
		for x := m.rect.Min.X; x < m.rect.Max.X; x++ {
			if !m.at(x, y) || seen.at(x, y) {
				continue
			}
			b := Block{Rect: image.Rect(x, y, x+1, y+1)}
			seen.set(x, y)
			stack = append(stack[:0], image.Point{X: x, Y: y})
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				b.Area++
				b.Rect = b.Rect.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
				for _, n := range [4]image.Point{{X: p.X + 1, Y: p.Y}, {X: p.X - 1, Y: p.Y}, {X: p.X, Y: p.Y + 1}, {X: p.X, Y: p.Y - 1}} {
					if m.at(n.X, n.Y) && !seen.at(n.X, n.Y) {
						seen.set(n.X, n.Y)
						stack = append(stack, n)
					}
				}
			}
			blocks = append(blocks, b)
		}
	}
	return blocks
}
