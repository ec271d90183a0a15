package renderer

import "math"

// FrameClock maps frame indices to absolute timeline time
type FrameClock struct {
	Duration float64 // seconds of audio
	FPS      int
}

// TotalFrames returns ceil(Duration*FPS). The small epsilon keeps float
// noise such as 10.000000000001*30 from adding a frame.
func (c FrameClock) TotalFrames() int {
	if c.FPS <= 0 || c.Duration <= 0 {
		return 0
	}
	return int(math.Ceil(c.Duration*float64(c.FPS) - 1e-9))
}

// TimeAt returns the instant frame i samples
func (c FrameClock) TimeAt(i int) float64 {
	return float64(i) / float64(c.FPS)
}
