package renderer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FramePattern is the file name pattern of the frame sequence
const FramePattern = "frame_%06d.png"

// FrameSink stores captured frames in order
type FrameSink interface {
	Create(i int) (io.WriteCloser, error)
	Count() (int, error)
	// Clear removes every frame written so far
	Clear() error
}

// DirSink writes frames as numbered PNG files in one directory
type DirSink struct {
	Dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DirSink{Dir: dir}, nil
}

// Pattern returns the ffmpeg input pattern for the sequence
func (d *DirSink) Pattern() string {
	return filepath.Join(d.Dir, FramePattern)
}

func (d *DirSink) Create(i int) (io.WriteCloser, error) {
	return os.Create(filepath.Join(d.Dir, fmt.Sprintf(FramePattern, i)))
}

func (d *DirSink) Count() (int, error) {
	return CountFrames(d.Dir)
}

func (d *DirSink) Clear() error {
	matches, err := filepath.Glob(filepath.Join(d.Dir, "frame_*.png"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}

// CountFrames counts the frame files in dir
func CountFrames(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}
